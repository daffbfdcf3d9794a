package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fieldsales-server/internal/cache"
	"fieldsales-server/internal/events"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/storage"
)

type recordingConn struct {
	events []events.Event
}

func (r *recordingConn) Publish(_ string, data []byte) error {
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingConn) last(t *testing.T, eventType string) events.Event {
	t.Helper()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i]
		}
	}
	t.Fatalf("no %s event published", eventType)
	return events.Event{}
}

func TestVisitEventsCarryResultingStatus(t *testing.T) {
	f := newVisitFixture(t)
	rc := &recordingConn{}
	store, err := storage.NewLocal(t.TempDir(), "http://localhost/uploads")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	f.svc = NewVisitService(f.db, store, cache.Noop{}, events.NewPublisher(rc, "fieldsales", zerolog.Nop()), zerolog.Nop(), VisitOptions{
		GeofenceRadiusMeters: 200,
		CacheTTL:             time.Minute,
		PhotoMaxWidth:        64,
		PhotoMaxHeight:       64,
	})
	ctx := context.Background()
	v := f.checkIn(t)

	if _, err := f.svc.UploadPhoto(ctx, f.rep.ID, v.ID, PhotoInput{Data: testImage(t)}); err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	if _, err := f.svc.CreateFollowUp(ctx, f.rep.ID, v.ID, FollowUpInput{DueDate: time.Now().Add(24 * time.Hour)}); err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	// a second photo after the follow-up leaves the status alone
	if _, err := f.svc.UploadPhoto(ctx, f.rep.ID, v.ID, PhotoInput{Data: testImage(t)}); err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	if _, err := f.svc.RecordPayment(ctx, f.rep.ID, v.ID, PaymentInput{Amount: decimal.NewFromInt(75), PaymentMethod: models.PaymentCash}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	photos := 0
	for _, ev := range rc.events {
		if ev.Type != events.VisitPhotoUploaded {
			continue
		}
		photos++
		want := models.VisitStatusPhotosUploaded
		if photos == 2 {
			want = models.VisitStatusDetailsCaptured
		}
		if ev.Payload["status"] != string(want) {
			t.Errorf("photo event %d status = %v, want %s", photos, ev.Payload["status"], want)
		}
	}
	if photos != 2 {
		t.Fatalf("published %d photo events, want 2", photos)
	}

	followUp := rc.last(t, events.VisitFollowUpCreated)
	if followUp.Payload["status"] != string(models.VisitStatusDetailsCaptured) {
		t.Errorf("follow-up event status = %v", followUp.Payload["status"])
	}
	payment := rc.last(t, events.VisitPaymentRecorded)
	if payment.Payload["status"] != string(models.VisitStatusPaymentRecorded) || payment.ActorID != f.rep.ID || payment.ResourceID != v.ID {
		t.Errorf("payment event = %+v", payment)
	}
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusPaymentRecorded {
		t.Errorf("stored status = %s, want PAYMENT_RECORDED", got)
	}
}

func TestErrNotFoundMatchesAnyNotFound(t *testing.T) {
	f := newVisitFixture(t)
	_, err := f.svc.ActiveVisit(context.Background(), f.rep.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(%v, ErrNotFound) = false", err)
	}
	if errors.Is(Conflict("busy"), ErrNotFound) {
		t.Error("a conflict matched ErrNotFound")
	}
	if errors.Is(NotFound("visit not found"), &Error{Kind: KindNotFound, Message: "other"}) {
		t.Error("a message-bearing target matched")
	}
}
