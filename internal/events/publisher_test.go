package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeConn struct {
	subjects []string
	bodies   [][]byte
	err      error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.bodies = append(f.bodies, data)
	return nil
}

func TestPublish(t *testing.T) {
	fc := &fakeConn{}
	p := NewPublisher(fc, "fieldsales", zerolog.Nop())

	p.Publish(context.Background(), VisitCheckedIn, "visit-1", "user-1", map[string]interface{}{"company_id": "c1"})

	if len(fc.subjects) != 1 {
		t.Fatalf("published %d events, want 1", len(fc.subjects))
	}
	if fc.subjects[0] != "fieldsales.visit.checked_in" {
		t.Errorf("subject = %q", fc.subjects[0])
	}

	var ev Event
	if err := json.Unmarshal(fc.bodies[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != VisitCheckedIn || ev.ResourceID != "visit-1" || ev.ActorID != "user-1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Payload["company_id"] != "c1" {
		t.Errorf("payload = %v", ev.Payload)
	}
}

func TestPublishErrorIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := NewPublisher(fc, "fieldsales", zerolog.New(&buf))

	p.Publish(context.Background(), VisitCheckedOut, "visit-1", "user-1", nil)

	if !strings.Contains(buf.String(), "failed to publish") {
		t.Errorf("expected warning in log, got %q", buf.String())
	}
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), VisitCompleted, "visit-1", "", nil)

	disabled, closeFn, err := Connect("", "fieldsales", zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer closeFn()
	disabled.Publish(context.Background(), VisitCompleted, "visit-1", "", nil)
}

func TestSubjectWithoutPrefix(t *testing.T) {
	p := NewPublisher(&fakeConn{}, "", zerolog.Nop())
	if got := p.Subject(VisitCancelled); got != "visit.cancelled" {
		t.Errorf("Subject = %q, want visit.cancelled", got)
	}
}
