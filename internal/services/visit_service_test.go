package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fieldsales-server/internal/cache"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/storage"
	"fieldsales-server/internal/testutil"
)

type visitFixture struct {
	db      *gorm.DB
	svc     *VisitService
	rep     *models.User
	other   *models.User
	company *models.Company
	second  *models.Company
}

func newVisitFixture(t *testing.T) *visitFixture {
	t.Helper()
	db := testutil.NewDB(t)
	store, err := storage.NewLocal(t.TempDir(), "http://localhost/uploads")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	svc := NewVisitService(db, store, cache.NewMemory(time.Minute), nil, zerolog.Nop(), VisitOptions{
		GeofenceRadiusMeters: 200,
		CacheTTL:             time.Minute,
		PhotoMaxWidth:        64,
		PhotoMaxHeight:       64,
	})
	return &visitFixture{
		db:      db,
		svc:     svc,
		rep:     testutil.CreateUser(t, db, "rep@example.com", models.RoleSalesRep),
		other:   testutil.CreateUser(t, db, "other@example.com", models.RoleSalesRep),
		company: testutil.CreateCompany(t, db, "Acme Traders", testutil.Float(12.9716), testutil.Float(77.5946)),
		second:  testutil.CreateCompany(t, db, "Globex", nil, nil),
	}
}

func (f *visitFixture) checkIn(t *testing.T) *models.Visit {
	t.Helper()
	v, err := f.svc.CheckIn(context.Background(), f.rep.ID, CheckInInput{CompanyID: f.company.ID, Purpose: "Quarterly review", Notes: "met client"})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	return v
}

func (f *visitFixture) reload(t *testing.T, id string) *models.Visit {
	t.Helper()
	var v models.Visit
	if err := f.db.First(&v, "id = ?", id).Error; err != nil {
		t.Fatalf("reload visit: %v", err)
	}
	return &v
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for x := 0; x < 120; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(y), B: uint8(x), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("kind = %s, want %s (err: %v)", got, want, err)
	}
}

// endTime is set exactly when the status is terminal.
func assertEndTimeInvariant(t *testing.T, v *models.Visit) {
	t.Helper()
	if v.Status.IsTerminal() != (v.EndTime != nil) {
		t.Errorf("status %s with endTime %v violates endTime invariant", v.Status, v.EndTime)
	}
	if v.EndTime != nil && v.EndTime.Before(v.StartTime) {
		t.Errorf("endTime %v before startTime %v", v.EndTime, v.StartTime)
	}
}

func TestCheckIn(t *testing.T) {
	f := newVisitFixture(t)
	before := time.Now().UTC().Add(-time.Second)

	v := f.checkIn(t)

	if v.Status != models.VisitStatusCheckedIn {
		t.Errorf("status = %s, want CHECKED_IN", v.Status)
	}
	if v.StartTime.Before(before) || v.StartTime.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("startTime = %v, want about now", v.StartTime)
	}
	stored := f.reload(t, v.ID)
	if stored.UserID != f.rep.ID || stored.CompanyID != f.company.ID {
		t.Errorf("stored visit = %+v", stored)
	}
	assertEndTimeInvariant(t, stored)
}

func TestCheckInConflictWhenAlreadyCheckedIn(t *testing.T) {
	f := newVisitFixture(t)
	f.checkIn(t)

	_, err := f.svc.CheckIn(context.Background(), f.rep.ID, CheckInInput{CompanyID: f.second.ID, Purpose: "Demo"})
	assertKind(t, err, KindConflict)

	var count int64
	f.db.Model(&models.Visit{}).Where("user_id = ?", f.rep.ID).Count(&count)
	if count != 1 {
		t.Errorf("visits = %d, want 1", count)
	}
}

func TestCheckInAllowedForOtherUser(t *testing.T) {
	f := newVisitFixture(t)
	f.checkIn(t)

	if _, err := f.svc.CheckIn(context.Background(), f.other.ID, CheckInInput{CompanyID: f.company.ID, Purpose: "Demo"}); err != nil {
		t.Fatalf("CheckIn for second user: %v", err)
	}
}

func TestCheckInAfterCheckOut(t *testing.T) {
	f := newVisitFixture(t)
	v := f.checkIn(t)
	if _, err := f.svc.CheckOut(context.Background(), f.rep.ID, v.ID, CheckOutInput{}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if _, err := f.svc.CheckIn(context.Background(), f.rep.ID, CheckInInput{CompanyID: f.second.ID, Purpose: "Next"}); err != nil {
		t.Fatalf("second CheckIn: %v", err)
	}
}

func TestCheckInUnknownCompany(t *testing.T) {
	f := newVisitFixture(t)
	_, err := f.svc.CheckIn(context.Background(), f.rep.ID, CheckInInput{CompanyID: "missing", Purpose: "Demo"})
	assertKind(t, err, KindNotFound)
}

func TestActiveCheckInIndex(t *testing.T) {
	f := newVisitFixture(t)
	now := time.Now().UTC()
	first := &models.Visit{UserID: f.rep.ID, CompanyID: f.company.ID, StartTime: now, Status: models.VisitStatusCheckedIn, Purpose: "a"}
	if err := f.db.Create(first).Error; err != nil {
		t.Fatalf("create first: %v", err)
	}
	second := &models.Visit{UserID: f.rep.ID, CompanyID: f.second.ID, StartTime: now, Status: models.VisitStatusCheckedIn, Purpose: "b"}
	err := f.db.Create(second).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("second insert err = %v, want ErrDuplicatedKey", err)
	}
}

func TestCheckInGeofence(t *testing.T) {
	f := newVisitFixture(t)
	v, err := f.svc.CheckIn(context.Background(), f.rep.ID, CheckInInput{
		CompanyID: f.company.ID,
		Purpose:   "Demo",
		Latitude:  testutil.Float(12.9720),
		Longitude: testutil.Float(77.5950),
	})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if v.DistanceMeters == nil || *v.DistanceMeters > 100 {
		t.Errorf("distance = %v, want under 100m", v.DistanceMeters)
	}
	if v.WithinGeofence == nil || !*v.WithinGeofence {
		t.Errorf("withinGeofence = %v, want true", v.WithinGeofence)
	}
}

func TestCheckInOutsideGeofenceStillSucceeds(t *testing.T) {
	f := newVisitFixture(t)
	v, err := f.svc.CheckIn(context.Background(), f.rep.ID, CheckInInput{
		CompanyID: f.company.ID,
		Purpose:   "Demo",
		Latitude:  testutil.Float(13.0827),
		Longitude: testutil.Float(80.2707),
	})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if v.WithinGeofence == nil || *v.WithinGeofence {
		t.Errorf("withinGeofence = %v, want false", v.WithinGeofence)
	}
}

func TestStartPlannedVisit(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	planned, err := f.svc.ScheduleVisit(ctx, f.rep.ID, ScheduleVisitInput{
		CompanyID: f.company.ID,
		StartTime: time.Now().Add(24 * time.Hour),
		Purpose:   "Renewal",
	})
	if err != nil {
		t.Fatalf("ScheduleVisit: %v", err)
	}
	if planned.Status != models.VisitStatusPlanned {
		t.Fatalf("status = %s, want PLANNED", planned.Status)
	}
	assertEndTimeInvariant(t, planned)

	started, err := f.svc.CheckIn(ctx, f.rep.ID, CheckInInput{VisitID: planned.ID})
	if err != nil {
		t.Fatalf("CheckIn planned: %v", err)
	}
	if started.ID != planned.ID || started.Status != models.VisitStatusCheckedIn {
		t.Errorf("started = %s/%s, want %s/CHECKED_IN", started.ID, started.Status, planned.ID)
	}

	// starting it again is not allowed
	if _, err := f.svc.CheckOut(ctx, f.rep.ID, planned.ID, CheckOutInput{}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	_, err = f.svc.CheckIn(ctx, f.rep.ID, CheckInInput{VisitID: planned.ID})
	assertKind(t, err, KindInvalidState)
}

func TestScheduleVisitUnknownCompany(t *testing.T) {
	f := newVisitFixture(t)
	_, err := f.svc.ScheduleVisit(context.Background(), f.rep.ID, ScheduleVisitInput{CompanyID: "nope", StartTime: time.Now(), Purpose: "x"})
	assertKind(t, err, KindNotFound)
}

func TestUploadPhotoPromotesOnce(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)

	photo, err := f.svc.UploadPhoto(ctx, f.rep.ID, v.ID, PhotoInput{Data: testImage(t), Caption: "storefront"})
	if err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	if photo.PhotoURL == "" || photo.ContentType != "image/jpeg" {
		t.Errorf("photo = %+v", photo)
	}
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusPhotosUploaded {
		t.Fatalf("status after first photo = %s, want PHOTOS_UPLOADED", got)
	}

	if _, err := f.svc.UploadPhoto(ctx, f.rep.ID, v.ID, PhotoInput{Data: testImage(t)}); err != nil {
		t.Fatalf("second UploadPhoto: %v", err)
	}
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusPhotosUploaded {
		t.Errorf("status after second photo = %s, want PHOTOS_UPLOADED", got)
	}

	var count int64
	f.db.Model(&models.VisitPhoto{}).Where("visit_id = ?", v.ID).Count(&count)
	if count != 2 {
		t.Errorf("photos = %d, want 2", count)
	}
}

func TestUploadPhotoRejectedOutsideOpenStatuses(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	planned, err := f.svc.ScheduleVisit(ctx, f.rep.ID, ScheduleVisitInput{CompanyID: f.company.ID, StartTime: time.Now(), Purpose: "x"})
	if err != nil {
		t.Fatalf("ScheduleVisit: %v", err)
	}
	_, err = f.svc.UploadPhoto(ctx, f.rep.ID, planned.ID, PhotoInput{Data: testImage(t)})
	assertKind(t, err, KindInvalidState)

	v := f.checkIn(t)
	if _, err := f.svc.RecordPayment(ctx, f.rep.ID, v.ID, PaymentInput{Amount: decimal.NewFromInt(10), PaymentMethod: models.PaymentCash}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	_, err = f.svc.UploadPhoto(ctx, f.rep.ID, v.ID, PhotoInput{Data: testImage(t)})
	assertKind(t, err, KindInvalidState)
}

func TestUploadPhotoRejectsNonImage(t *testing.T) {
	f := newVisitFixture(t)
	v := f.checkIn(t)
	_, err := f.svc.UploadPhoto(context.Background(), f.rep.ID, v.ID, PhotoInput{Data: []byte("plain text")})
	assertKind(t, err, KindValidation)
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusCheckedIn {
		t.Errorf("status = %s, want CHECKED_IN", got)
	}
}

func TestUploadPhotoUnknownVisit(t *testing.T) {
	f := newVisitFixture(t)
	_, err := f.svc.UploadPhoto(context.Background(), f.rep.ID, "missing", PhotoInput{Data: testImage(t)})
	assertKind(t, err, KindNotFound)
}

func TestFollowUpSkipsPhotos(t *testing.T) {
	f := newVisitFixture(t)
	v := f.checkIn(t)

	fu, err := f.svc.CreateFollowUp(context.Background(), f.rep.ID, v.ID, FollowUpInput{DueDate: time.Now().Add(48 * time.Hour), Notes: "send quote"})
	if err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	if fu.Status != models.FollowUpPending || fu.Priority != models.PriorityMedium {
		t.Errorf("follow-up = %s/%s, want PENDING/MEDIUM", fu.Status, fu.Priority)
	}
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusDetailsCaptured {
		t.Errorf("status = %s, want DETAILS_CAPTURED", got)
	}
}

func TestFollowUpAfterPhotos(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)
	if _, err := f.svc.UploadPhoto(ctx, f.rep.ID, v.ID, PhotoInput{Data: testImage(t)}); err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	if _, err := f.svc.CreateFollowUp(ctx, f.rep.ID, v.ID, FollowUpInput{DueDate: time.Now()}); err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusDetailsCaptured {
		t.Errorf("status = %s, want DETAILS_CAPTURED", got)
	}
}

func TestFollowUpLeavesLaterStatusUnchanged(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)
	if _, err := f.svc.RecordPayment(ctx, f.rep.ID, v.ID, PaymentInput{Amount: decimal.NewFromInt(500), PaymentMethod: models.PaymentUPI}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if _, err := f.svc.CreateFollowUp(ctx, f.rep.ID, v.ID, FollowUpInput{DueDate: time.Now()}); err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusPaymentRecorded {
		t.Errorf("status = %s, want PAYMENT_RECORDED", got)
	}

	if _, err := f.svc.CheckOut(ctx, f.rep.ID, v.ID, CheckOutInput{}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if _, err := f.svc.CreateFollowUp(ctx, f.rep.ID, v.ID, FollowUpInput{DueDate: time.Now()}); err != nil {
		t.Fatalf("CreateFollowUp after checkout: %v", err)
	}
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusCheckedOut {
		t.Errorf("status = %s, want CHECKED_OUT", got)
	}
}

func TestFollowUpRejectedOnPlannedVisit(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	planned, err := f.svc.ScheduleVisit(ctx, f.rep.ID, ScheduleVisitInput{CompanyID: f.company.ID, StartTime: time.Now(), Purpose: "x"})
	if err != nil {
		t.Fatalf("ScheduleVisit: %v", err)
	}
	_, err = f.svc.CreateFollowUp(ctx, f.rep.ID, planned.ID, FollowUpInput{DueDate: time.Now()})
	assertKind(t, err, KindInvalidState)
}

func TestPaymentSetsPaymentRecorded(t *testing.T) {
	for _, setup := range []struct {
		name string
		prep func(t *testing.T, f *visitFixture, id string)
	}{
		{"from CHECKED_IN", func(*testing.T, *visitFixture, string) {}},
		{"from PHOTOS_UPLOADED", func(t *testing.T, f *visitFixture, id string) {
			if _, err := f.svc.UploadPhoto(context.Background(), f.rep.ID, id, PhotoInput{Data: testImage(t)}); err != nil {
				t.Fatalf("UploadPhoto: %v", err)
			}
		}},
		{"from DETAILS_CAPTURED", func(t *testing.T, f *visitFixture, id string) {
			if _, err := f.svc.CreateFollowUp(context.Background(), f.rep.ID, id, FollowUpInput{DueDate: time.Now()}); err != nil {
				t.Fatalf("CreateFollowUp: %v", err)
			}
		}},
		{"already PAYMENT_RECORDED", func(t *testing.T, f *visitFixture, id string) {
			if _, err := f.svc.RecordPayment(context.Background(), f.rep.ID, id, PaymentInput{Amount: decimal.NewFromInt(1), PaymentMethod: models.PaymentCash}); err != nil {
				t.Fatalf("RecordPayment: %v", err)
			}
		}},
	} {
		t.Run(setup.name, func(t *testing.T) {
			f := newVisitFixture(t)
			v := f.checkIn(t)
			setup.prep(t, f, v.ID)

			p, err := f.svc.RecordPayment(context.Background(), f.rep.ID, v.ID, PaymentInput{
				Amount:        decimal.RequireFromString("1250.50"),
				PaymentMethod: models.PaymentCheque,
				Reference:     "CHQ-001",
			})
			if err != nil {
				t.Fatalf("RecordPayment: %v", err)
			}
			if !p.Amount.Equal(decimal.RequireFromString("1250.5")) {
				t.Errorf("amount = %s, want 1250.50", p.Amount)
			}
			if got := f.reload(t, v.ID).Status; got != models.VisitStatusPaymentRecorded {
				t.Errorf("status = %s, want PAYMENT_RECORDED", got)
			}
		})
	}
}

func TestPaymentAfterCheckOutKeepsStatus(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)
	if _, err := f.svc.CheckOut(ctx, f.rep.ID, v.ID, CheckOutInput{}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if _, err := f.svc.RecordPayment(ctx, f.rep.ID, v.ID, PaymentInput{Amount: decimal.NewFromInt(100), PaymentMethod: models.PaymentOnline}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	stored := f.reload(t, v.ID)
	if stored.Status != models.VisitStatusCheckedOut {
		t.Errorf("status = %s, want CHECKED_OUT", stored.Status)
	}
	assertEndTimeInvariant(t, stored)
}

func TestPaymentValidation(t *testing.T) {
	f := newVisitFixture(t)
	v := f.checkIn(t)
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, f.rep.ID, v.ID, PaymentInput{Amount: decimal.Zero, PaymentMethod: models.PaymentCash})
	assertKind(t, err, KindValidation)
	_, err = f.svc.RecordPayment(ctx, f.rep.ID, v.ID, PaymentInput{Amount: decimal.NewFromInt(5), PaymentMethod: "BARTER"})
	assertKind(t, err, KindValidation)
}

func TestCheckOutFromOpenStatuses(t *testing.T) {
	for _, status := range models.CheckOutStatuses {
		t.Run(string(status), func(t *testing.T) {
			f := newVisitFixture(t)
			v := f.checkIn(t)
			if err := f.db.Model(&models.Visit{}).Where("id = ?", v.ID).Update("status", status).Error; err != nil {
				t.Fatalf("set status: %v", err)
			}

			out, err := f.svc.CheckOut(context.Background(), f.rep.ID, v.ID, CheckOutInput{Notes: "done"})
			if err != nil {
				t.Fatalf("CheckOut: %v", err)
			}
			if out.Status != models.VisitStatusCheckedOut || out.EndTime == nil {
				t.Errorf("visit = %s endTime=%v, want CHECKED_OUT with endTime", out.Status, out.EndTime)
			}
			stored := f.reload(t, v.ID)
			assertEndTimeInvariant(t, stored)
			if stored.DurationMinutes == nil {
				t.Error("expected duration to be recorded")
			}
		})
	}
}

func TestCheckOutRejectedFromPlannedAndCheckedOut(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()

	planned, err := f.svc.ScheduleVisit(ctx, f.rep.ID, ScheduleVisitInput{CompanyID: f.company.ID, StartTime: time.Now(), Purpose: "x"})
	if err != nil {
		t.Fatalf("ScheduleVisit: %v", err)
	}
	_, err = f.svc.CheckOut(ctx, f.rep.ID, planned.ID, CheckOutInput{})
	assertKind(t, err, KindInvalidState)

	v := f.checkIn(t)
	if _, err := f.svc.CheckOut(ctx, f.rep.ID, v.ID, CheckOutInput{}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	_, err = f.svc.CheckOut(ctx, f.rep.ID, v.ID, CheckOutInput{})
	assertKind(t, err, KindInvalidState)
}

func TestCheckOutAppendsNotes(t *testing.T) {
	f := newVisitFixture(t)
	v := f.checkIn(t) // notes "met client"

	if _, err := f.svc.CheckOut(context.Background(), f.rep.ID, v.ID, CheckOutInput{Notes: "signed contract"}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	stored := f.reload(t, v.ID)
	if stored.Notes != "met client\nsigned contract" {
		t.Errorf("notes = %q, want both notes", stored.Notes)
	}
}

func TestAppendNotes(t *testing.T) {
	tests := []struct {
		existing, extra, want string
	}{
		{"met client", "signed contract", "met client\nsigned contract"},
		{"", "signed contract", "signed contract"},
		{"met client", "  ", "met client"},
	}
	for _, tt := range tests {
		if got := appendNotes(tt.existing, tt.extra); got != tt.want {
			t.Errorf("appendNotes(%q, %q) = %q, want %q", tt.existing, tt.extra, got, tt.want)
		}
	}
}

func TestNonOwnerIsForbidden(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)
	intruder := f.other.ID

	_, err := f.svc.GetVisit(ctx, intruder, v.ID)
	assertKind(t, err, KindForbidden)
	_, err = f.svc.UploadPhoto(ctx, intruder, v.ID, PhotoInput{Data: testImage(t)})
	assertKind(t, err, KindForbidden)
	_, err = f.svc.CreateFollowUp(ctx, intruder, v.ID, FollowUpInput{DueDate: time.Now()})
	assertKind(t, err, KindForbidden)
	_, err = f.svc.RecordPayment(ctx, intruder, v.ID, PaymentInput{Amount: decimal.NewFromInt(1), PaymentMethod: models.PaymentCash})
	assertKind(t, err, KindForbidden)
	_, err = f.svc.CheckOut(ctx, intruder, v.ID, CheckOutInput{Notes: "x"})
	assertKind(t, err, KindForbidden)
	purpose := "hijack"
	_, err = f.svc.UpdateVisit(ctx, intruder, v.ID, UpdateVisitInput{Purpose: &purpose})
	assertKind(t, err, KindForbidden)
	_, err = f.svc.CancelVisit(ctx, intruder, v.ID, "")
	assertKind(t, err, KindForbidden)
	_, err = f.svc.CheckIn(ctx, intruder, CheckInInput{VisitID: v.ID})
	if KindOf(err) != KindForbidden && KindOf(err) != KindInvalidState {
		t.Errorf("CheckIn on foreign visit err = %v", err)
	}

	stored := f.reload(t, v.ID)
	if stored.Status != models.VisitStatusCheckedIn || stored.Notes != "met client" || stored.Purpose != "Quarterly review" {
		t.Errorf("visit changed: %+v", stored)
	}
	var children int64
	f.db.Model(&models.VisitPhoto{}).Where("visit_id = ?", v.ID).Count(&children)
	if children != 0 {
		t.Errorf("photos = %d, want 0", children)
	}
}

func TestCompleteAndCancel(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()

	v := f.checkIn(t)
	_, err := f.svc.CompleteVisit(ctx, f.rep.ID, v.ID)
	assertKind(t, err, KindInvalidState)

	if _, err := f.svc.CheckOut(ctx, f.rep.ID, v.ID, CheckOutInput{}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	done, err := f.svc.CompleteVisit(ctx, f.rep.ID, v.ID)
	if err != nil {
		t.Fatalf("CompleteVisit: %v", err)
	}
	if done.Status != models.VisitStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", done.Status)
	}
	assertEndTimeInvariant(t, f.reload(t, v.ID))

	_, err = f.svc.CancelVisit(ctx, f.rep.ID, v.ID, "too late")
	assertKind(t, err, KindInvalidState)

	planned, err := f.svc.ScheduleVisit(ctx, f.rep.ID, ScheduleVisitInput{CompanyID: f.second.ID, StartTime: time.Now().Add(time.Hour), Purpose: "x"})
	if err != nil {
		t.Fatalf("ScheduleVisit: %v", err)
	}
	cancelled, err := f.svc.CancelVisit(ctx, f.rep.ID, planned.ID, "client unavailable")
	if err != nil {
		t.Fatalf("CancelVisit: %v", err)
	}
	if cancelled.Status != models.VisitStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Status)
	}
	assertEndTimeInvariant(t, f.reload(t, planned.ID))
}

func TestUpdateVisitStatusRequiresOverride(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)

	status := models.VisitStatusCompleted
	_, err := f.svc.UpdateVisit(ctx, f.rep.ID, v.ID, UpdateVisitInput{Status: &status})
	assertKind(t, err, KindInvalidState)
	if got := f.reload(t, v.ID).Status; got != models.VisitStatusCheckedIn {
		t.Fatalf("status = %s, want CHECKED_IN", got)
	}

	updated, err := f.svc.UpdateVisit(ctx, f.rep.ID, v.ID, UpdateVisitInput{Status: &status, AllowOverride: true})
	if err != nil {
		t.Fatalf("UpdateVisit override: %v", err)
	}
	if updated.Status != models.VisitStatusCompleted || updated.EndTime == nil {
		t.Errorf("visit = %s endTime=%v, want COMPLETED with endTime", updated.Status, updated.EndTime)
	}
	assertEndTimeInvariant(t, f.reload(t, v.ID))

	back := models.VisitStatusPhotosUploaded
	reopened, err := f.svc.UpdateVisit(ctx, f.rep.ID, v.ID, UpdateVisitInput{Status: &back, AllowOverride: true})
	if err != nil {
		t.Fatalf("UpdateVisit reopen: %v", err)
	}
	if reopened.EndTime != nil {
		t.Errorf("endTime = %v, want nil after reopening", reopened.EndTime)
	}
	assertEndTimeInvariant(t, f.reload(t, v.ID))

	bogus := models.VisitStatus("ON_HOLD")
	_, err = f.svc.UpdateVisit(ctx, f.rep.ID, v.ID, UpdateVisitInput{Status: &bogus, AllowOverride: true})
	assertKind(t, err, KindValidation)
}

func TestUpdateVisitPatchesFields(t *testing.T) {
	f := newVisitFixture(t)
	v := f.checkIn(t)

	purpose, notes := "Contract signing", "bring documents"
	updated, err := f.svc.UpdateVisit(context.Background(), f.rep.ID, v.ID, UpdateVisitInput{Purpose: &purpose, Notes: &notes})
	if err != nil {
		t.Fatalf("UpdateVisit: %v", err)
	}
	if updated.Purpose != purpose || updated.Notes != notes {
		t.Errorf("visit = %q/%q", updated.Purpose, updated.Notes)
	}
	stored := f.reload(t, v.ID)
	if stored.Purpose != purpose || stored.Status != models.VisitStatusCheckedIn {
		t.Errorf("stored = %q/%s", stored.Purpose, stored.Status)
	}
}

func TestGetVisitIncludesChildrenAndInvalidatesCache(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)

	first, err := f.svc.GetVisit(ctx, f.rep.ID, v.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if len(first.Payments) != 0 || first.Company == nil {
		t.Fatalf("first = %+v", first)
	}

	if _, err := f.svc.RecordPayment(ctx, f.rep.ID, v.ID, PaymentInput{Amount: decimal.NewFromInt(20), PaymentMethod: models.PaymentCash}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	second, err := f.svc.GetVisit(ctx, f.rep.ID, v.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if len(second.Payments) != 1 || second.Status != models.VisitStatusPaymentRecorded {
		t.Errorf("second = %d payments, status %s", len(second.Payments), second.Status)
	}
}

func TestListVisitsAndActive(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()

	_, err := f.svc.ActiveVisit(ctx, f.rep.ID)
	assertKind(t, err, KindNotFound)

	v := f.checkIn(t)
	if _, err := f.svc.ScheduleVisit(ctx, f.rep.ID, ScheduleVisitInput{CompanyID: f.second.ID, StartTime: time.Now().Add(time.Hour), Purpose: "x"}); err != nil {
		t.Fatalf("ScheduleVisit: %v", err)
	}

	active, err := f.svc.ActiveVisit(ctx, f.rep.ID)
	if err != nil {
		t.Fatalf("ActiveVisit: %v", err)
	}
	if active.ID != v.ID {
		t.Errorf("active = %s, want %s", active.ID, v.ID)
	}

	all, total, err := f.svc.ListVisits(ctx, f.rep.ID, VisitFilter{})
	if err != nil {
		t.Fatalf("ListVisits: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Errorf("total = %d len = %d, want 2", total, len(all))
	}

	planned, total, err := f.svc.ListVisits(ctx, f.rep.ID, VisitFilter{Status: models.VisitStatusPlanned})
	if err != nil {
		t.Fatalf("ListVisits planned: %v", err)
	}
	if total != 1 || planned[0].Status != models.VisitStatusPlanned {
		t.Errorf("planned = %d", total)
	}

	_, total, err = f.svc.ListVisits(ctx, f.other.ID, VisitFilter{})
	if err != nil {
		t.Fatalf("ListVisits other: %v", err)
	}
	if total != 0 {
		t.Errorf("other user's total = %d, want 0", total)
	}
}

func TestFollowUpStatusAndListing(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)

	overdue, err := f.svc.CreateFollowUp(ctx, f.rep.ID, v.ID, FollowUpInput{DueDate: time.Now().Add(-time.Hour), Priority: models.PriorityHigh})
	if err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	if _, err := f.svc.CreateFollowUp(ctx, f.rep.ID, v.ID, FollowUpInput{DueDate: time.Now().Add(72 * time.Hour)}); err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}

	list, total, err := f.svc.ListFollowUps(ctx, f.rep.ID, FollowUpFilter{Overdue: true})
	if err != nil {
		t.Fatalf("ListFollowUps: %v", err)
	}
	if total != 1 || list[0].ID != overdue.ID {
		t.Errorf("overdue = %d", total)
	}

	_, err = f.svc.UpdateFollowUpStatus(ctx, f.other.ID, overdue.ID, models.FollowUpCompleted)
	assertKind(t, err, KindForbidden)

	done, err := f.svc.UpdateFollowUpStatus(ctx, f.rep.ID, overdue.ID, models.FollowUpCompleted)
	if err != nil {
		t.Fatalf("UpdateFollowUpStatus: %v", err)
	}
	if done.Status != models.FollowUpCompleted || done.CompletedAt == nil {
		t.Errorf("follow-up = %s completedAt=%v", done.Status, done.CompletedAt)
	}
	_, err = f.svc.UpdateFollowUpStatus(ctx, f.rep.ID, overdue.ID, models.FollowUpCancelled)
	assertKind(t, err, KindInvalidState)
}

func TestEndTimeInvariantAcrossLifecycle(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)
	check := func() { assertEndTimeInvariant(t, f.reload(t, v.ID)) }

	check()
	if _, err := f.svc.UploadPhoto(ctx, f.rep.ID, v.ID, PhotoInput{Data: testImage(t)}); err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	check()
	if _, err := f.svc.CreateFollowUp(ctx, f.rep.ID, v.ID, FollowUpInput{DueDate: time.Now()}); err != nil {
		t.Fatalf("CreateFollowUp: %v", err)
	}
	check()
	if _, err := f.svc.RecordPayment(ctx, f.rep.ID, v.ID, PaymentInput{Amount: decimal.NewFromInt(1), PaymentMethod: models.PaymentCash}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	check()
	if _, err := f.svc.CheckOut(ctx, f.rep.ID, v.ID, CheckOutInput{}); err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	check()
	if _, err := f.svc.CompleteVisit(ctx, f.rep.ID, v.ID); err != nil {
		t.Fatalf("CompleteVisit: %v", err)
	}
	check()
}

func TestUpdateVisitOverrideCancelsFutureVisit(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	start := time.Now().Add(time.Hour)
	planned, err := f.svc.ScheduleVisit(ctx, f.rep.ID, ScheduleVisitInput{CompanyID: f.company.ID, StartTime: start, Purpose: "Demo"})
	if err != nil {
		t.Fatalf("ScheduleVisit: %v", err)
	}

	status := models.VisitStatusCancelled
	updated, err := f.svc.UpdateVisit(ctx, f.rep.ID, planned.ID, UpdateVisitInput{Status: &status, AllowOverride: true})
	if err != nil {
		t.Fatalf("UpdateVisit override: %v", err)
	}
	if updated.EndTime == nil || !updated.EndTime.Equal(updated.StartTime) {
		t.Errorf("endTime = %v, want startTime %v", updated.EndTime, updated.StartTime)
	}
	stored := f.reload(t, planned.ID)
	if stored.Status != models.VisitStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", stored.Status)
	}
	assertEndTimeInvariant(t, stored)
}

func TestAdvancePaymentOnPlannedVisit(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	planned, err := f.svc.ScheduleVisit(ctx, f.rep.ID, ScheduleVisitInput{
		CompanyID: f.company.ID,
		StartTime: time.Now().Add(48 * time.Hour),
		Purpose:   "Delivery",
	})
	if err != nil {
		t.Fatalf("ScheduleVisit: %v", err)
	}
	if _, err := f.svc.RecordPayment(ctx, f.rep.ID, planned.ID, PaymentInput{Amount: decimal.NewFromInt(500), PaymentMethod: models.PaymentUPI}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	paid := f.reload(t, planned.ID)
	if paid.Status != models.VisitStatusPaymentRecorded || paid.CheckedInAt != nil {
		t.Fatalf("paid = %s checkedInAt=%v, want PAYMENT_RECORDED never checked in", paid.Status, paid.CheckedInAt)
	}

	// nobody is on site yet
	_, err = f.svc.ActiveVisit(ctx, f.rep.ID)
	assertKind(t, err, KindNotFound)
	_, err = f.svc.CheckOut(ctx, f.rep.ID, planned.ID, CheckOutInput{})
	assertKind(t, err, KindInvalidState)
	if stored := f.reload(t, planned.ID); stored.EndTime != nil {
		t.Fatalf("endTime = %v after rejected checkout", stored.EndTime)
	}

	started, err := f.svc.CheckIn(ctx, f.rep.ID, CheckInInput{VisitID: planned.ID})
	if err != nil {
		t.Fatalf("CheckIn paid visit: %v", err)
	}
	if started.Status != models.VisitStatusPaymentRecorded || started.CheckedInAt == nil {
		t.Errorf("started = %s checkedInAt=%v, want PAYMENT_RECORDED with checkedInAt", started.Status, started.CheckedInAt)
	}
	if started.StartTime.After(time.Now()) {
		t.Errorf("startTime = %v, want the check-in time", started.StartTime)
	}

	active, err := f.svc.ActiveVisit(ctx, f.rep.ID)
	if err != nil || active.ID != planned.ID {
		t.Fatalf("ActiveVisit = %v, %v", active, err)
	}
	_, err = f.svc.CheckIn(ctx, f.rep.ID, CheckInInput{VisitID: planned.ID})
	assertKind(t, err, KindInvalidState)

	out, err := f.svc.CheckOut(ctx, f.rep.ID, planned.ID, CheckOutInput{})
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if out.Status != models.VisitStatusCheckedOut {
		t.Errorf("status = %s, want CHECKED_OUT", out.Status)
	}
	assertEndTimeInvariant(t, f.reload(t, planned.ID))
}

func TestGetVisitReadsCompanyFresh(t *testing.T) {
	f := newVisitFixture(t)
	ctx := context.Background()
	v := f.checkIn(t)

	first, err := f.svc.GetVisit(ctx, f.rep.ID, v.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if first.Company == nil || first.Company.Name != "Acme Traders" {
		t.Fatalf("company = %+v", first.Company)
	}

	companies := NewCompanyService(f.db, cache.NewMemory(time.Minute), time.Minute, zerolog.Nop(), true)
	name := "Acme Traders Pvt Ltd"
	if _, err := companies.UpdateCompany(ctx, f.company.ID, CompanyPatch{Name: &name}); err != nil {
		t.Fatalf("UpdateCompany: %v", err)
	}

	second, err := f.svc.GetVisit(ctx, f.rep.ID, v.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if second.Company == nil || second.Company.Name != name {
		t.Errorf("company = %+v, want renamed company", second.Company)
	}
}
