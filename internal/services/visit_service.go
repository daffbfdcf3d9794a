package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fieldsales-server/internal/cache"
	"fieldsales-server/internal/events"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/storage"
)

// VisitOptions tunes the visit service.
type VisitOptions struct {
	GeofenceRadiusMeters float64
	CacheTTL             time.Duration
	PhotoMaxWidth        int
	PhotoMaxHeight       int
}

// VisitService owns the visit lifecycle. Every operation takes the resolved
// caller id and re-checks ownership itself.
type VisitService struct {
	db     *gorm.DB
	store  storage.ObjectStore
	cache  cacheHelper
	events *events.Publisher
	log    zerolog.Logger
	opts   VisitOptions
	now    func() time.Time
}

// NewVisitService creates a new VisitService.
func NewVisitService(db *gorm.DB, store storage.ObjectStore, c cache.Cache, pub *events.Publisher, log zerolog.Logger, opts VisitOptions) *VisitService {
	return &VisitService{
		db:     db,
		store:  store,
		cache:  newCacheHelper(c, opts.CacheTTL, log),
		events: pub,
		log:    log,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleVisitInput creates a PLANNED visit.
type ScheduleVisitInput struct {
	CompanyID string
	StartTime time.Time
	Purpose   string
	Notes     string
}

// CheckInInput starts a visit. When VisitID is set an existing PLANNED
// visit is started instead of creating a new one.
type CheckInInput struct {
	VisitID   string
	CompanyID string
	Purpose   string
	Notes     string
	Latitude  *float64
	Longitude *float64
	Address   string
}

// CheckOutInput ends a visit.
type CheckOutInput struct {
	Notes     string
	Latitude  *float64
	Longitude *float64
}

// PhotoInput is a raw uploaded image.
type PhotoInput struct {
	Data    []byte
	Caption string
}

// FollowUpInput creates a follow-up.
type FollowUpInput struct {
	DueDate  time.Time
	Priority models.FollowUpPriority
	Notes    string
}

// PaymentInput records a payment.
type PaymentInput struct {
	Amount        decimal.Decimal
	PaymentMethod models.PaymentMethod
	Reference     string
	Notes         string
}

// UpdateVisitInput patches a visit. Nil fields are left alone.
// Status and EndTime are only honoured when AllowOverride is set.
type UpdateVisitInput struct {
	Purpose       *string
	Notes         *string
	StartTime     *time.Time
	EndTime       *time.Time
	Status        *models.VisitStatus
	AllowOverride bool
}

// VisitFilter narrows ListVisits.
type VisitFilter struct {
	Status    models.VisitStatus
	CompanyID string
	From      *time.Time
	To        *time.Time
	Page      Page
}

// FollowUpFilter narrows ListFollowUps.
type FollowUpFilter struct {
	Status  models.FollowUpStatus
	Overdue bool
	Page    Page
}

// assertOwnsVisit is the single ownership guard for visit reads and writes.
func assertOwnsVisit(visit *models.Visit, userID string) error {
	if visit.UserID != userID {
		return Forbidden("you do not have access to this visit")
	}
	return nil
}

func statusStrings(statuses []models.VisitStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// findVisit loads a visit by id inside db (a transaction or the root handle).
func findVisit(db *gorm.DB, id string, lock bool) (*models.Visit, error) {
	var visit models.Visit
	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&visit, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("visit not found")
		}
		return nil, Internal("failed to load visit", err)
	}
	return &visit, nil
}

// loadOwnedVisit loads a visit and applies the ownership guard.
func (s *VisitService) loadOwnedVisit(ctx context.Context, userID, visitID string) (*models.Visit, error) {
	visit, err := findVisit(s.db.WithContext(ctx), visitID, false)
	if err != nil {
		return nil, err
	}
	if err := assertOwnsVisit(visit, userID); err != nil {
		return nil, err
	}
	return visit, nil
}

// advanceStatus atomically promotes a visit as a side effect of attaching a
// child row. The row must currently be in allowed; if it is also in from, the
// status becomes to, otherwise it is kept. Returns InvalidState when the
// visit is no longer in allowed.
func advanceStatus(tx *gorm.DB, visitID string, allowed, from []models.VisitStatus, to models.VisitStatus) error {
	res := tx.Model(&models.Visit{}).
		Where("id = ? AND status IN ?", visitID, statusStrings(allowed)).
		Update("status", gorm.Expr("CASE WHEN status IN ? THEN ? ELSE status END", statusStrings(from), string(to)))
	if res.Error != nil {
		return Internal("failed to update visit status", res.Error)
	}
	if res.RowsAffected == 0 {
		return InvalidState("visit status changed, operation not allowed")
	}
	return nil
}

func (s *VisitService) companyExists(tx *gorm.DB, companyID string) (*models.Company, error) {
	var company models.Company
	if err := tx.First(&company, "id = ?", companyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("company not found")
		}
		return nil, Internal("failed to load company", err)
	}
	return &company, nil
}

func (s *VisitService) invalidate(ctx context.Context, visitID string) {
	s.cache.del(ctx, visitCacheKey(visitID))
}

// ScheduleVisit creates a PLANNED visit.
func (s *VisitService) ScheduleVisit(ctx context.Context, userID string, in ScheduleVisitInput) (*models.Visit, error) {
	if strings.TrimSpace(in.Purpose) == "" {
		return nil, Validation("purpose is required")
	}
	if in.StartTime.IsZero() {
		return nil, Validation("startTime is required")
	}

	db := s.db.WithContext(ctx)
	if _, err := s.companyExists(db, in.CompanyID); err != nil {
		return nil, err
	}

	visit := &models.Visit{
		UserID:    userID,
		CompanyID: in.CompanyID,
		StartTime: in.StartTime.UTC(),
		Status:    models.VisitStatusPlanned,
		Purpose:   in.Purpose,
		Notes:     in.Notes,
	}
	if err := db.Create(visit).Error; err != nil {
		return nil, Internal("failed to schedule visit", err)
	}

	s.log.Info().Str("visit_id", visit.ID).Str("user_id", userID).Str("company_id", in.CompanyID).Msg("visit scheduled")
	s.events.Publish(ctx, events.VisitScheduled, visit.ID, userID, map[string]interface{}{
		"company_id": in.CompanyID,
		"start_time": visit.StartTime,
	})
	return visit, nil
}

// CheckIn starts a visit for userID.
//
// The existence check and the insert run in one transaction holding a lock
// on the user's row, so two check-ins from the same user serialize. On
// Postgres and SQLite a partial unique index backs this up; a violation is
// reported as Conflict like the explicit check.
func (s *VisitService) CheckIn(ctx context.Context, userID string, in CheckInInput) (*models.Visit, error) {
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nil, Validation("latitude and longitude must be supplied together")
	}
	if in.Latitude != nil && !validCoordinates(*in.Latitude, *in.Longitude) {
		return nil, Validation("coordinates out of range")
	}
	if in.VisitID == "" && strings.TrimSpace(in.Purpose) == "" {
		return nil, Validation("purpose is required")
	}

	now := s.now()
	var visit *models.Visit

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("user not found")
			}
			return Internal("failed to lock user", err)
		}

		var active int64
		if err := tx.Model(&models.Visit{}).
			Where("user_id = ? AND status = ?", userID, models.VisitStatusCheckedIn).
			Count(&active).Error; err != nil {
			return Internal("failed to check active visits", err)
		}
		if active > 0 {
			return Conflict("you already have an active check-in; check out first")
		}

		if in.VisitID != "" {
			v, err := s.startPlanned(tx, userID, in, now)
			if err != nil {
				return err
			}
			visit = v
			return nil
		}

		company, err := s.companyExists(tx, in.CompanyID)
		if err != nil {
			return err
		}

		v := &models.Visit{
			UserID:      userID,
			CompanyID:   company.ID,
			StartTime:   now,
			CheckedInAt: &now,
			Status:      models.VisitStatusCheckedIn,
			Purpose:     in.Purpose,
			Notes:       in.Notes,
			Latitude:    in.Latitude,
			Longitude:   in.Longitude,
			Address:     in.Address,
		}
		s.applyGeofence(v, company)
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		visit = v
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, Conflict("you already have an active check-in; check out first")
		}
		var se *Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, Internal("failed to check in", err)
	}

	s.invalidate(ctx, visit.ID)
	ev := s.log.Info().Str("visit_id", visit.ID).Str("user_id", userID).Str("company_id", visit.CompanyID)
	if visit.DistanceMeters != nil {
		ev = ev.Float64("distance_m", *visit.DistanceMeters).Bool("within_geofence", *visit.WithinGeofence)
	}
	ev.Msg("visit checked in")

	payload := map[string]interface{}{"company_id": visit.CompanyID}
	if visit.WithinGeofence != nil {
		payload["within_geofence"] = *visit.WithinGeofence
	}
	s.events.Publish(ctx, events.VisitCheckedIn, visit.ID, userID, payload)
	return visit, nil
}

// startPlanned checks in to an owned visit that was scheduled ahead. A PLANNED
// visit becomes CHECKED_IN; one already paid in advance keeps its status.
func (s *VisitService) startPlanned(tx *gorm.DB, userID string, in CheckInInput, now time.Time) (*models.Visit, error) {
	visit, err := findVisit(tx, in.VisitID, true)
	if err != nil {
		return nil, err
	}
	if err := assertOwnsVisit(visit, userID); err != nil {
		return nil, err
	}
	if visit.CheckedInAt != nil || !visit.Status.In(models.StartableStatuses...) {
		return nil, InvalidState("only planned visits can be started, visit is %s", visit.Status)
	}
	if in.CompanyID != "" && in.CompanyID != visit.CompanyID {
		return nil, Validation("companyId does not match the planned visit")
	}

	company, err := s.companyExists(tx, visit.CompanyID)
	if err != nil {
		return nil, err
	}

	previous := visit.Status
	if visit.Status == models.VisitStatusPlanned {
		visit.Status = models.VisitStatusCheckedIn
	}
	visit.StartTime = now
	visit.CheckedInAt = &now
	visit.Latitude = in.Latitude
	visit.Longitude = in.Longitude
	visit.Address = in.Address
	if in.Notes != "" {
		visit.Notes = appendNotes(visit.Notes, in.Notes)
	}
	s.applyGeofence(visit, company)

	updates := map[string]interface{}{
		"status":          visit.Status,
		"start_time":      visit.StartTime,
		"checked_in_at":   visit.CheckedInAt,
		"latitude":        visit.Latitude,
		"longitude":       visit.Longitude,
		"address":         visit.Address,
		"notes":           visit.Notes,
		"distance_meters": visit.DistanceMeters,
		"within_geofence": visit.WithinGeofence,
	}
	res := tx.Model(&models.Visit{}).
		Where("id = ? AND status = ? AND checked_in_at IS NULL", visit.ID, previous).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, InvalidState("visit was already started")
	}
	return visit, nil
}

// applyGeofence records how far the check-in was from the company. It never
// blocks the check-in.
func (s *VisitService) applyGeofence(visit *models.Visit, company *models.Company) {
	if visit.Latitude == nil || visit.Longitude == nil || !company.HasLocation() {
		visit.DistanceMeters = nil
		visit.WithinGeofence = nil
		return
	}
	d := Haversine(*visit.Latitude, *visit.Longitude, *company.Latitude, *company.Longitude)
	within := s.opts.GeofenceRadiusMeters <= 0 || d <= s.opts.GeofenceRadiusMeters
	visit.DistanceMeters = &d
	visit.WithinGeofence = &within
}

// UploadPhoto stores an image and attaches it to the visit. The first photo
// on a CHECKED_IN visit moves it to PHOTOS_UPLOADED.
func (s *VisitService) UploadPhoto(ctx context.Context, userID, visitID string, in PhotoInput) (*models.VisitPhoto, error) {
	visit, err := s.loadOwnedVisit(ctx, userID, visitID)
	if err != nil {
		return nil, err
	}
	if !visit.Status.CanUploadPhoto() {
		return nil, InvalidState("photos cannot be uploaded while visit is %s", visit.Status)
	}
	if len(in.Data) == 0 {
		return nil, Validation("photo is empty")
	}

	photo, err := storage.PreparePhoto(in.Data, s.opts.PhotoMaxWidth, s.opts.PhotoMaxHeight)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedImage) {
			return nil, Validation("only JPEG, PNG and GIF images are allowed")
		}
		return nil, Validation("photo could not be read: %v", err)
	}

	key := storage.ObjectKey("visits/"+visit.ID, photo.Ext, s.now())
	url, err := s.store.Put(ctx, key, photo.Data, photo.ContentType)
	if err != nil {
		return nil, Internal("failed to store photo", err)
	}

	record := &models.VisitPhoto{
		VisitID:     visit.ID,
		PhotoURL:    url,
		StorageKey:  key,
		ContentType: photo.ContentType,
		Caption:     in.Caption,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advanceStatus(tx, visit.ID, models.PhotoUploadStatuses, models.PhotoPromotableStatuses, models.VisitStatusPhotosUploaded); err != nil {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.log.Error().Err(delErr).Str("key", key).Msg("failed to remove orphaned photo")
		}
		var se *Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, Internal("failed to save photo", err)
	}

	s.invalidate(ctx, visit.ID)
	after := visit.Status.AfterPhoto()
	s.log.Info().Str("visit_id", visit.ID).Str("photo_id", record.ID).
		Str("status_before", string(visit.Status)).Str("status", string(after)).
		Msg("visit photo uploaded")
	s.events.Publish(ctx, events.VisitPhotoUploaded, visit.ID, userID, map[string]interface{}{
		"photo_id":  record.ID,
		"photo_url": record.PhotoURL,
		"status":    after,
	})
	return record, nil
}

// CreateFollowUp attaches a follow-up. CHECKED_IN and PHOTOS_UPLOADED visits
// move to DETAILS_CAPTURED; later statuses keep theirs.
func (s *VisitService) CreateFollowUp(ctx context.Context, userID, visitID string, in FollowUpInput) (*models.FollowUp, error) {
	visit, err := s.loadOwnedVisit(ctx, userID, visitID)
	if err != nil {
		return nil, err
	}
	if visit.Status == models.VisitStatusPlanned || visit.Status == models.VisitStatusCancelled {
		return nil, InvalidState("follow-ups cannot be added while visit is %s", visit.Status)
	}
	if in.DueDate.IsZero() {
		return nil, Validation("dueDate is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	followUp := &models.FollowUp{
		VisitID:  visit.ID,
		DueDate:  in.DueDate.UTC(),
		Status:   models.FollowUpPending,
		Priority: priority,
		Notes:    in.Notes,
	}

	allowed := []models.VisitStatus{
		models.VisitStatusCheckedIn,
		models.VisitStatusPhotosUploaded,
		models.VisitStatusDetailsCaptured,
		models.VisitStatusPaymentRecorded,
		models.VisitStatusCheckedOut,
		models.VisitStatusCompleted,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advanceStatus(tx, visit.ID, allowed, models.FollowUpPromotableStatuses, models.VisitStatusDetailsCaptured); err != nil {
			return err
		}
		return tx.Create(followUp).Error
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, Internal("failed to create follow-up", err)
	}

	s.invalidate(ctx, visit.ID)
	after := visit.Status.AfterFollowUp()
	s.log.Info().Str("visit_id", visit.ID).Str("follow_up_id", followUp.ID).
		Str("status_before", string(visit.Status)).Str("status", string(after)).
		Msg("follow-up created")
	s.events.Publish(ctx, events.VisitFollowUpCreated, visit.ID, userID, map[string]interface{}{
		"follow_up_id": followUp.ID,
		"due_date":     followUp.DueDate,
		"priority":     followUp.Priority,
		"status":       after,
	})
	return followUp, nil
}

// RecordPayment attaches a payment. Visits before PAYMENT_RECORDED move to
// it; visits already there or past it keep their status.
func (s *VisitService) RecordPayment(ctx context.Context, userID, visitID string, in PaymentInput) (*models.Payment, error) {
	visit, err := s.loadOwnedVisit(ctx, userID, visitID)
	if err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, Validation("amount must be greater than zero")
	}
	if !validPaymentMethod(in.PaymentMethod) {
		return nil, Validation("unknown payment method %q", in.PaymentMethod)
	}

	payment := &models.Payment{
		VisitID:       visit.ID,
		Amount:        in.Amount.Round(2),
		PaymentMethod: in.PaymentMethod,
		Reference:     in.Reference,
		Notes:         in.Notes,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advanceStatus(tx, visit.ID, models.AllVisitStatuses, models.PaymentPromotableStatuses, models.VisitStatusPaymentRecorded); err != nil {
			return err
		}
		return tx.Create(payment).Error
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, Internal("failed to record payment", err)
	}

	s.invalidate(ctx, visit.ID)
	after := visit.Status.AfterPayment()
	s.log.Info().Str("visit_id", visit.ID).Str("payment_id", payment.ID).Str("amount", payment.Amount.StringFixed(2)).
		Str("status_before", string(visit.Status)).Str("status", string(after)).
		Msg("payment recorded")
	s.events.Publish(ctx, events.VisitPaymentRecorded, visit.ID, userID, map[string]interface{}{
		"payment_id": payment.ID,
		"amount":     payment.Amount.StringFixed(2),
		"method":     payment.PaymentMethod,
		"status":     after,
	})
	return payment, nil
}

func validPaymentMethod(m models.PaymentMethod) bool {
	switch m {
	case models.PaymentCash, models.PaymentCheque, models.PaymentOnline, models.PaymentUPI, models.PaymentBankTransfer:
		return true
	}
	return false
}

// CheckOut ends an open visit. Checkout notes are appended to the existing
// notes.
func (s *VisitService) CheckOut(ctx context.Context, userID, visitID string, in CheckOutInput) (*models.Visit, error) {
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nil, Validation("latitude and longitude must be supplied together")
	}

	now := s.now()
	var visit *models.Visit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := findVisit(tx, visitID, true)
		if err != nil {
			return err
		}
		if err := assertOwnsVisit(v, userID); err != nil {
			return err
		}
		if !v.Status.CanCheckOut() {
			return InvalidState("visit cannot be checked out while %s", v.Status)
		}
		if v.CheckedInAt == nil {
			return InvalidState("visit was never checked in")
		}

		end := now
		if end.Before(v.StartTime) {
			end = v.StartTime
		}
		duration := int(end.Sub(v.StartTime).Minutes())

		v.Status = models.VisitStatusCheckedOut
		v.EndTime = &end
		v.DurationMinutes = &duration
		v.Notes = appendNotes(v.Notes, in.Notes)
		v.CheckOutLatitude = in.Latitude
		v.CheckOutLongitude = in.Longitude

		res := tx.Model(&models.Visit{}).
			Where("id = ? AND status IN ? AND checked_in_at IS NOT NULL", v.ID, statusStrings(models.CheckOutStatuses)).
			Updates(map[string]interface{}{
				"status":              v.Status,
				"end_time":            v.EndTime,
				"duration_minutes":    v.DurationMinutes,
				"notes":               v.Notes,
				"check_out_latitude":  v.CheckOutLatitude,
				"check_out_longitude": v.CheckOutLongitude,
			})
		if res.Error != nil {
			return Internal("failed to check out", res.Error)
		}
		if res.RowsAffected == 0 {
			return InvalidState("visit status changed, cannot check out")
		}
		visit = v
		return nil
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, Internal("failed to check out", err)
	}

	s.invalidate(ctx, visit.ID)
	s.log.Info().Str("visit_id", visit.ID).Str("user_id", userID).Int("duration_min", *visit.DurationMinutes).Msg("visit checked out")
	s.events.Publish(ctx, events.VisitCheckedOut, visit.ID, userID, map[string]interface{}{
		"duration_minutes": *visit.DurationMinutes,
	})
	return visit, nil
}

// appendNotes never overwrites existing notes.
func appendNotes(existing, extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return extra
	}
	return existing + "\n" + extra
}

// CompleteVisit closes out a CHECKED_OUT visit.
func (s *VisitService) CompleteVisit(ctx context.Context, userID, visitID string) (*models.Visit, error) {
	visit, err := s.loadOwnedVisit(ctx, userID, visitID)
	if err != nil {
		return nil, err
	}
	if visit.Status != models.VisitStatusCheckedOut {
		return nil, InvalidState("only checked-out visits can be completed, visit is %s", visit.Status)
	}

	res := s.db.WithContext(ctx).Model(&models.Visit{}).
		Where("id = ? AND status = ?", visit.ID, models.VisitStatusCheckedOut).
		Update("status", models.VisitStatusCompleted)
	if res.Error != nil {
		return nil, Internal("failed to complete visit", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, InvalidState("visit status changed, cannot complete")
	}
	visit.Status = models.VisitStatusCompleted

	s.invalidate(ctx, visit.ID)
	s.log.Info().Str("visit_id", visit.ID).Msg("visit completed")
	s.events.Publish(ctx, events.VisitCompleted, visit.ID, userID, nil)
	return visit, nil
}

// CancelVisit cancels a PLANNED or CHECKED_IN visit. A reason is appended to
// the notes.
func (s *VisitService) CancelVisit(ctx context.Context, userID, visitID, reason string) (*models.Visit, error) {
	visit, err := s.loadOwnedVisit(ctx, userID, visitID)
	if err != nil {
		return nil, err
	}
	if !visit.Status.In(models.CancellableStatuses...) {
		return nil, InvalidState("visit cannot be cancelled while %s", visit.Status)
	}

	now := s.now()
	if now.Before(visit.StartTime) {
		// a planned visit cancelled before its start
		now = visit.StartTime
	}
	notes := visit.Notes
	if reason != "" {
		notes = appendNotes(notes, "Cancelled: "+reason)
	}

	res := s.db.WithContext(ctx).Model(&models.Visit{}).
		Where("id = ? AND status IN ?", visit.ID, statusStrings(models.CancellableStatuses)).
		Updates(map[string]interface{}{
			"status":   models.VisitStatusCancelled,
			"end_time": now,
			"notes":    notes,
		})
	if res.Error != nil {
		return nil, Internal("failed to cancel visit", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, InvalidState("visit status changed, cannot cancel")
	}
	visit.Status = models.VisitStatusCancelled
	visit.EndTime = &now
	visit.Notes = notes

	s.invalidate(ctx, visit.ID)
	s.log.Info().Str("visit_id", visit.ID).Str("reason", reason).Msg("visit cancelled")
	s.events.Publish(ctx, events.VisitCancelled, visit.ID, userID, map[string]interface{}{"reason": reason})
	return visit, nil
}

// UpdateVisit patches purpose, notes and startTime. Status and endTime are
// administrative overrides: they bypass the lifecycle guards and require
// AllowOverride. EndTime is kept consistent with the resulting status.
func (s *VisitService) UpdateVisit(ctx context.Context, userID, visitID string, in UpdateVisitInput) (*models.Visit, error) {
	visit, err := s.loadOwnedVisit(ctx, userID, visitID)
	if err != nil {
		return nil, err
	}

	if (in.Status != nil || in.EndTime != nil) && !in.AllowOverride {
		return nil, InvalidState("status and endTime are changed through the visit actions (check-in, check-out, complete, cancel)")
	}

	updates := map[string]interface{}{}
	if in.Purpose != nil {
		if strings.TrimSpace(*in.Purpose) == "" {
			return nil, Validation("purpose cannot be empty")
		}
		visit.Purpose = *in.Purpose
		updates["purpose"] = visit.Purpose
	}
	if in.Notes != nil {
		visit.Notes = *in.Notes
		updates["notes"] = visit.Notes
	}
	if in.StartTime != nil {
		visit.StartTime = in.StartTime.UTC()
		updates["start_time"] = visit.StartTime
	}
	previous := visit.Status
	if in.Status != nil {
		if !in.Status.IsValid() {
			return nil, Validation("unknown status %q", *in.Status)
		}
		visit.Status = *in.Status
		updates["status"] = visit.Status
	}
	if in.EndTime != nil {
		end := in.EndTime.UTC()
		visit.EndTime = &end
	}

	// endTime is set exactly for terminal statuses
	switch {
	case visit.Status.IsTerminal() && visit.EndTime == nil:
		end := s.now()
		if end.Before(visit.StartTime) {
			end = visit.StartTime
		}
		visit.EndTime = &end
	case !visit.Status.IsTerminal():
		visit.EndTime = nil
	}
	if visit.EndTime != nil && visit.EndTime.Before(visit.StartTime) {
		return nil, Validation("endTime must not be before startTime")
	}
	if in.Status != nil || in.EndTime != nil || in.StartTime != nil {
		updates["end_time"] = visit.EndTime
	}

	if len(updates) == 0 {
		return visit, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Visit{}).Where("id = ?", visit.ID).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, Conflict("user already has an active check-in")
		}
		return nil, Internal("failed to update visit", err)
	}

	s.invalidate(ctx, visit.ID)
	ev := s.log.Info().Str("visit_id", visit.ID).Str("user_id", userID)
	if in.Status != nil {
		ev = ev.Str("status_before", string(previous)).Str("status", string(visit.Status)).Bool("override", true)
	}
	ev.Msg("visit updated")
	s.events.Publish(ctx, events.VisitUpdated, visit.ID, userID, map[string]interface{}{"status": visit.Status})
	return visit, nil
}

// GetVisit returns a visit with its company, photos, follow-ups and payments.
func (s *VisitService) GetVisit(ctx context.Context, userID, visitID string) (*models.Visit, error) {
	var visit models.Visit
	if !s.cache.get(ctx, visitCacheKey(visitID), &visit) {
		err := s.db.WithContext(ctx).
			Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
			Preload("FollowUps", func(db *gorm.DB) *gorm.DB { return db.Order("due_date ASC") }).
			Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
			First(&visit, "id = ?", visitID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, NotFound("visit not found")
			}
			return nil, Internal("failed to load visit", err)
		}
		// the company is read fresh on every call; company updates do not
		// invalidate visit keys
		s.cache.set(ctx, visitCacheKey(visit.ID), &visit)
	}
	if err := assertOwnsVisit(&visit, userID); err != nil {
		return nil, err
	}

	var company models.Company
	err := s.db.WithContext(ctx).First(&company, "id = ?", visit.CompanyID).Error
	switch {
	case err == nil:
		visit.Company = &company
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, Internal("failed to load company", err)
	}
	return &visit, nil
}

// ListVisits returns the caller's visits, newest first.
func (s *VisitService) ListVisits(ctx context.Context, userID string, f VisitFilter) ([]models.Visit, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Visit{}).Where("user_id = ?", userID)
	if f.Status != "" {
		if !f.Status.IsValid() {
			return nil, 0, Validation("unknown status %q", f.Status)
		}
		q = q.Where("status = ?", f.Status)
	}
	if f.CompanyID != "" {
		q = q.Where("company_id = ?", f.CompanyID)
	}
	if f.From != nil {
		q = q.Where("start_time >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("start_time < ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, Internal("failed to count visits", err)
	}

	page := f.Page.Normalize()
	var visits []models.Visit
	if err := q.Preload("Company").
		Order("start_time DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&visits).Error; err != nil {
		return nil, 0, Internal("failed to list visits", err)
	}
	return visits, total, nil
}

// ActiveVisit returns the caller's most recent open visit.
func (s *VisitService) ActiveVisit(ctx context.Context, userID string) (*models.Visit, error) {
	var visit models.Visit
	err := s.db.WithContext(ctx).
		Preload("Company").
		Where("user_id = ? AND status IN ? AND checked_in_at IS NOT NULL", userID, statusStrings(models.CheckOutStatuses)).
		Order("start_time DESC").
		First(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("no active visit")
		}
		return nil, Internal("failed to load active visit", err)
	}
	return &visit, nil
}

// ListFollowUps returns follow-ups on the caller's visits, soonest first.
func (s *VisitService) ListFollowUps(ctx context.Context, userID string, f FollowUpFilter) ([]models.FollowUp, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.FollowUp{}).
		Joins("JOIN visits ON visits.id = follow_ups.visit_id").
		Where("visits.user_id = ?", userID)
	if f.Status != "" {
		q = q.Where("follow_ups.status = ?", f.Status)
	}
	if f.Overdue {
		q = q.Where("follow_ups.status = ? AND follow_ups.due_date < ?", models.FollowUpPending, s.now())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, Internal("failed to count follow-ups", err)
	}

	page := f.Page.Normalize()
	var followUps []models.FollowUp
	if err := q.Preload("Visit.Company").
		Order("follow_ups.due_date ASC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&followUps).Error; err != nil {
		return nil, 0, Internal("failed to list follow-ups", err)
	}
	return followUps, total, nil
}

// UpdateFollowUpStatus completes or cancels a pending follow-up.
func (s *VisitService) UpdateFollowUpStatus(ctx context.Context, userID, followUpID string, status models.FollowUpStatus) (*models.FollowUp, error) {
	if status != models.FollowUpCompleted && status != models.FollowUpCancelled {
		return nil, Validation("status must be COMPLETED or CANCELLED")
	}

	var followUp models.FollowUp
	if err := s.db.WithContext(ctx).Preload("Visit").First(&followUp, "id = ?", followUpID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("follow-up not found")
		}
		return nil, Internal("failed to load follow-up", err)
	}
	if followUp.Visit == nil {
		return nil, NotFound("visit not found")
	}
	if err := assertOwnsVisit(followUp.Visit, userID); err != nil {
		return nil, err
	}
	if followUp.Status != models.FollowUpPending {
		return nil, InvalidState("follow-up is already %s", followUp.Status)
	}

	updates := map[string]interface{}{"status": status}
	if status == models.FollowUpCompleted {
		now := s.now()
		followUp.CompletedAt = &now
		updates["completed_at"] = now
	}
	res := s.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("id = ? AND status = ?", followUp.ID, models.FollowUpPending).
		Updates(updates)
	if res.Error != nil {
		return nil, Internal("failed to update follow-up", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, InvalidState("follow-up status changed")
	}
	followUp.Status = status

	s.invalidate(ctx, followUp.VisitID)
	s.log.Info().Str("follow_up_id", followUp.ID).Str("status", string(status)).Msg("follow-up updated")
	return &followUp, nil
}

