package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fieldsales-server/internal/models"
)

// CallService schedules and tracks phone calls with companies.
type CallService struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

// NewCallService creates a new CallService.
func NewCallService(db *gorm.DB, log zerolog.Logger) *CallService {
	return &CallService{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// ScheduleCallInput creates a call.
type ScheduleCallInput struct {
	CompanyID   string
	ContactID   string
	ScheduledAt time.Time
	Purpose     string
}

// CallOutcomeInput closes a call.
type CallOutcomeInput struct {
	Status          models.CallStatus
	Outcome         string
	DurationSeconds int
}

// CallFilter narrows ListCalls.
type CallFilter struct {
	Status models.CallStatus
	From   *time.Time
	To     *time.Time
	Page   Page
}

func assertOwnsCall(call *models.Call, userID string) error {
	if call.UserID != userID {
		return Forbidden("you do not have access to this call")
	}
	return nil
}

func (s *CallService) loadOwnedCall(ctx context.Context, userID, id string) (*models.Call, error) {
	var call models.Call
	if err := s.db.WithContext(ctx).Preload("Company").Preload("Contact").First(&call, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("call not found")
		}
		return nil, Internal("failed to load call", err)
	}
	if err := assertOwnsCall(&call, userID); err != nil {
		return nil, err
	}
	return &call, nil
}

// ScheduleCall creates a SCHEDULED call. A contact, when given, must belong
// to the company.
func (s *CallService) ScheduleCall(ctx context.Context, userID string, in ScheduleCallInput) (*models.Call, error) {
	if in.ScheduledAt.IsZero() {
		return nil, Validation("scheduledAt is required")
	}

	db := s.db.WithContext(ctx)
	var company models.Company
	if err := db.First(&company, "id = ?", in.CompanyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("company not found")
		}
		return nil, Internal("failed to load company", err)
	}

	call := &models.Call{
		UserID:      userID,
		CompanyID:   company.ID,
		ScheduledAt: in.ScheduledAt.UTC(),
		Status:      models.CallStatusScheduled,
		Purpose:     in.Purpose,
	}
	if in.ContactID != "" {
		var contact models.Contact
		if err := db.First(&contact, "id = ?", in.ContactID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, NotFound("contact not found")
			}
			return nil, Internal("failed to load contact", err)
		}
		if contact.CompanyID != company.ID {
			return nil, Validation("contact does not belong to the company")
		}
		call.ContactID = &contact.ID
	}

	if err := db.Create(call).Error; err != nil {
		return nil, Internal("failed to schedule call", err)
	}
	s.log.Info().Str("call_id", call.ID).Str("user_id", userID).Time("scheduled_at", call.ScheduledAt).Msg("call scheduled")
	return call, nil
}

// GetCall returns one of the caller's calls.
func (s *CallService) GetCall(ctx context.Context, userID, id string) (*models.Call, error) {
	return s.loadOwnedCall(ctx, userID, id)
}

// ListCalls returns the caller's calls, soonest first.
func (s *CallService) ListCalls(ctx context.Context, userID string, f CallFilter) ([]models.Call, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Call{}).Where("user_id = ?", userID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("scheduled_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("scheduled_at < ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, Internal("failed to count calls", err)
	}

	page := f.Page.Normalize()
	var calls []models.Call
	if err := q.Preload("Company").Preload("Contact").
		Order("scheduled_at ASC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&calls).Error; err != nil {
		return nil, 0, Internal("failed to list calls", err)
	}
	return calls, total, nil
}

// UpdateCallStatus records the outcome of an open call.
func (s *CallService) UpdateCallStatus(ctx context.Context, userID, id string, in CallOutcomeInput) (*models.Call, error) {
	switch in.Status {
	case models.CallStatusCompleted, models.CallStatusMissed, models.CallStatusCancelled:
	default:
		return nil, Validation("status must be COMPLETED, MISSED or CANCELLED")
	}
	if in.DurationSeconds < 0 {
		return nil, Validation("durationSeconds cannot be negative")
	}

	call, err := s.loadOwnedCall(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !call.Status.IsOpen() {
		return nil, InvalidState("call is already %s", call.Status)
	}

	updates := map[string]interface{}{
		"status":           in.Status,
		"outcome":          in.Outcome,
		"duration_seconds": in.DurationSeconds,
	}
	if in.Status == models.CallStatusCompleted {
		now := s.now()
		call.CompletedAt = &now
		updates["completed_at"] = now
	}

	res := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ? AND status IN ?", call.ID, []string{string(models.CallStatusScheduled), string(models.CallStatusRescheduled)}).
		Updates(updates)
	if res.Error != nil {
		return nil, Internal("failed to update call", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, InvalidState("call status changed")
	}

	call.Status = in.Status
	call.Outcome = in.Outcome
	call.DurationSeconds = in.DurationSeconds
	s.log.Info().Str("call_id", call.ID).Str("status", string(call.Status)).Msg("call updated")
	return call, nil
}

// RescheduleCall moves an open call to a future time.
func (s *CallService) RescheduleCall(ctx context.Context, userID, id string, at time.Time) (*models.Call, error) {
	if !at.After(s.now()) {
		return nil, Validation("scheduledAt must be in the future")
	}

	call, err := s.loadOwnedCall(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !call.Status.IsOpen() {
		return nil, InvalidState("call is already %s", call.Status)
	}

	res := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ? AND status IN ?", call.ID, []string{string(models.CallStatusScheduled), string(models.CallStatusRescheduled)}).
		Updates(map[string]interface{}{
			"scheduled_at": at.UTC(),
			"status":       models.CallStatusRescheduled,
		})
	if res.Error != nil {
		return nil, Internal("failed to reschedule call", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, InvalidState("call status changed")
	}

	call.ScheduledAt = at.UTC()
	call.Status = models.CallStatusRescheduled
	s.log.Info().Str("call_id", call.ID).Time("scheduled_at", call.ScheduledAt).Msg("call rescheduled")
	return call, nil
}
