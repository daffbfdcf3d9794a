package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fieldsales-server/internal/models"
)

// TokenCleanupName is the job name used by the scheduler and the CLI.
const TokenCleanupName = "token-cleanup"

// TokenCleanup deletes refresh tokens that can no longer be used.
type TokenCleanup struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTokenCleanup creates the token cleanup job.
func NewTokenCleanup(db *gorm.DB) *TokenCleanup {
	return &TokenCleanup{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Run deletes expired and revoked refresh tokens.
func (j *TokenCleanup) Run(ctx context.Context) error {
	res := j.db.WithContext(ctx).
		Where("expires_at < ? OR is_revoked = ?", j.now(), true).
		Delete(&models.RefreshToken{})
	if res.Error != nil {
		return fmt.Errorf("deleting refresh tokens: %w", res.Error)
	}
	zerolog.Ctx(ctx).Info().Int64("deleted", res.RowsAffected).Msg("refresh tokens cleaned up")
	return nil
}
