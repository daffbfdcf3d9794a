package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fieldsales-server/internal/events"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/services"
	"fieldsales-server/internal/storage"
)

// DailyReportName is the job name used by the scheduler and the CLI.
const DailyReportName = "daily-report"

// DailyReport snapshots each active user's day into daily_reports and
// uploads a CSV copy.
type DailyReport struct {
	db      *gorm.DB
	reports *services.ReportService
	store   storage.ObjectStore
	events  *events.Publisher
	now     func() time.Time
}

// NewDailyReport creates the daily report job. store and pub may be nil.
func NewDailyReport(db *gorm.DB, reports *services.ReportService, store storage.ObjectStore, pub *events.Publisher) *DailyReport {
	return &DailyReport{
		db:      db,
		reports: reports,
		store:   store,
		events:  pub,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run generates today's reports.
func (j *DailyReport) Run(ctx context.Context) error {
	return j.Generate(ctx, j.now())
}

// Generate builds and stores reports for day. A failure for one user does not
// stop the others; the returned error counts them.
func (j *DailyReport) Generate(ctx context.Context, day time.Time) error {
	log := zerolog.Ctx(ctx)
	date, _ := services.DayRange(day)

	var users []models.User
	if err := j.db.WithContext(ctx).Where("is_active = ?", true).Order("email ASC").Find(&users).Error; err != nil {
		return fmt.Errorf("loading users: %w", err)
	}

	failed := 0
	for i := range users {
		user := &users[i]
		if err := j.generateFor(ctx, user, date); err != nil {
			failed++
			log.Error().Err(err).Str("user_id", user.ID).Msg("daily report failed")
		}
	}

	log.Info().Str("date", date.Format("2006-01-02")).Int("users", len(users)).Int("failed", failed).Msg("daily reports generated")
	if failed > 0 {
		return fmt.Errorf("%d of %d daily reports failed", failed, len(users))
	}
	return nil
}

func (j *DailyReport) generateFor(ctx context.Context, user *models.User, date time.Time) error {
	summary, err := j.reports.Daily(ctx, services.ReportFilter{UserID: user.ID}, date)
	if err != nil {
		return err
	}

	fileURL := ""
	if j.store != nil {
		data, err := RenderSummaryCSV(user, date, summary)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("reports/daily/%s/%s.csv", date.Format("2006-01-02"), user.ID)
		url, err := j.store.Put(ctx, key, data, "text/csv")
		if err != nil {
			// The snapshot is still worth keeping without its file.
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to upload report csv")
		} else {
			fileURL = url
		}
	}

	report, err := j.reports.SaveDailyReport(ctx, user.ID, date, summary, fileURL)
	if err != nil {
		return err
	}

	j.events.Publish(ctx, events.DailyReportGenerated, report.ID, "", map[string]interface{}{
		"user_id":      report.UserID,
		"report_date":  date.Format("2006-01-02"),
		"total_visits": summary.TotalVisits,
		"file_url":     fileURL,
	})
	return nil
}

// RenderSummaryCSV writes a summary as metric,value rows.
func RenderSummaryCSV(user *models.User, date time.Time, s *services.Summary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"metric", "value"},
		{"user_id", user.ID},
		{"user_email", user.Email},
		{"date", date.Format("2006-01-02")},
		{"total_visits", strconv.FormatInt(s.TotalVisits, 10)},
		{"completed_visits", strconv.FormatInt(s.CompletedVisits, 10)},
		{"average_duration_minutes", strconv.FormatFloat(s.AverageDurationMinutes, 'f', 1, 64)},
		{"photos", strconv.FormatInt(s.TotalPhotos, 10)},
		{"follow_ups", strconv.FormatInt(s.TotalFollowUps, 10)},
		{"payments", strconv.FormatInt(s.TotalPayments, 10)},
		{"amount_collected", s.AmountCollected.StringFixed(2)},
		{"calls", strconv.FormatInt(s.TotalCalls, 10)},
	}
	rows = append(rows, countRows("visits_", s.VisitsByStatus)...)
	rows = append(rows, countRows("calls_", s.CallsByStatus)...)

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("writing csv: %w", err)
	}
	return buf.Bytes(), nil
}

func countRows(prefix string, counts map[string]int64) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{prefix + k, strconv.FormatInt(counts[k], 10)})
	}
	return rows
}
