package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fieldsales-server/internal/cache"
	"fieldsales-server/internal/models"
)

const defaultTopCompanies = 5

// ReportService builds daily, weekly and monthly sales rollups. It only
// reads; the one write is the stored daily report snapshot.
type ReportService struct {
	db    *gorm.DB
	cache cacheHelper
	log   zerolog.Logger
	now   func() time.Time
}

// NewReportService creates a new ReportService.
func NewReportService(db *gorm.DB, c cache.Cache, cacheTTL time.Duration, log zerolog.Logger) *ReportService {
	return &ReportService{
		db:    db,
		cache: newCacheHelper(c, cacheTTL, log),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ReportFilter scopes a report. An empty UserID covers the whole team.
type ReportFilter struct {
	UserID string
	Area   string
	Region string
}

// Summary is the rollup for one date range. Every visit status is present in
// VisitsByStatus, zero when there were none.
type Summary struct {
	UserID                 string           `json:"userId,omitempty"`
	Area                   string           `json:"area,omitempty"`
	Region                 string           `json:"region,omitempty"`
	From                   time.Time        `json:"from"`
	To                     time.Time        `json:"to"`
	TotalVisits            int64            `json:"totalVisits"`
	VisitsByStatus         map[string]int64 `json:"visitsByStatus"`
	CompletedVisits        int64            `json:"completedVisits"`
	AverageDurationMinutes float64          `json:"averageDurationMinutes"`
	TotalPhotos            int64            `json:"totalPhotos"`
	TotalFollowUps         int64            `json:"totalFollowUps"`
	TotalPayments          int64            `json:"totalPayments"`
	AmountCollected        decimal.Decimal  `json:"amountCollected"`
	TotalCalls             int64            `json:"totalCalls"`
	CallsByStatus          map[string]int64 `json:"callsByStatus"`
}

// WeekBreakdown is one week of a monthly report.
type WeekBreakdown struct {
	WeekStart       time.Time       `json:"weekStart"`
	WeekEnd         time.Time       `json:"weekEnd"`
	Visits          int64           `json:"visits"`
	CompletedVisits int64           `json:"completedVisits"`
	Payments        int64           `json:"payments"`
	AmountCollected decimal.Decimal `json:"amountCollected"`
}

// TopCompany is a company ranked by visit count.
type TopCompany struct {
	CompanyID string `json:"companyId"`
	Name      string `json:"name"`
	Visits    int64  `gorm:"column:visit_count" json:"visits"`
}

// MonthlyReport adds weekly breakdowns and the most visited companies.
type MonthlyReport struct {
	Summary
	Weeks        []WeekBreakdown `json:"weeks"`
	TopCompanies []TopCompany    `json:"topCompanies"`
}

var doneStatuses = []string{string(models.VisitStatusCheckedOut), string(models.VisitStatusCompleted)}

// DayRange returns [00:00, 24:00) UTC of day.
func DayRange(day time.Time) (time.Time, time.Time) {
	d := day.UTC()
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

// WeekRange returns the Monday-based week containing day.
func WeekRange(day time.Time) (time.Time, time.Time) {
	from, _ := DayRange(day)
	offset := (int(from.Weekday()) + 6) % 7
	from = from.AddDate(0, 0, -offset)
	return from, from.AddDate(0, 0, 7)
}

// MonthRange returns the calendar month.
func MonthRange(year int, month time.Month) (time.Time, time.Time) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// Daily builds the report for one day.
func (s *ReportService) Daily(ctx context.Context, f ReportFilter, day time.Time) (*Summary, error) {
	from, to := DayRange(day)
	return s.cachedSummary(ctx, "daily", f, from, to)
}

// Weekly builds the report for the week containing day.
func (s *ReportService) Weekly(ctx context.Context, f ReportFilter, day time.Time) (*Summary, error) {
	from, to := WeekRange(day)
	return s.cachedSummary(ctx, "weekly", f, from, to)
}

// Monthly builds the report for a calendar month.
func (s *ReportService) Monthly(ctx context.Context, f ReportFilter, year int, month time.Month, topN int) (*MonthlyReport, error) {
	if month < time.January || month > time.December {
		return nil, Validation("month must be between 1 and 12")
	}
	if topN < 1 {
		topN = defaultTopCompanies
	}
	from, to := MonthRange(year, month)

	key := reportCacheKey("monthly", f, from) + fmt.Sprintf(":%d", topN)
	cacheable := !to.After(s.now())
	var cached MonthlyReport
	if cacheable && s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	summary, err := s.Summarize(ctx, f, from, to)
	if err != nil {
		return nil, err
	}
	weeks, err := s.weeklyBreakdown(ctx, f, from, to)
	if err != nil {
		return nil, err
	}
	top, err := s.topCompanies(ctx, f, from, to, topN)
	if err != nil {
		return nil, err
	}

	report := &MonthlyReport{Summary: *summary, Weeks: weeks, TopCompanies: top}
	if cacheable {
		s.cache.set(ctx, key, report)
	}
	return report, nil
}

func reportCacheKey(kind string, f ReportFilter, from time.Time) string {
	user := f.UserID
	if user == "" {
		user = "all"
	}
	return fmt.Sprintf("report:%s:%s:%s:%s:%s", kind, user, from.Format("2006-01-02"), f.Area, f.Region)
}

// cachedSummary caches only ranges that are already over.
func (s *ReportService) cachedSummary(ctx context.Context, kind string, f ReportFilter, from, to time.Time) (*Summary, error) {
	key := reportCacheKey(kind, f, from)
	cacheable := !to.After(s.now())

	var cached Summary
	if cacheable && s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}
	summary, err := s.Summarize(ctx, f, from, to)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cache.set(ctx, key, summary)
	}
	return summary, nil
}

// visitScope restricts a query that already references visits to the filter
// and range.
func visitScope(f ReportFilter, from, to time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("visits.start_time >= ? AND visits.start_time < ?", from, to)
		if f.UserID != "" {
			db = db.Where("visits.user_id = ?", f.UserID)
		}
		if f.Area != "" || f.Region != "" {
			db = db.Joins("JOIN companies ON companies.id = visits.company_id")
			if f.Area != "" {
				db = db.Where("companies.area = ?", f.Area)
			}
			if f.Region != "" {
				db = db.Where("companies.region = ?", f.Region)
			}
		}
		return db
	}
}

// Summarize builds the rollup for [from, to).
func (s *ReportService) Summarize(ctx context.Context, f ReportFilter, from, to time.Time) (*Summary, error) {
	db := s.db.WithContext(ctx)
	summary := &Summary{
		UserID:          f.UserID,
		Area:            f.Area,
		Region:          f.Region,
		From:            from,
		To:              to,
		VisitsByStatus:  map[string]int64{},
		CallsByStatus:   map[string]int64{},
		AmountCollected: decimal.Zero,
	}
	for _, st := range models.AllVisitStatuses {
		summary.VisitsByStatus[string(st)] = 0
	}
	for _, st := range []models.CallStatus{models.CallStatusScheduled, models.CallStatusCompleted, models.CallStatusMissed, models.CallStatusCancelled, models.CallStatusRescheduled} {
		summary.CallsByStatus[string(st)] = 0
	}

	type statusCount struct {
		Status string
		Count  int64
	}

	var byStatus []statusCount
	if err := db.Model(&models.Visit{}).Scopes(visitScope(f, from, to)).
		Select("visits.status AS status, COUNT(*) AS count").
		Group("visits.status").
		Scan(&byStatus).Error; err != nil {
		return nil, Internal("failed to count visits", err)
	}
	for _, row := range byStatus {
		summary.VisitsByStatus[row.Status] = row.Count
		summary.TotalVisits += row.Count
	}
	for _, st := range doneStatuses {
		summary.CompletedVisits += summary.VisitsByStatus[st]
	}

	var avg sql.NullFloat64
	if err := db.Model(&models.Visit{}).Scopes(visitScope(f, from, to)).
		Where("visits.status IN ? AND visits.duration_minutes IS NOT NULL", doneStatuses).
		Select("AVG(visits.duration_minutes)").
		Scan(&avg).Error; err != nil {
		return nil, Internal("failed to average visit duration", err)
	}
	if avg.Valid {
		summary.AverageDurationMinutes = decimal.NewFromFloat(avg.Float64).Round(1).InexactFloat64()
	}

	if err := db.Model(&models.VisitPhoto{}).
		Joins("JOIN visits ON visits.id = visit_photos.visit_id").
		Scopes(visitScope(f, from, to)).
		Count(&summary.TotalPhotos).Error; err != nil {
		return nil, Internal("failed to count photos", err)
	}
	if err := db.Model(&models.FollowUp{}).
		Joins("JOIN visits ON visits.id = follow_ups.visit_id").
		Scopes(visitScope(f, from, to)).
		Count(&summary.TotalFollowUps).Error; err != nil {
		return nil, Internal("failed to count follow-ups", err)
	}

	var payments struct {
		Count int64
		Total decimal.NullDecimal
	}
	if err := db.Model(&models.Payment{}).
		Joins("JOIN visits ON visits.id = payments.visit_id").
		Scopes(visitScope(f, from, to)).
		Select("COUNT(*) AS count, SUM(payments.amount) AS total").
		Scan(&payments).Error; err != nil {
		return nil, Internal("failed to sum payments", err)
	}
	summary.TotalPayments = payments.Count
	if payments.Total.Valid {
		summary.AmountCollected = payments.Total.Decimal.Round(2)
	}

	var calls []statusCount
	cq := db.Model(&models.Call{}).
		Where("calls.scheduled_at >= ? AND calls.scheduled_at < ?", from, to)
	if f.UserID != "" {
		cq = cq.Where("calls.user_id = ?", f.UserID)
	}
	if f.Area != "" || f.Region != "" {
		cq = cq.Joins("JOIN companies ON companies.id = calls.company_id")
		if f.Area != "" {
			cq = cq.Where("companies.area = ?", f.Area)
		}
		if f.Region != "" {
			cq = cq.Where("companies.region = ?", f.Region)
		}
	}
	if err := cq.Select("calls.status AS status, COUNT(*) AS count").
		Group("calls.status").
		Scan(&calls).Error; err != nil {
		return nil, Internal("failed to count calls", err)
	}
	for _, row := range calls {
		summary.CallsByStatus[row.Status] = row.Count
		summary.TotalCalls += row.Count
	}

	return summary, nil
}

// weeklyBreakdown splits [from, to) into Monday-based weeks clipped to the
// range and buckets visits and payments into them.
func (s *ReportService) weeklyBreakdown(ctx context.Context, f ReportFilter, from, to time.Time) ([]WeekBreakdown, error) {
	var weeks []WeekBreakdown
	for start := from; start.Before(to); {
		_, end := WeekRange(start)
		if end.After(to) {
			end = to
		}
		weeks = append(weeks, WeekBreakdown{WeekStart: start, WeekEnd: end, AmountCollected: decimal.Zero})
		start = end
	}
	bucket := func(t time.Time) int {
		for i, w := range weeks {
			if !t.Before(w.WeekStart) && t.Before(w.WeekEnd) {
				return i
			}
		}
		return -1
	}

	db := s.db.WithContext(ctx)

	var visits []struct {
		StartTime time.Time
		Status    string
	}
	if err := db.Model(&models.Visit{}).Scopes(visitScope(f, from, to)).
		Select("visits.start_time AS start_time, visits.status AS status").
		Scan(&visits).Error; err != nil {
		return nil, Internal("failed to load visits", err)
	}
	for _, v := range visits {
		i := bucket(v.StartTime.UTC())
		if i < 0 {
			continue
		}
		weeks[i].Visits++
		if v.Status == doneStatuses[0] || v.Status == doneStatuses[1] {
			weeks[i].CompletedVisits++
		}
	}

	var payments []struct {
		StartTime time.Time
		Amount    decimal.Decimal
	}
	if err := db.Model(&models.Payment{}).
		Joins("JOIN visits ON visits.id = payments.visit_id").
		Scopes(visitScope(f, from, to)).
		Select("visits.start_time AS start_time, payments.amount AS amount").
		Scan(&payments).Error; err != nil {
		return nil, Internal("failed to load payments", err)
	}
	for _, p := range payments {
		i := bucket(p.StartTime.UTC())
		if i < 0 {
			continue
		}
		weeks[i].Payments++
		weeks[i].AmountCollected = weeks[i].AmountCollected.Add(p.Amount)
	}

	return weeks, nil
}

func (s *ReportService) topCompanies(ctx context.Context, f ReportFilter, from, to time.Time, n int) ([]TopCompany, error) {
	top := []TopCompany{}
	q := s.db.WithContext(ctx).Model(&models.Visit{}).Scopes(visitScope(f, from, to))
	if f.Area == "" && f.Region == "" {
		// visitScope only joins companies when filtering by them
		q = q.Joins("JOIN companies ON companies.id = visits.company_id")
	}
	err := q.Select("visits.company_id AS company_id, companies.name AS name, COUNT(*) AS visit_count").
		Group("visits.company_id, companies.name").
		Order("visit_count DESC, companies.name ASC").
		Limit(n).
		Scan(&top).Error
	if err != nil {
		return nil, Internal("failed to rank companies", err)
	}
	return top, nil
}

// SaveDailyReport upserts the stored snapshot for (userID, day).
func (s *ReportService) SaveDailyReport(ctx context.Context, userID string, day time.Time, summary *Summary, fileURL string) (*models.DailyReport, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}
	date, _ := DayRange(day)

	report := &models.DailyReport{
		UserID:     userID,
		ReportDate: date,
		Summary:    datatypes.JSON(data),
		FileURL:    fileURL,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "report_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "file_url", "updated_at"}),
	}).Create(report).Error
	if err != nil {
		return nil, fmt.Errorf("saving daily report: %w", err)
	}

	// on conflict the row keeps its original id
	var stored models.DailyReport
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND report_date = ?", userID, date).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("loading daily report: %w", err)
	}
	return &stored, nil
}
