package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fieldsales-server/internal/middleware"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/services"
	"fieldsales-server/internal/utils"
)

// ReportHandler serves activity reports.
type ReportHandler struct {
	Reports *services.ReportService
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports *services.ReportService) *ReportHandler {
	return &ReportHandler{Reports: reports}
}

// reportFilter scopes a report to the caller. Holders of read:team-reports
// may pick ?userId=, ?area= and ?region=; without ?userId= they see the team.
func reportFilter(c *gin.Context) (services.ReportFilter, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return services.ReportFilter{}, false
	}
	if !middleware.HasPermission(c, models.PermReadTeamReports) {
		return services.ReportFilter{UserID: userID}, true
	}
	return services.ReportFilter{
		UserID: c.Query("userId"),
		Area:   c.Query("area"),
		Region: c.Query("region"),
	}, true
}

func reportDay(c *gin.Context) (time.Time, bool) {
	day, err := utils.ParseDateQuery(c, "date")
	if err != nil {
		utils.BadRequest(c, "date must be YYYY-MM-DD or RFC3339")
		return time.Time{}, false
	}
	if day == nil {
		return time.Now().UTC(), true
	}
	return *day, true
}

// GetDailyReport returns the summary for ?date= (default today, UTC).
func (h *ReportHandler) GetDailyReport(c *gin.Context) {
	f, ok := reportFilter(c)
	if !ok {
		return
	}
	day, ok := reportDay(c)
	if !ok {
		return
	}

	summary, err := h.Reports.Daily(c.Request.Context(), f, day)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Daily report fetched successfully", summary)
}

// GetWeeklyReport returns the summary for the Monday-based week containing ?date=.
func (h *ReportHandler) GetWeeklyReport(c *gin.Context) {
	f, ok := reportFilter(c)
	if !ok {
		return
	}
	day, ok := reportDay(c)
	if !ok {
		return
	}

	summary, err := h.Reports.Weekly(c.Request.Context(), f, day)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Weekly report fetched successfully", summary)
}

// GetMonthlyReport returns ?year=&month= (default current month) with weekly
// breakdown and the top ?top= companies.
func (h *ReportHandler) GetMonthlyReport(c *gin.Context) {
	f, ok := reportFilter(c)
	if !ok {
		return
	}

	now := time.Now().UTC()
	year, month := now.Year(), int(now.Month())
	if raw := c.Query("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			utils.BadRequest(c, "year must be a number")
			return
		}
		year = y
	}
	if raw := c.Query("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil {
			utils.BadRequest(c, "month must be a number")
			return
		}
		month = m
	}
	top, _ := strconv.Atoi(c.Query("top"))

	report, err := h.Reports.Monthly(c.Request.Context(), f, year, time.Month(month), top)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Monthly report fetched successfully", report)
}
