package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"fieldsales-server/internal/models"
	"fieldsales-server/internal/services"
	"fieldsales-server/internal/utils"
)

// CallHandler handles scheduled phone calls.
type CallHandler struct {
	Calls *services.CallService
}

// NewCallHandler creates a new CallHandler.
func NewCallHandler(calls *services.CallService) *CallHandler {
	return &CallHandler{Calls: calls}
}

// ScheduleCallRequest represents the request body for scheduling a call.
type ScheduleCallRequest struct {
	CompanyID   string     `json:"companyId" validate:"required"`
	ContactID   string     `json:"contactId"`
	ScheduledAt *time.Time `json:"scheduledAt" validate:"required"`
	Purpose     string     `json:"purpose" validate:"max=255"`
}

// CallStatusRequest records the outcome of a call.
type CallStatusRequest struct {
	Status          string `json:"status" validate:"required,oneof=COMPLETED MISSED CANCELLED"`
	Outcome         string `json:"outcome"`
	DurationSeconds int    `json:"durationSeconds" validate:"min=0"`
}

// RescheduleCallRequest moves a call.
type RescheduleCallRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt" validate:"required"`
}

// ScheduleCall handles scheduling a new call.
func (h *CallHandler) ScheduleCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req ScheduleCallRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	call, err := h.Calls.ScheduleCall(c.Request.Context(), userID, services.ScheduleCallInput{
		CompanyID:   req.CompanyID,
		ContactID:   req.ContactID,
		ScheduledAt: *req.ScheduledAt,
		Purpose:     req.Purpose,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, "Call scheduled successfully", call)
}

// GetCalls lists the caller's calls. Filters: ?status=, ?from=, ?to=.
func (h *CallHandler) GetCalls(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	from, err := utils.ParseDateQuery(c, "from")
	if err != nil {
		utils.BadRequest(c, "from must be YYYY-MM-DD or RFC3339")
		return
	}
	to, err := utils.ParseDateQuery(c, "to")
	if err != nil {
		utils.BadRequest(c, "to must be YYYY-MM-DD or RFC3339")
		return
	}

	page := utils.ParsePage(c)
	calls, total, err := h.Calls.ListCalls(c.Request.Context(), userID, services.CallFilter{
		Status: models.CallStatus(c.Query("status")),
		From:   from,
		To:     to,
		Page:   page,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Paged(c, "Calls fetched successfully", calls, page, total)
}

// GetCall handles fetching one of the caller's calls.
func (h *CallHandler) GetCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	call, err := h.Calls.GetCall(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Call fetched successfully", call)
}

// UpdateCallStatus records a call's outcome.
func (h *CallHandler) UpdateCallStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req CallStatusRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	call, err := h.Calls.UpdateCallStatus(c.Request.Context(), userID, c.Param("id"), services.CallOutcomeInput{
		Status:          models.CallStatus(req.Status),
		Outcome:         req.Outcome,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Call updated successfully", call)
}

// RescheduleCall moves an open call to a new time.
func (h *CallHandler) RescheduleCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req RescheduleCallRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	call, err := h.Calls.RescheduleCall(c.Request.Context(), userID, c.Param("id"), *req.ScheduledAt)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Call rescheduled successfully", call)
}
