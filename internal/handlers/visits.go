package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fieldsales-server/internal/middleware"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/services"
	"fieldsales-server/internal/utils"
)

// VisitHandler exposes the visit lifecycle.
type VisitHandler struct {
	Visits         *services.VisitService
	MaxUploadBytes int64
}

// NewVisitHandler creates a new VisitHandler. maxUploadMB caps photo uploads.
func NewVisitHandler(visits *services.VisitService, maxUploadMB int) *VisitHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &VisitHandler{Visits: visits, MaxUploadBytes: int64(maxUploadMB) << 20}
}

// ScheduleVisitRequest plans a visit.
type ScheduleVisitRequest struct {
	CompanyID string     `json:"companyId" validate:"required"`
	StartTime *time.Time `json:"startTime" validate:"required"`
	Purpose   string     `json:"purpose" validate:"required,max=255"`
	Notes     string     `json:"notes"`
}

// CheckInRequest starts a visit, either new or a planned one via visitId.
type CheckInRequest struct {
	VisitID   string   `json:"visitId"`
	CompanyID string   `json:"companyId" validate:"required_without=VisitID"`
	Purpose   string   `json:"purpose" validate:"max=255"`
	Notes     string   `json:"notes"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
	Address   string   `json:"address" validate:"max=500"`
}

// CheckOutRequest ends a visit.
type CheckOutRequest struct {
	Notes     string   `json:"notes"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
}

// FollowUpRequest creates a follow-up.
type FollowUpRequest struct {
	DueDate  *time.Time `json:"dueDate" validate:"required"`
	Priority string     `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	Notes    string     `json:"notes" validate:"required"`
}

// FollowUpStatusRequest completes or cancels a follow-up.
type FollowUpStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=COMPLETED CANCELLED"`
}

// PaymentRequest records a payment. Amount accepts a JSON number or string.
type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod" validate:"required,oneof=CASH CHEQUE ONLINE UPI BANK_TRANSFER"`
	Reference     string          `json:"reference" validate:"max=100"`
	Notes         string          `json:"notes"`
}

// CancelVisitRequest cancels a visit.
type CancelVisitRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// UpdateVisitRequest patches a visit. Status and endTime need override:visits.
type UpdateVisitRequest struct {
	Purpose   *string    `json:"purpose" validate:"omitempty,max=255"`
	Notes     *string    `json:"notes"`
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Status    *string    `json:"status"`
}

// ScheduleVisit creates a PLANNED visit.
func (h *VisitHandler) ScheduleVisit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req ScheduleVisitRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	visit, err := h.Visits.ScheduleVisit(c.Request.Context(), userID, services.ScheduleVisitInput{
		CompanyID: req.CompanyID,
		StartTime: *req.StartTime,
		Purpose:   req.Purpose,
		Notes:     req.Notes,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, "Visit scheduled successfully", visit)
}

// CheckIn starts a visit.
func (h *VisitHandler) CheckIn(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req CheckInRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	visit, err := h.Visits.CheckIn(c.Request.Context(), userID, services.CheckInInput{
		VisitID:   req.VisitID,
		CompanyID: req.CompanyID,
		Purpose:   req.Purpose,
		Notes:     req.Notes,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Address:   req.Address,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, "Checked in successfully", visit)
}

// CheckOut ends the visit in the path.
func (h *VisitHandler) CheckOut(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req CheckOutRequest
	if c.Request.ContentLength != 0 && !utils.BindAndValidate(c, &req) {
		return
	}

	visit, err := h.Visits.CheckOut(c.Request.Context(), userID, c.Param("id"), services.CheckOutInput{
		Notes:     req.Notes,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Checked out successfully", visit)
}

// UploadPhoto accepts a multipart "photo" file (or "file") with an optional
// "caption" field.
func (h *VisitHandler) UploadPhoto(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	file, _, err := c.Request.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		file, _, err = c.Request.FormFile("file")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.Error(c, http.StatusRequestEntityTooLarge, "Photo exceeds the upload size limit")
			return
		}
		utils.BadRequest(c, "Error retrieving photo from form: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.BadRequest(c, "Error reading photo: "+err.Error())
		return
	}

	photo, err := h.Visits.UploadPhoto(c.Request.Context(), userID, c.Param("id"), services.PhotoInput{
		Data:    data,
		Caption: c.PostForm("caption"),
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, "Photo uploaded successfully", photo)
}

// CreateFollowUp attaches a follow-up to the visit in the path.
func (h *VisitHandler) CreateFollowUp(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req FollowUpRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	followUp, err := h.Visits.CreateFollowUp(c.Request.Context(), userID, c.Param("id"), services.FollowUpInput{
		DueDate:  *req.DueDate,
		Priority: models.FollowUpPriority(req.Priority),
		Notes:    req.Notes,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, "Follow-up created successfully", followUp)
}

// RecordPayment attaches a payment to the visit in the path.
func (h *VisitHandler) RecordPayment(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req PaymentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	payment, err := h.Visits.RecordPayment(c.Request.Context(), userID, c.Param("id"), services.PaymentInput{
		Amount:        req.Amount,
		PaymentMethod: models.PaymentMethod(req.PaymentMethod),
		Reference:     req.Reference,
		Notes:         req.Notes,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, "Payment recorded successfully", payment)
}

// CompleteVisit marks a checked-out visit COMPLETED.
func (h *VisitHandler) CompleteVisit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	visit, err := h.Visits.CompleteVisit(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Visit completed successfully", visit)
}

// CancelVisit cancels an open or planned visit.
func (h *VisitHandler) CancelVisit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req CancelVisitRequest
	if c.Request.ContentLength != 0 && !utils.BindAndValidate(c, &req) {
		return
	}

	visit, err := h.Visits.CancelVisit(c.Request.Context(), userID, c.Param("id"), req.Reason)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Visit cancelled successfully", visit)
}

// UpdateVisit patches the visit in the path.
func (h *VisitHandler) UpdateVisit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req UpdateVisitRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	in := services.UpdateVisitInput{
		Purpose:       req.Purpose,
		Notes:         req.Notes,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		AllowOverride: middleware.HasPermission(c, models.PermOverrideVisits),
	}
	if req.Status != nil {
		status := models.VisitStatus(*req.Status)
		in.Status = &status
	}

	visit, err := h.Visits.UpdateVisit(c.Request.Context(), userID, c.Param("id"), in)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Visit updated successfully", visit)
}

// GetVisit returns a visit with photos, follow-ups and payments.
func (h *VisitHandler) GetVisit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	visit, err := h.Visits.GetVisit(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Visit fetched successfully", visit)
}

// GetVisits lists the caller's visits. Filters: ?status=, ?companyId=,
// ?from= and ?to= (exclusive).
func (h *VisitHandler) GetVisits(c *gin.Context) {
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
	visits, total, err := h.Visits.ListVisits(c.Request.Context(), userID, services.VisitFilter{
		Status:    models.VisitStatus(c.Query("status")),
		CompanyID: c.Query("companyId"),
		From:      from,
		To:        to,
		Page:      page,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Paged(c, "Visits fetched successfully", visits, page, total)
}

// GetActiveVisit returns the caller's open visit.
func (h *VisitHandler) GetActiveVisit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	visit, err := h.Visits.ActiveVisit(c.Request.Context(), userID)
	if errors.Is(err, services.ErrNotFound) {
		// polled by the app; no open visit is a normal answer
		utils.Success(c, "No active visit", nil)
		return
	}
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Active visit fetched successfully", visit)
}

// GetFollowUps lists follow-ups on the caller's visits. Filters: ?status=
// and ?overdue=true.
func (h *VisitHandler) GetFollowUps(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	page := utils.ParsePage(c)
	followUps, total, err := h.Visits.ListFollowUps(c.Request.Context(), userID, services.FollowUpFilter{
		Status:  models.FollowUpStatus(c.Query("status")),
		Overdue: c.Query("overdue") == "true",
		Page:    page,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Paged(c, "Follow-ups fetched successfully", followUps, page, total)
}

// UpdateFollowUpStatus completes or cancels a follow-up.
func (h *VisitHandler) UpdateFollowUpStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req FollowUpStatusRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	followUp, err := h.Visits.UpdateFollowUpStatus(c.Request.Context(), userID, c.Param("id"), models.FollowUpStatus(req.Status))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Follow-up updated successfully", followUp)
}
