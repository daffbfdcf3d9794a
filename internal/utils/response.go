package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fieldsales-server/internal/services"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// ResponseData represents the structure of a standard API response.
type ResponseData struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

// PagedData wraps a list with its pagination.
type PagedData struct {
	Items      interface{} `json:"items"`
	Pagination Pagination  `json:"pagination"`
}

// Success sends a standard success response.
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, ResponseData{
		Status:  statusSuccess,
		Message: message,
		Data:    data,
	})
}

// Created sends a standard resource created response.
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, ResponseData{
		Status:  statusSuccess,
		Message: message,
		Data:    data,
	})
}

// Paged sends a list with pagination metadata.
func Paged(c *gin.Context, message string, items interface{}, page services.Page, total int64) {
	Success(c, message, PagedData{Items: items, Pagination: NewPagination(page, total)})
}

// Error sends a standard error response.
func Error(c *gin.Context, statusCode int, errorMessage string) {
	c.AbortWithStatusJSON(statusCode, ResponseData{
		Status:  statusError,
		Message: errorMessage,
	})
}

// ValidationError sends a 400 with per-field messages.
func ValidationError(c *gin.Context, message string, fieldErrors map[string]string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ResponseData{
		Status:  statusError,
		Message: message,
		Errors:  fieldErrors,
	})
}

// BadRequest sends a 400 Bad Request error response.
func BadRequest(c *gin.Context, errorMessage string) {
	Error(c, http.StatusBadRequest, errorMessage)
}

// Unauthorized sends a 401 Unauthorized error response.
func Unauthorized(c *gin.Context, errorMessage string) {
	Error(c, http.StatusUnauthorized, errorMessage)
}

// Forbidden sends a 403 Forbidden error response.
func Forbidden(c *gin.Context, errorMessage string) {
	Error(c, http.StatusForbidden, errorMessage)
}

// NotFound sends a 404 Not Found error response.
func NotFound(c *gin.Context, errorMessage string) {
	Error(c, http.StatusNotFound, errorMessage)
}

// Conflict sends a 409 Conflict error response.
func Conflict(c *gin.Context, errorMessage string) {
	Error(c, http.StatusConflict, errorMessage)
}

// InternalServerError sends a 500 Internal Server Error response.
func InternalServerError(c *gin.Context, errorMessage string) {
	Error(c, http.StatusInternalServerError, errorMessage)
}

// HandleServiceError maps a service error to its response. Internal errors
// are logged with the request logger and answered with a generic message.
func HandleServiceError(c *gin.Context, err error) {
	var se *services.Error
	if !errors.As(err, &se) || se.Kind == services.KindInternal {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.FullPath()).
			Msg("request failed")
		InternalServerError(c, "Something went wrong, please try again")
		return
	}
	Error(c, se.Kind.HTTPStatus(), se.Message)
}
