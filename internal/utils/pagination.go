package utils

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fieldsales-server/internal/services"
)

// Pagination is returned with every list.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// NewPagination builds the metadata for a page of total rows.
func NewPagination(page services.Page, total int64) Pagination {
	page = page.Normalize()
	pages := int((total + int64(page.Limit) - 1) / int64(page.Limit))
	return Pagination{Page: page.Page, Limit: page.Limit, Total: total, TotalPages: pages}
}

// ParsePage reads ?page= and ?limit=. Invalid values fall back to defaults.
func ParsePage(c *gin.Context) services.Page {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return services.Page{Page: page, Limit: limit}.Normalize()
}

// ParseDateQuery reads a YYYY-MM-DD or RFC3339 query parameter. A missing
// parameter returns nil.
func ParseDateQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
