package api

import (
	"errors"  // Error inspection
	"strconv" // String conversion
	"time"    // Date parsing

	"finance_ledger/internal/ledger" // Money bounds

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Exact decimal money
)

// dateLayouts are the accepted date formats, most specific first
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", time.DateOnly}

// parseDate parses a client supplied date in any of dateLayouts
func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// moneyError checks v fits the stored money precision and range
func moneyError(field string, v decimal.Decimal) (FieldError, bool) {
	if err := ledger.CheckMoney(field, v); err != nil {
		var vErr *ledger.ValidationError
		if errors.As(err, &vErr) {
			return FieldError{Field: vErr.Field, Message: vErr.Message}, true
		}
		return FieldError{Field: field, Message: err.Error()}, true
	}
	return FieldError{}, false
}

// idParam reads a positive numeric path parameter
func idParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// pageParams reads page and limit, falling back to defaults on missing or invalid values
func pageParams(c *gin.Context, defaultLimit, maxLimit int) (int, int) {
	page := 1             // Default page
	limit := defaultLimit // Default page size
	// If page exists in query
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v // Set page if valid
		}
	}
	// If limit exists in query
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= maxLimit {
			limit = v // Set limit if valid
		}
	}
	return page, limit
}

// Pagination describes one page of a list response
type Pagination struct {
	Page  int   `json:"page"`  // Current page
	Limit int   `json:"limit"` // Page size
	Total int64 `json:"total"` // Total rows
	Pages int   `json:"pages"` // Total pages
}

func newPagination(page, limit int, total int64) Pagination {
	return Pagination{
		Page:  page,
		Limit: limit,
		Total: total,
		Pages: int((total + int64(limit) - 1) / int64(limit)),
	}
}
