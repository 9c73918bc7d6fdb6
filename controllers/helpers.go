package controllers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/middleware"
)

// nowFunc is swapped in tests to pin the reporting day.
var nowFunc = time.Now

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		return uint(v), true
	case int64:
		return uint(v), true
	case float64:
		return uint(v), true
	default:
		return 0, false
	}
}

func pageParams(ctx *gin.Context) (int, int) {
	page, pageSize := 1, 10
	if v := strings.TrimSpace(ctx.Query("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := strings.TrimSpace(ctx.Query("page_size")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}
	return page, pageSize
}

// optionalBool parses "true"/"false"/"1"/"0"; anything else means no filter.
func optionalBool(raw string) *bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &b
}
