package http

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	echo "github.com/labstack/echo/v4"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// page reads limit/offset query parameters, falling back to defaults on
// garbage like the listing endpoints always did.
func page(c echo.Context) (limit, offset int) {
	limit = defaultLimit
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func queryInt64(c echo.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("%s must be a positive integer", name)
	}
	return n, nil
}

func pathID(c echo.Context, name string) (int64, error) {
	n, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || n <= 0 {
		return 0, apperr.Invalid("%s must be a positive integer", name)
	}
	return n, nil
}

// idList parses "1,2,3".
func idList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n <= 0 {
			return nil, apperr.Invalid("invalid id %q", part)
		}
		ids = append(ids, n)
	}
	return ids, nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// parseTime accepts RFC 3339, MySQL datetime or a bare date (UTC).
func parseTime(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Invalid("%s must be a date like 2006-01-02 15:04:05", field)
}

// parseMeta decodes the activation meta query parameter (a JSON object).
func parseMeta(raw string) (map[string]any, error) {
	meta := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, apperr.Invalid("meta must be a JSON object")
	}
	return meta, nil
}
