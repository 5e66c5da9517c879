package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
)

// BulkImportPath is the catalog import route, which accepts whole code
// lists and gets the larger limit.
const BulkImportPath = "/api/v1/codes/import"

// ParseLimit reads a size such as "1M", "512KB" or "1024" (bytes).
func ParseLimit(s string) (int64, error) {
	return bytes.Parse(strings.TrimSpace(s))
}

func isBulkImport(c echo.Context) bool {
	return c.Request().Method == http.MethodPost &&
		strings.TrimSuffix(c.Request().URL.Path, "/") == BulkImportPath
}

// BodyLimit caps request bodies at defaultLimit, except POST BulkImportPath
// which gets bulkLimit. Declared lengths are rejected up front and the rest
// fail with 413 while being read. Both limits must satisfy ParseLimit.
func BodyLimit(defaultLimit, bulkLimit string) echo.MiddlewareFunc {
	small := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   strings.TrimSpace(defaultLimit),
		Skipper: isBulkImport,
	})
	bulk := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   strings.TrimSpace(bulkLimit),
		Skipper: func(c echo.Context) bool { return !isBulkImport(c) },
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return small(bulk(next))
	}
}
