package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1M", 1 << 20, false},
		{"10MB", 10 << 20, false},
		{"512K", 512 << 10, false},
		{" 1G ", 1 << 30, false},
		{"1024", 1024, false},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLimit(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

// limitServer reads the whole body and echoes its length.
func limitServer(defaultLimit, bulkLimit string) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	e.Use(BodyLimit(defaultLimit, bulkLimit))
	read := func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]int{"read": len(b)})
	}
	e.POST("/api/v1/patients", read)
	e.POST(BulkImportPath, read)
	return e
}

func post(e *echo.Echo, path string, body []byte, declareLength bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if !declareLength {
		req.ContentLength = -1
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBodyLimit(t *testing.T) {
	e := limitServer("1K", "4K")
	tests := []struct {
		name     string
		path     string
		size     int
		declared bool
		status   int
	}{
		{"small body", "/api/v1/patients", 100, true, http.StatusOK},
		{"declared oversize", "/api/v1/patients", 2048, true, http.StatusRequestEntityTooLarge},
		{"undeclared oversize", "/api/v1/patients", 2048, false, http.StatusRequestEntityTooLarge},
		{"bulk import within bulk limit", BulkImportPath, 2048, true, http.StatusOK},
		{"bulk import over bulk limit", BulkImportPath, 8192, true, http.StatusRequestEntityTooLarge},
		{"bulk import trailing slash", BulkImportPath + "/", 2048, true, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(e, tt.path, bytes.Repeat([]byte("a"), tt.size), tt.declared)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestBodyLimit_ErrorBody(t *testing.T) {
	e := limitServer("1K", "4K")
	rec := post(e, "/api/v1/patients", []byte(strings.Repeat("x", 4096)), true)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusText(http.StatusRequestEntityTooLarge), body.Error)
}

func TestBodyLimit_EmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := BodyLimit("1", "1")(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
