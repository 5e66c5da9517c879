package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func ctxFor(target string) echo.Context {
	return echo.New().NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Limit: DefaultLimit}},
		{"?limit=50&offset=10", Params{Limit: 50, Offset: 10}},
		{"?limit=1000", Params{Limit: MaxLimit}},
		{"?limit=-4&offset=-2", Params{Limit: DefaultLimit}},
		{"?limit=ten&offset=x", Params{Limit: DefaultLimit}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FromContext(ctxFor("/api/v1/patients"+tt.query)), tt.query)
	}
}

func TestParams_Navigation(t *testing.T) {
	tests := []struct {
		p        Params
		total    int
		hasNext  bool
		hasPrev  bool
		next     int
		previous int
	}{
		{Params{Limit: 10}, 25, true, false, 10, 0},
		{Params{Limit: 10, Offset: 10}, 25, true, true, 20, 0},
		{Params{Limit: 10, Offset: 20}, 25, false, true, 30, 10},
		{Params{Limit: 10, Offset: 5}, 15, false, true, 15, 0},
		{Params{Limit: 10}, 0, false, false, 10, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.hasNext, tt.p.HasNext(tt.total), "%+v next", tt.p)
		assert.Equal(t, tt.hasPrev, tt.p.HasPrevious(), "%+v previous", tt.p)
		assert.Equal(t, tt.next, tt.p.NextOffset())
		assert.Equal(t, tt.previous, tt.p.PreviousOffset())
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 10, 2, 8)
	assert.Equal(t, 10, r.Total)
	assert.False(t, r.HasMore)

	r = NewResponse([]string{"a", "b"}, 10, 2, 4)
	assert.True(t, r.HasMore)
}

func TestParams_Page_Links(t *testing.T) {
	c := ctxFor("/api/v1/encounters?patient_id=7&limit=10&offset=10")
	r := FromContext(c).Page(c, []int{1, 2}, 35)

	assert.True(t, r.HasMore)
	assert.Equal(t, "/api/v1/encounters?limit=10&offset=20&patient_id=7", r.Next)
	assert.Equal(t, "/api/v1/encounters?limit=10&offset=0&patient_id=7", r.Previous)
}

func TestParams_Page_SinglePage(t *testing.T) {
	c := ctxFor("/api/v1/codes")
	r := FromContext(c).Page(c, []string{"J00"}, 1)

	assert.False(t, r.HasMore)
	assert.Empty(t, r.Next)
	assert.Empty(t, r.Previous)
}
