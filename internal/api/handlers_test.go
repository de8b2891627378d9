package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParseStatsWindowDefaults(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/reason-stats", nil)

	since, until, limit := parseStatsWindow(c)

	assert.Equal(t, 5000, limit)
	assert.WithinDuration(t, time.Now(), until, 2*time.Second)
	assert.WithinDuration(t, until.AddDate(0, 0, -30), since, 2*time.Second)
}

func TestParseStatsWindowParsesQueryParams(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet,
		"/api/reason-stats?since=2026-01-01T00:00:00Z&until=2026-02-01T00:00:00Z&limit=10", nil)

	since, until, limit := parseStatsWindow(c)

	assert.Equal(t, 10, limit)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), since)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), until)
}

func TestParseStatsWindowClampsLimit(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/reason-stats?limit=999999", nil)

	_, _, limit := parseStatsWindow(c)

	assert.Equal(t, 20000, limit)
}
