package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitoringDashboardAggregatesWithinPeriod(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	s := NewMonitoringService()
	s.now = func() time.Time { return now }

	s.LogRequest(LogEntry{Timestamp: now.Add(-10 * time.Minute), Path: "/api/v1/shops/:shop/predictions", StatusCode: 200, ResponseTime: 100 * time.Millisecond})
	s.LogRequest(LogEntry{Timestamp: now.Add(-70 * time.Minute), Path: "/api/v1/shops/:shop/predictions", StatusCode: 503, ResponseTime: 300 * time.Millisecond})
	s.LogRequest(LogEntry{Timestamp: now.Add(-5 * time.Minute), Path: "/api/v1/shops/:shop/credential", StatusCode: 400})
	s.LogRequest(LogEntry{Timestamp: now.Add(-48 * time.Hour), Path: "/old", StatusCode: 500})

	data := s.GetDashboardData(24)

	assert.Equal(t, 3, data.TotalRequests)
	assert.Equal(t, map[string]int{"2xx": 1, "4xx": 1, "5xx": 1}, data.StatusCodes)
	require.Len(t, data.RequestsOverTime, 24)
	assert.Equal(t, 2, data.RequestsOverTime[23].Requests)
	assert.Equal(t, 1, data.RequestsOverTime[22].Requests)

	require.Len(t, data.Endpoints, 2)
	assert.Equal(t, "/api/v1/shops/:shop/predictions", data.Endpoints[0].Endpoint)
	assert.Equal(t, 2, data.Endpoints[0].Requests)
	assert.Equal(t, int64(200), data.Endpoints[0].AvgResponseMs)
	assert.Equal(t, 1, data.Endpoints[0].ServerErrors)

	require.Len(t, data.RecentErrors, 1)
	assert.Equal(t, 503, data.RecentErrors[0].StatusCode)
}

func TestMonitoringLogRequestDropsOldestBeyondLimit(t *testing.T) {
	s := NewMonitoringService()
	s.maxEntries = 2

	for i := 0; i < 3; i++ {
		s.LogRequest(LogEntry{Path: "/p", StatusCode: 200 + i})
	}

	require.Len(t, s.logs, 2)
	assert.Equal(t, 201, s.logs[0].StatusCode)
}

func TestLoggingMiddlewareRecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewMonitoringService()

	r := gin.New()
	r.Use(s.LoggingMiddleware())
	r.GET("/api/v1/shops/:shop/predictions", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/v1/shops/demo.myshopify.com/predictions", "/health"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, s.logs, 1)
	assert.Equal(t, "/api/v1/shops/:shop/predictions", s.logs[0].Path)
	assert.Equal(t, "demo.myshopify.com", s.logs[0].Shop)
	assert.Equal(t, http.StatusAccepted, s.logs[0].StatusCode)
}
