package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultMaxLogEntries = 10000

// LogEntry は単一のリクエストログを表します。
type LogEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	Shop         string        `json:"shop,omitempty"`
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
}

// MonitoringService はAPIのモニタリング機能を提供します。
type MonitoringService struct {
	logs       []LogEntry
	maxEntries int
	now        func() time.Time
	mu         sync.RWMutex
}

// NewMonitoringService は新しいMonitoringServiceを生成します。
func NewMonitoringService() *MonitoringService {
	return &MonitoringService{
		logs:       make([]LogEntry, 0),
		maxEntries: defaultMaxLogEntries,
		now:        time.Now,
	}
}

// LogRequest はリクエストを記録します。上限を超えた古いログは破棄されます。
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if over := len(s.logs) - s.maxEntries; over > 0 {
		s.logs = append([]LogEntry(nil), s.logs[over:]...)
	}
}

// LoggingMiddleware はリクエスト情報を記録し、zerologへ出力するGinミドルウェアです。
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()

		// 次のミドルウェア/ハンドラを実行
		c.Next()

		path := c.Request.URL.Path
		entry := LogEntry{
			Timestamp:    start,
			Path:         routeOrPath(c),
			Method:       c.Request.Method,
			Shop:         c.Param("shop"),
			StatusCode:   c.Writer.Status(),
			ResponseTime: time.Since(start),
		}

		event := log.Info()
		if entry.StatusCode >= 500 {
			event = log.Error()
		} else if entry.StatusCode >= 400 {
			event = log.Warn()
		}
		event.Str("method", entry.Method).
			Str("path", path).
			Str("shop", entry.Shop).
			Int("status", entry.StatusCode).
			Dur("elapsed", entry.ResponseTime).
			Msg("request")

		// ヘルスチェックとモニタリング自体は集計から除外
		if path == "/health" || strings.HasPrefix(path, "/api/v1/monitoring") {
			return
		}
		s.LogRequest(entry)
	}
}

// routeOrPath はルートのパターンを返します。未登録ルートは実パスです。
func routeOrPath(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}

// EndpointStat はエンドポイント別の集計値です。
type EndpointStat struct {
	Endpoint       string `json:"endpoint"`
	Requests       int    `json:"requests"`
	AvgResponseMs  int64  `json:"avg_response_ms"`
	ServerErrors   int    `json:"server_errors"`
	ClientErrors   int    `json:"client_errors"`
	LastStatusCode int    `json:"last_status_code"`
}

// DashboardData はダッシュボードに表示するための集計済みデータです。
type DashboardData struct {
	PeriodHours      int            `json:"period_hours"`
	TotalRequests    int            `json:"total_requests"`
	RequestsOverTime []HourlyCount  `json:"requests_over_time"`
	StatusCodes      map[string]int `json:"status_codes"`
	Endpoints        []EndpointStat `json:"endpoints"`
	RecentErrors     []LogEntry     `json:"recent_errors"`
}

// HourlyCount 1時間あたりのリクエスト数
type HourlyCount struct {
	Hour     time.Time `json:"hour"`
	Requests int       `json:"requests"`
}

// GetDashboardData は指定された期間のログを集計してダッシュボード用データを返します。
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	if periodHours <= 0 {
		periodHours = 24
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UTC()
	since := now.Add(-time.Duration(periodHours) * time.Hour)
	firstHour := now.Truncate(time.Hour).Add(-time.Duration(periodHours-1) * time.Hour)

	data := DashboardData{
		PeriodHours:      periodHours,
		RequestsOverTime: make([]HourlyCount, periodHours),
		StatusCodes:      map[string]int{"2xx": 0, "4xx": 0, "5xx": 0},
		RecentErrors:     make([]LogEntry, 0),
	}
	for i := range data.RequestsOverTime {
		data.RequestsOverTime[i].Hour = firstHour.Add(time.Duration(i) * time.Hour)
	}

	stats := make(map[string]*EndpointStat)
	durations := make(map[string]time.Duration)

	for _, entry := range s.logs {
		if !entry.Timestamp.After(since) {
			continue
		}
		data.TotalRequests++

		if idx := int(entry.Timestamp.UTC().Truncate(time.Hour).Sub(firstHour) / time.Hour); idx >= 0 && idx < periodHours {
			data.RequestsOverTime[idx].Requests++
		}

		st, ok := stats[entry.Path]
		if !ok {
			st = &EndpointStat{Endpoint: entry.Path}
			stats[entry.Path] = st
		}
		st.Requests++
		st.LastStatusCode = entry.StatusCode
		durations[entry.Path] += entry.ResponseTime

		switch {
		case entry.StatusCode >= 500:
			data.StatusCodes["5xx"]++
			st.ServerErrors++
		case entry.StatusCode >= 400:
			data.StatusCodes["4xx"]++
			st.ClientErrors++
		case entry.StatusCode >= 200 && entry.StatusCode < 300:
			data.StatusCodes["2xx"]++
		}
	}

	for path, st := range stats {
		st.AvgResponseMs = durations[path].Milliseconds() / int64(st.Requests)
		data.Endpoints = append(data.Endpoints, *st)
	}
	sort.Slice(data.Endpoints, func(i, j int) bool {
		if data.Endpoints[i].Requests != data.Endpoints[j].Requests {
			return data.Endpoints[i].Requests > data.Endpoints[j].Requests
		}
		return data.Endpoints[i].Endpoint < data.Endpoints[j].Endpoint
	})

	// 直近の5xxエラー（新しい順に最大10件）
	for i := len(s.logs) - 1; i >= 0 && len(data.RecentErrors) < 10; i-- {
		entry := s.logs[i]
		if entry.StatusCode >= 500 && entry.Timestamp.After(since) {
			data.RecentErrors = append(data.RecentErrors, entry)
		}
	}

	return data
}
