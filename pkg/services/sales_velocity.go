package services

import (
	"sync"
	"time"

	"restock-api/pkg/models"
)

// DefaultWindows 既定の集計期間（日数）
var DefaultWindows = []int{7, 14, 30}

// SalesVelocityCalculator 販売速度の集計
type SalesVelocityCalculator struct{}

// NewSalesVelocityCalculator 新しい販売速度集計を作成
func NewSalesVelocityCalculator() *SalesVelocityCalculator {
	return &SalesVelocityCalculator{}
}

// WindowCutoff returns UTC midnight of now-(windowDays-1), so a 7 day window covers today and the 6 days before it.
func WindowCutoff(now time.Time, windowDays int) time.Time {
	day := startOfDayUTC(now)
	if windowDays < 1 {
		return day
	}
	return day.AddDate(0, 0, -(windowDays - 1))
}

// Summarize は直近windowDays日間の販売数をバリアントごとに集計します。
// カタログに存在しないバリアントの注文は無視されます。
func (c *SalesVelocityCalculator) Summarize(variants []models.Variant, facts []models.OrderLineFact, windowDays int, now time.Time) map[string]models.SalesPeriodSummary {
	cutoff := WindowCutoff(now, windowDays)
	return c.aggregate(variants, facts, windowDays, func(t time.Time) bool {
		return !t.Before(cutoff)
	})
}

// SummarizeWindows は複数の集計期間を並行して計算します。
func (c *SalesVelocityCalculator) SummarizeWindows(variants []models.Variant, facts []models.OrderLineFact, windows []int, now time.Time) map[int]map[string]models.SalesPeriodSummary {
	result := make(map[int]map[string]models.SalesPeriodSummary, len(windows))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, w := range windows {
		wg.Add(1)
		go func(windowDays int) {
			defer wg.Done()
			summary := c.Summarize(variants, facts, windowDays, now)
			mu.Lock()
			result[windowDays] = summary
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return result
}

// SummarizeRange は [start, end] の日付範囲（両端の日を含む）で集計します。
// 範囲が逆転している場合は入れ替えます。戻り値の日数は集計に使用した日数です。
func (c *SalesVelocityCalculator) SummarizeRange(variants []models.Variant, facts []models.OrderLineFact, start, end time.Time) (map[string]models.SalesPeriodSummary, int) {
	from, to := startOfDayUTC(start), startOfDayUTC(end)
	if from.After(to) {
		from, to = to, from
	}
	days := RangeDays(from, to)
	until := to.AddDate(0, 0, 1)

	summary := c.aggregate(variants, facts, days, func(t time.Time) bool {
		return !t.Before(from) && t.Before(until)
	})
	return summary, days
}

// RangeDays counts calendar days between two dates, both inclusive.
func RangeDays(start, end time.Time) int {
	from, to := startOfDayUTC(start), startOfDayUTC(end)
	if from.After(to) {
		from, to = to, from
	}
	return int(to.Sub(from).Hours()/24) + 1
}

func (c *SalesVelocityCalculator) aggregate(variants []models.Variant, facts []models.OrderLineFact, days int, include func(time.Time) bool) map[string]models.SalesPeriodSummary {
	summary := make(map[string]models.SalesPeriodSummary, len(variants))
	for _, v := range variants {
		summary[v.ID] = models.SalesPeriodSummary{VariantID: v.ID, WindowDays: days}
	}

	for _, f := range facts {
		s, ok := summary[f.VariantID]
		if !ok || !include(f.CreatedAt) {
			continue
		}
		s.TotalSales += f.Quantity
		summary[f.VariantID] = s
	}

	for id, s := range summary {
		if days > 0 {
			s.PerDaySales = float64(s.TotalSales) / float64(days)
		}
		summary[id] = s
	}
	return summary
}

func startOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
