package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"restock-api/pkg/commerce"
	"restock-api/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidPredictionDays は予測日数が正でない場合のエラーです。
var ErrInvalidPredictionDays = errors.New("prediction_daysは1以上で指定してください")

// CatalogSource カタログとスナップショットの取得元
type CatalogSource interface {
	FetchAll(ctx context.Context, shop, accessToken, statusFilter string, opts commerce.FetchOptions) (*models.CatalogSnapshot, error)
}

// OrderSource 期間内の注文明細の取得元（リモートAPIまたは保存済み履歴）
type OrderSource interface {
	FetchRange(ctx context.Context, shop, accessToken string, start, end time.Time) ([]models.OrderLineFact, error)
}

// CatalogFetchError はカタログ取得の失敗です。予測全体が失敗します。
type CatalogFetchError struct {
	Shop string
	Err  error
}

func (e *CatalogFetchError) Error() string {
	return fmt.Sprintf("カタログの取得に失敗 (shop=%s): %v", e.Shop, e.Err)
}

func (e *CatalogFetchError) Unwrap() error { return e.Err }

// PredictionOptions 予測実行時のオプション
type PredictionOptions struct {
	SkipInventory bool
	OnProgress    func(stage string, count int)
}

// PredictionResult 予測の実行結果
type PredictionResult struct {
	RunID       string                    `json:"run_id"`
	Shop        string                    `json:"shop"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Policy      string                    `json:"policy"`
	Windows     []int                     `json:"windows"`
	Records     []models.PredictionRecord `json:"records"`
	Warnings    []string                  `json:"warnings,omitempty"`
}

// RangeSummaryResult 期間集計の実行結果
type RangeSummaryResult struct {
	RunID    string                      `json:"run_id"`
	Shop     string                      `json:"shop"`
	Days     int                         `json:"days"`
	Records  []models.RangeSummaryRecord `json:"records"`
	Warnings []string                    `json:"warnings,omitempty"`
}

// PredictionServiceDeps 予測サービスの依存関係。History と Ledger は任意です。
type PredictionServiceDeps struct {
	Credentials *CredentialCache
	Catalog     CatalogSource
	Orders      OrderSource
	// RangeOrders は期間集計で使用する注文の取得元。nilの場合は Orders を使用
	RangeOrders OrderSource
	History     *OrderHistoryService
	Ledger      *IncomingLedger
	Policy      RestockPolicy
	Windows     []int
	Now         func() time.Time
}

// PredictionService 補充予測サービス
type PredictionService struct {
	credentials *CredentialCache
	catalog     CatalogSource
	orders      OrderSource
	rangeOrders OrderSource
	history     *OrderHistoryService
	ledger      *IncomingLedger
	policy      RestockPolicy
	velocity    *SalesVelocityCalculator
	windows     []int
	now         func() time.Time
}

// NewPredictionService 新しい予測サービスを作成
func NewPredictionService(deps PredictionServiceDeps) *PredictionService {
	windows := append([]int(nil), deps.Windows...)
	if len(windows) == 0 {
		windows = append(windows, DefaultWindows...)
	}
	sort.Ints(windows)

	policy := deps.Policy
	if policy == nil {
		policy = NewIncomingAwarePolicy()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	rangeOrders := deps.RangeOrders
	if rangeOrders == nil {
		rangeOrders = deps.Orders
	}

	return &PredictionService{
		credentials: deps.Credentials,
		catalog:     deps.Catalog,
		orders:      deps.Orders,
		rangeOrders: rangeOrders,
		history:     deps.History,
		ledger:      deps.Ledger,
		policy:      policy,
		velocity:    NewSalesVelocityCalculator(),
		windows:     windows,
		now:         now,
	}
}

// Windows returns the configured trailing windows, shortest first
func (s *PredictionService) Windows() []int {
	return append([]int(nil), s.windows...)
}

// GeneratePredictions はバリアントごとの推奨補充数と緊急度を計算します。
// 認証情報がない場合とカタログ取得に失敗した場合のみエラーを返し、
// 注文取得や台帳の永続化の失敗は警告として記録して処理を続行します。
func (s *PredictionService) GeneratePredictions(ctx context.Context, shop string, predictionDays int, statusFilter string, opts PredictionOptions) (*PredictionResult, error) {
	if predictionDays <= 0 {
		return nil, ErrInvalidPredictionDays
	}
	runID := uuid.NewString()
	now := s.now()
	logger := log.With().Str("run_id", runID).Str("shop", shop).Logger()

	cred, err := s.credentials.Get(ctx, shop)
	if err != nil {
		return nil, err
	}

	maxWindow := s.windows[len(s.windows)-1]
	in, err := s.fetchInputs(ctx, cred, statusFilter, WindowCutoff(now, maxWindow), now, s.orders, opts)
	if err != nil {
		logger.Error().Err(err).Msg("カタログの取得に失敗しました")
		return nil, err
	}

	result := &PredictionResult{
		RunID:       runID,
		Shop:        shop,
		GeneratedAt: now,
		Policy:      s.policy.Name(),
		Windows:     s.Windows(),
	}
	if in.orderErr != nil {
		logger.Warn().Err(in.orderErr).Msg("注文の取得に失敗したため販売数0として予測します")
		result.Warnings = append(result.Warnings, "注文の取得に失敗したため販売数0として計算しました")
	} else {
		s.recordHistory(ctx, shop, in.facts)
	}

	summaries := s.velocity.SummarizeWindows(in.snapshot.Variants, in.facts, s.windows, now)

	var ledger map[string]models.TrackIncomingRecord
	if s.ledger != nil && !opts.SkipInventory {
		fullCatalog := commerce.StatusQuery(statusFilter) == ""
		records, err := s.ledger.Sync(ctx, shop, in.snapshot.Variants, fullCatalog, now)
		if err != nil {
			logger.Warn().Err(err).Msg("入荷予定台帳の永続化に失敗しました。次回の同期で再照合します")
			result.Warnings = append(result.Warnings, "入荷予定台帳の保存に失敗しました")
		}
		ledger = records
	}

	result.Records = make([]models.PredictionRecord, 0, len(in.snapshot.Variants))
	for _, v := range in.snapshot.Variants {
		result.Records = append(result.Records, s.buildPrediction(shop, v, summaries, ledger, predictionDays, now))
	}

	logger.Info().Int("variants", len(result.Records)).Int("line_items", len(in.facts)).Int("prediction_days", predictionDays).Msg("予測を生成しました")
	return result, nil
}

// GenerateRangeSummary は指定期間（両端の日を含む）の販売実績をバリアントごとに集計します。
func (s *PredictionService) GenerateRangeSummary(ctx context.Context, shop string, start, end time.Time, statusFilter string, opts PredictionOptions) (*RangeSummaryResult, error) {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("shop", shop).Logger()

	from, to := startOfDayUTC(start), startOfDayUTC(end)
	if from.After(to) {
		from, to = to, from
	}
	until := to.AddDate(0, 0, 1).Add(-time.Nanosecond)

	cred, err := s.credentials.Get(ctx, shop)
	if err != nil {
		return nil, err
	}

	in, err := s.fetchInputs(ctx, cred, statusFilter, from, until, s.rangeOrders, opts)
	if err != nil {
		logger.Error().Err(err).Msg("カタログの取得に失敗しました")
		return nil, err
	}

	result := &RangeSummaryResult{RunID: runID, Shop: shop}
	if in.orderErr != nil {
		logger.Warn().Err(in.orderErr).Msg("注文の取得に失敗したため販売数0として集計します")
		result.Warnings = append(result.Warnings, "注文の取得に失敗したため販売数0として集計しました")
	}

	summaries, days := s.velocity.SummarizeRange(in.snapshot.Variants, in.facts, from, to)
	result.Days = days
	result.Records = make([]models.RangeSummaryRecord, 0, len(in.snapshot.Variants))
	for _, v := range in.snapshot.Variants {
		sum := summaries[v.ID]
		result.Records = append(result.Records, models.RangeSummaryRecord{
			Shop:           shop,
			VariantID:      v.ID,
			ProductID:      v.ProductID,
			ProductTitle:   v.ProductTitle,
			VariantTitle:   v.Title,
			SKU:            v.SKU,
			StartDate:      from.Format("2006-01-02"),
			EndDate:        to.Format("2006-01-02"),
			Days:           days,
			TotalSales:     sum.TotalSales,
			PerDaySales:    sum.PerDaySales,
			AvailableStock: v.AvailableStock,
			IncomingStock:  v.IncomingStock,
		})
	}

	logger.Info().Int("variants", len(result.Records)).Int("days", days).Msg("期間集計を生成しました")
	return result, nil
}

type fetchedInputs struct {
	snapshot *models.CatalogSnapshot
	facts    []models.OrderLineFact
	orderErr error
}

// fetchInputs はカタログと注文を並行して取得します。注文の失敗は致命的ではないため orderErr に保持します。
func (s *PredictionService) fetchInputs(ctx context.Context, cred models.Credential, statusFilter string, start, end time.Time, orders OrderSource, opts PredictionOptions) (*fetchedInputs, error) {
	var (
		g  errgroup.Group
		in fetchedInputs
	)

	g.Go(func() error {
		snap, err := s.catalog.FetchAll(ctx, cred.Shop, cred.AccessToken, statusFilter, commerce.FetchOptions{
			SkipInventory: opts.SkipInventory,
			OnProgress:    opts.OnProgress,
		})
		if err != nil {
			return &CatalogFetchError{Shop: cred.Shop, Err: err}
		}
		in.snapshot = snap
		return nil
	})
	g.Go(func() error {
		if orders == nil {
			in.orderErr = errors.New("注文の取得元が設定されていません")
			return nil
		}
		facts, err := orders.FetchRange(ctx, cred.Shop, cred.AccessToken, start, end)
		if err != nil {
			in.orderErr = err
			return nil
		}
		in.facts = facts
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *PredictionService) recordHistory(ctx context.Context, shop string, facts []models.OrderLineFact) {
	if s.history == nil || len(facts) == 0 {
		return
	}
	if _, err := s.history.Record(ctx, shop, facts); err != nil {
		log.Warn().Err(err).Str("shop", shop).Msg("注文履歴の記録に失敗しました")
	}
}

func (s *PredictionService) buildPrediction(shop string, v models.Variant, summaries map[int]map[string]models.SalesPeriodSummary, ledger map[string]models.TrackIncomingRecord, predictionDays int, now time.Time) models.PredictionRecord {
	rec := models.PredictionRecord{
		Shop:           shop,
		VariantID:      v.ID,
		ProductID:      v.ProductID,
		ProductTitle:   v.ProductTitle,
		VariantTitle:   v.Title,
		SKU:            v.SKU,
		Sales:          make(map[int]models.WindowSales, len(s.windows)),
		AvailableStock: v.AvailableStock,
		IncomingStock:  v.IncomingStock,
		Committed:      v.Committed,
		OnHand:         v.OnHand,
		PredictionDays: predictionDays,
		Restock:        make(map[int]int, len(s.windows)),
	}

	var daysPassed, poQty int
	if v.IncomingStock > 0 {
		if entry, ok := ledger[v.ID]; ok {
			daysPassed, poQty = LookupIncoming(&entry, now)
		}
		days := daysPassed
		rec.DaysSinceIncomingChange = &days
	}

	total := 0
	for _, w := range s.windows {
		sum := summaries[w][v.ID]
		rec.Sales[w] = models.WindowSales{TotalSales: sum.TotalSales, PerDaySales: sum.PerDaySales}

		q := s.policy.RestockQuantity(RestockInput{
			PerDaySales:               sum.PerDaySales,
			PredictionDays:            predictionDays,
			AvailableStock:            v.AvailableStock,
			IncomingStock:             v.IncomingStock,
			DaysPassedSinceLastChange: daysPassed,
			IncomingQtyOfMostRecentPO: poQty,
		})
		rec.Restock[w] = RoundRestock(q)
		total += rec.Restock[w]
	}
	rec.AverageRecommendedStock = float64(total) / float64(len(s.windows))

	shortest := summaries[s.windows[0]][v.ID]
	rec.Urgency = s.policy.Urgency(UrgencyInput{
		PerDaySales:    shortest.PerDaySales,
		AvailableStock: v.AvailableStock,
		IncomingStock:  v.IncomingStock,
	})
	return rec
}
