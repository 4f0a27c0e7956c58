package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"restock-api/pkg/models"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFile はアップロードされたファイル形式が未対応の場合のエラーです。
var ErrUnsupportedFile = errors.New("サポートされていないファイル形式です。.xlsxまたは.csvをアップロードしてください")

// ErrInvalidImportFile はファイルの内容を注文明細として解釈できない場合のエラーです。
var ErrInvalidImportFile = errors.New("注文明細ファイルの内容が不正です")

// OrderHistoryStore は (shop, 重複キー) をキーとする追記専用の注文履歴です。
type OrderHistoryStore interface {
	// Append は未登録の明細のみ追加し、追加件数を返します。
	Append(ctx context.Context, shop string, facts []models.OrderLineFact) (int, error)
	ListRange(ctx context.Context, shop string, start, end time.Time) ([]models.OrderLineFact, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ImportResult 取り込み結果
type ImportResult struct {
	Rows     int      `json:"rows"`
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// OrderHistoryService 注文履歴の記録・参照・保持期間管理
type OrderHistoryService struct {
	store         OrderHistoryStore
	retentionDays int
}

// NewOrderHistoryService 新しい注文履歴サービスを作成
func NewOrderHistoryService(store OrderHistoryStore, retentionDays int) *OrderHistoryService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &OrderHistoryService{store: store, retentionDays: retentionDays}
}

// Record は取得した注文明細を履歴に追加します。同一明細は重複して保存されません。
func (s *OrderHistoryService) Record(ctx context.Context, shop string, facts []models.OrderLineFact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	unique := make([]models.OrderLineFact, 0, len(facts))
	seen := make(map[string]bool, len(facts))
	for _, f := range facts {
		key := f.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, f)
	}

	inserted, err := s.store.Append(ctx, shop, unique)
	if err != nil {
		return 0, fmt.Errorf("注文履歴の保存に失敗: %w", err)
	}
	log.Debug().Str("shop", shop).Int("received", len(facts)).Int("inserted", inserted).Msg("注文履歴を記録しました")
	return inserted, nil
}

// FetchRange は保存済みの注文明細を返します。OrderSourceとして利用できます。
func (s *OrderHistoryService) FetchRange(ctx context.Context, shop, _ string, start, end time.Time) ([]models.OrderLineFact, error) {
	if start.After(end) {
		start, end = end, start
	}
	facts, err := s.store.ListRange(ctx, shop, start, end)
	if err != nil {
		return nil, fmt.Errorf("注文履歴の取得に失敗: %w", err)
	}
	return facts, nil
}

// RetentionCutoff returns the oldest timestamp kept by Prune
func (s *OrderHistoryService) RetentionCutoff(now time.Time) time.Time {
	return startOfDayUTC(now).AddDate(0, 0, -s.retentionDays)
}

// Prune は保持期間を過ぎた注文明細を削除します。
func (s *OrderHistoryService) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := s.RetentionCutoff(now)
	n, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("注文履歴の削除に失敗: %w", err)
	}
	log.Info().Time("cutoff", cutoff).Int64("deleted", n).Msg("保持期間を過ぎた注文履歴を削除しました")
	return n, nil
}

// ImportSpreadsheet は .xlsx または .csv の注文明細を取り込みます。
// 必須列: order_id, created_at, variant_id, quantity（product_id, product_name, financial_status, fulfillment_statusは任意）
func (s *OrderHistoryService) ImportSpreadsheet(ctx context.Context, shop, filename string, r io.Reader) (*ImportResult, error) {
	rows, err := readRows(filename, r)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: ヘッダー行と少なくとも1行のデータが必要です", ErrInvalidImportFile)
	}

	facts, result, err := parseOrderRows(rows)
	if err != nil {
		return nil, err
	}

	inserted, err := s.Record(ctx, shop, facts)
	if err != nil {
		return nil, err
	}
	result.Inserted = inserted
	result.Skipped = result.Rows - inserted
	log.Info().Str("shop", shop).Str("file", filename).Int("rows", result.Rows).Int("inserted", inserted).Msg("注文履歴を取り込みました")
	return result, nil
}

func readRows(filename string, r io.Reader) ([][]string, error) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".xlsx"):
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: Excelファイルの読み込みに失敗: %v", ErrInvalidImportFile, err)
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("%w: Excelシートの行取得に失敗: %v", ErrInvalidImportFile, err)
		}
		return rows, nil
	case strings.HasSuffix(name, ".csv"):
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%w: CSVファイルの解析に失敗: %v", ErrInvalidImportFile, err)
		}
		return rows, nil
	default:
		return nil, ErrUnsupportedFile
	}
}

type orderColumns struct {
	orderID, createdAt, variantID, productID, productName, quantity, financial, fulfillment int
}

func findColumn(header []string, candidates ...string) int {
	for _, candidate := range candidates {
		for i, item := range header {
			if strings.EqualFold(strings.TrimSpace(item), candidate) {
				return i
			}
		}
	}
	return -1
}

func parseOrderRows(rows [][]string) ([]models.OrderLineFact, *ImportResult, error) {
	header := rows[0]
	cols := orderColumns{
		orderID:     findColumn(header, "order_id", "注文ID", "注文番号"),
		createdAt:   findColumn(header, "created_at", "date", "日付", "注文日"),
		variantID:   findColumn(header, "variant_id", "バリアントID"),
		productID:   findColumn(header, "product_id", "製品ID", "商品ID"),
		productName: findColumn(header, "product_name", "製品名", "商品名"),
		quantity:    findColumn(header, "quantity", "数量", "販売数"),
		financial:   findColumn(header, "financial_status"),
		fulfillment: findColumn(header, "fulfillment_status"),
	}

	var missing []string
	if cols.orderID == -1 {
		missing = append(missing, "order_id")
	}
	if cols.createdAt == -1 {
		missing = append(missing, "created_at")
	}
	if cols.variantID == -1 {
		missing = append(missing, "variant_id")
	}
	if cols.quantity == -1 {
		missing = append(missing, "quantity")
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: 必須列が見つかりません: %s", ErrInvalidImportFile, strings.Join(missing, ", "))
	}

	result := &ImportResult{}
	facts := make([]models.OrderLineFact, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		if isBlankRow(row) {
			continue
		}
		result.Rows++

		createdAt, err := parseOrderDate(cell(row, cols.createdAt))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%d行目: 日付を解析できません: %s", line, cell(row, cols.createdAt)))
			continue
		}
		qty, err := strconv.Atoi(strings.TrimSpace(cell(row, cols.quantity)))
		if err != nil || qty < 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("%d行目: 数量が不正です: %s", line, cell(row, cols.quantity)))
			continue
		}

		facts = append(facts, models.OrderLineFact{
			OrderID:           strings.TrimSpace(cell(row, cols.orderID)),
			CreatedAt:         createdAt,
			VariantID:         strings.TrimSpace(cell(row, cols.variantID)),
			ProductID:         strings.TrimSpace(cell(row, cols.productID)),
			ProductName:       strings.TrimSpace(cell(row, cols.productName)),
			Quantity:          qty,
			FinancialStatus:   strings.TrimSpace(cell(row, cols.financial)),
			FulfillmentStatus: strings.TrimSpace(cell(row, cols.fulfillment)),
		})
	}
	return facts, result, nil
}

var orderDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

func parseOrderDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("不明な日付形式: %s", s)
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
