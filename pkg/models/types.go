package models

import (
	"strings"
	"time"
)

// Credential represents the access credential of an installed shop
type Credential struct {
	Shop        string `json:"shop"`
	AccessToken string `json:"access_token"`
}

// Product represents a catalog product
type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"` // ACTIVE / DRAFT / ARCHIVED
	Vendor      string `json:"vendor,omitempty"`
	ProductType string `json:"product_type,omitempty"`
}

// Variant represents a sellable variant with its stock snapshot.
// Rebuilt on every fetch cycle and never persisted as-is.
type Variant struct {
	ID              string `json:"id"`
	ProductID       string `json:"product_id"`
	ProductTitle    string `json:"product_title"`
	Title           string `json:"title"`
	SKU             string `json:"sku"`
	InventoryItemID string `json:"inventory_item_id"`
	AvailableStock  int    `json:"available_stock"` // 売り越しで負になる場合あり
	IncomingStock   int    `json:"incoming_stock"`
	Committed       int    `json:"committed"`
	OnHand          int    `json:"on_hand"`
	CatalogQuantity int    `json:"catalog_quantity"` // カタログ側の概算在庫数
}

// CatalogSnapshot is the result of one full catalog fetch
type CatalogSnapshot struct {
	Products  []Product `json:"products"`
	Variants  []Variant `json:"variants"`
	FetchedAt time.Time `json:"fetched_at"`
}

// OrderLineFact is one order line item flattened with its order-level fields
type OrderLineFact struct {
	OrderID           string    `json:"order_id"`
	OrderName         string    `json:"order_name,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	VariantID         string    `json:"variant_id"`
	ProductID         string    `json:"product_id"`
	ProductName       string    `json:"product_name"`
	Quantity          int       `json:"quantity"`
	FinancialStatus   string    `json:"financial_status,omitempty"`
	FulfillmentStatus string    `json:"fulfillment_status,omitempty"`
}

// DedupeKey returns the composite key used to avoid persisting the same line twice
func (f OrderLineFact) DedupeKey() string {
	return strings.Join([]string{f.OrderID, f.VariantID, f.ProductID, f.ProductName}, "|")
}

// SalesPeriodSummary holds the sales of one variant within one trailing window
type SalesPeriodSummary struct {
	VariantID   string  `json:"variant_id"`
	WindowDays  int     `json:"window_days"`
	TotalSales  int     `json:"total_sales"`
	PerDaySales float64 `json:"per_day_sales"`
}

// IncomingHistoryEntry is one detected increase of incoming stock
type IncomingHistoryEntry struct {
	Date               time.Time `json:"date"`
	Quantity           int       `json:"quantity"`             // この日に追加された数量
	TotalOrderQuantity int       `json:"total_order_quantity"` // 直近の照合時点の入荷予定合計
}

// TrackIncomingRecord is the persisted incoming-stock ledger of one variant, keyed by (shop, variant)
type TrackIncomingRecord struct {
	Shop                  string                 `json:"shop"`
	VariantID             string                 `json:"variant_id"`
	Incoming              int                    `json:"incoming"`
	IncomingLastChangedAt time.Time              `json:"incoming_last_changed_at"`
	History               []IncomingHistoryEntry `json:"history"`
}

// UrgencyLevel classifies how soon a variant will stock out
type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "Low"
	UrgencyMedium   UrgencyLevel = "Medium"
	UrgencyHigh     UrgencyLevel = "High"
	UrgencyCritical UrgencyLevel = "Critical"
)

// WindowSales is the sales figure of one trailing window inside a prediction
type WindowSales struct {
	TotalSales  int     `json:"total_sales"`
	PerDaySales float64 `json:"per_day_sales"`
}

// PredictionRecord is the per-variant output of a prediction run
type PredictionRecord struct {
	Shop                    string              `json:"shop"`
	VariantID               string              `json:"variant_id"`
	ProductID               string              `json:"product_id"`
	ProductTitle            string              `json:"product_title"`
	VariantTitle            string              `json:"variant_title"`
	SKU                     string              `json:"sku"`
	Sales                   map[int]WindowSales `json:"sales"` // キー: 集計日数 (7/14/30)
	AvailableStock          int                 `json:"available_stock"`
	IncomingStock           int                 `json:"incoming_stock"`
	Committed               int                 `json:"committed"`
	OnHand                  int                 `json:"on_hand"`
	PredictionDays          int                 `json:"prediction_days"`
	Restock                 map[int]int         `json:"restock"` // キー: 集計日数
	AverageRecommendedStock float64             `json:"average_recommended_stock"`
	Urgency                 UrgencyLevel        `json:"urgency"`
	DaysSinceIncomingChange *int                `json:"days_since_incoming_change,omitempty"`
}

// RangeSummaryRecord is the per-variant sales summary over an explicit date range
type RangeSummaryRecord struct {
	Shop           string  `json:"shop"`
	VariantID      string  `json:"variant_id"`
	ProductID      string  `json:"product_id"`
	ProductTitle   string  `json:"product_title"`
	VariantTitle   string  `json:"variant_title"`
	SKU            string  `json:"sku"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	Days           int     `json:"days"`
	TotalSales     int     `json:"total_sales"`
	PerDaySales    float64 `json:"per_day_sales"`
	AvailableStock int     `json:"available_stock"`
	IncomingStock  int     `json:"incoming_stock"`
}
