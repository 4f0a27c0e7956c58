package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"restock-api/pkg/commerce"
	"restock-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var predictionNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type predictionFixture struct {
	catalog *fakeCatalog
	orders  *fakeOrders
	ledger  *fakeLedgerStore
	history *fakeOrderHistoryStore
	service *PredictionService
}

func newPredictionFixture() *predictionFixture {
	f := &predictionFixture{
		catalog: &fakeCatalog{snapshot: &models.CatalogSnapshot{
			Variants: []models.Variant{
				{ID: "v1", ProductID: "p1", ProductTitle: "Green Tea", Title: "500g", SKU: "GT-500", AvailableStock: 20, IncomingStock: 200},
				{ID: "v2", ProductID: "p2", ProductTitle: "Black Tea", Title: "250g", SKU: "BT-250", AvailableStock: 50},
			},
			FetchedAt: predictionNow,
		}},
		orders: &fakeOrders{facts: []models.OrderLineFact{
			{OrderID: "o1", VariantID: "v1", ProductName: "Green Tea", Quantity: 70, CreatedAt: predictionNow.Add(-time.Hour)},
			{OrderID: "o2", VariantID: "v2", ProductName: "Black Tea", Quantity: 35, CreatedAt: predictionNow.Add(-2 * time.Hour)},
		}},
		ledger:  newFakeLedgerStore(),
		history: newFakeOrderHistoryStore(),
	}

	poDate := predictionNow.AddDate(0, 0, -5)
	f.ledger.records["shop/v1"] = models.TrackIncomingRecord{
		Shop: "shop", VariantID: "v1", Incoming: 200, IncomingLastChangedAt: poDate,
		History: []models.IncomingHistoryEntry{{Date: poDate, Quantity: 200, TotalOrderQuantity: 200}},
	}

	creds := newFakeCredentialStore(models.Credential{Shop: "shop", AccessToken: "secret"})
	f.service = NewPredictionService(PredictionServiceDeps{
		Credentials: NewCredentialCache(creds, time.Minute, 10),
		Catalog:     f.catalog,
		Orders:      f.orders,
		History:     NewOrderHistoryService(f.history, 90),
		Ledger:      NewIncomingLedger(f.ledger),
		Now:         func() time.Time { return predictionNow },
	})
	return f
}

func recordByVariant(records []models.PredictionRecord, id string) models.PredictionRecord {
	for _, r := range records {
		if r.VariantID == id {
			return r
		}
	}
	return models.PredictionRecord{}
}

func TestGeneratePredictions(t *testing.T) {
	f := newPredictionFixture()

	result, err := f.service.GeneratePredictions(context.Background(), "shop", 15, "active", PredictionOptions{})

	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []int{7, 14, 30}, result.Windows)
	assert.Equal(t, PolicyIncomingAware, result.Policy)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "secret", f.catalog.token)
	assert.Equal(t, WindowCutoff(predictionNow, 30), f.orders.start)
	require.Len(t, result.Records, 2)

	// 直近の発注数量が補充数を上回るため補充不要
	v1 := recordByVariant(result.Records, "v1")
	assert.InDelta(t, 10.0, v1.Sales[7].PerDaySales, 1e-9)
	assert.Equal(t, map[int]int{7: 0, 14: 0, 30: 0}, v1.Restock)
	assert.Zero(t, v1.AverageRecommendedStock)
	assert.Equal(t, models.UrgencyHigh, v1.Urgency)
	require.NotNil(t, v1.DaysSinceIncomingChange)
	assert.Equal(t, 5, *v1.DaysSinceIncomingChange)

	v2 := recordByVariant(result.Records, "v2")
	assert.Equal(t, map[int]int{7: 100, 14: 0, 30: 0}, v2.Restock)
	assert.InDelta(t, 100.0/3.0, v2.AverageRecommendedStock, 1e-9)
	assert.Equal(t, models.UrgencyCritical, v2.Urgency)
	assert.Nil(t, v2.DaysSinceIncomingChange)
	assert.Equal(t, "Black Tea", v2.ProductTitle)
	assert.Equal(t, "BT-250", v2.SKU)

	assert.Len(t, f.history.facts["shop"], 2)
}

func TestGeneratePredictionsMissingCredentialFailsFast(t *testing.T) {
	f := newPredictionFixture()

	_, err := f.service.GeneratePredictions(context.Background(), "unknown", 15, "", PredictionOptions{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCredentialMissing))
	assert.Empty(t, f.catalog.token, "catalog must not be fetched without a credential")
}

func TestGeneratePredictionsCatalogFailureIsFatal(t *testing.T) {
	f := newPredictionFixture()
	f.catalog.err = &commerce.ThrottledError{Attempts: 6}

	result, err := f.service.GeneratePredictions(context.Background(), "shop", 15, "", PredictionOptions{})

	require.Error(t, err)
	assert.Nil(t, result)
	var cfe *CatalogFetchError
	require.ErrorAs(t, err, &cfe)
	assert.True(t, commerce.IsThrottled(err))
}

func TestGeneratePredictionsDegradesWhenOrdersFail(t *testing.T) {
	f := newPredictionFixture()
	f.orders.err = &commerce.RemoteError{StatusCode: 500, Message: "boom"}

	result, err := f.service.GeneratePredictions(context.Background(), "shop", 15, "", PredictionOptions{})

	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	for _, r := range result.Records {
		for _, s := range r.Sales {
			assert.Zero(t, s.TotalSales)
		}
		assert.Equal(t, models.UrgencyLow, r.Urgency)
	}
	assert.Empty(t, f.history.facts["shop"])
}

func TestGeneratePredictionsReturnsResultsWhenLedgerPersistenceFails(t *testing.T) {
	f := newPredictionFixture()
	f.catalog.snapshot.Variants[1].IncomingStock = 30
	f.ledger.failVariants["v2"] = true

	result, err := f.service.GeneratePredictions(context.Background(), "shop", 15, "", PredictionOptions{})

	require.NoError(t, err)
	assert.Len(t, result.Warnings, 1)
	v2 := recordByVariant(result.Records, "v2")
	require.NotNil(t, v2.DaysSinceIncomingChange)
	assert.Zero(t, *v2.DaysSinceIncomingChange)
}

func TestGeneratePredictionsSkipInventoryLeavesLedgerUntouched(t *testing.T) {
	f := newPredictionFixture()
	for i := range f.catalog.snapshot.Variants {
		f.catalog.snapshot.Variants[i].IncomingStock = 0
	}

	_, err := f.service.GeneratePredictions(context.Background(), "shop", 15, "", PredictionOptions{SkipInventory: true})

	require.NoError(t, err)
	assert.True(t, f.catalog.opts.SkipInventory)
	_, ok := f.ledger.get("shop", "v1")
	assert.True(t, ok)
	assert.Empty(t, f.ledger.applied)
}

func TestGeneratePredictionsRejectsNonPositiveDays(t *testing.T) {
	f := newPredictionFixture()

	_, err := f.service.GeneratePredictions(context.Background(), "shop", 0, "", PredictionOptions{})

	assert.ErrorIs(t, err, ErrInvalidPredictionDays)
}

func TestGenerateRangeSummary(t *testing.T) {
	f := newPredictionFixture()
	start := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	result, err := f.service.GenerateRangeSummary(context.Background(), "shop", start, end, "", PredictionOptions{})

	require.NoError(t, err)
	assert.Equal(t, 10, result.Days)
	assert.Equal(t, end, f.orders.start)
	assert.Equal(t, time.Date(2024, 6, 10, 23, 59, 59, 999999999, time.UTC), f.orders.end)
	require.Len(t, result.Records, 2)

	var v1 models.RangeSummaryRecord
	for _, r := range result.Records {
		if r.VariantID == "v1" {
			v1 = r
		}
	}
	assert.Equal(t, "2024-06-01", v1.StartDate)
	assert.Equal(t, "2024-06-10", v1.EndDate)
	assert.Equal(t, 70, v1.TotalSales)
	assert.InDelta(t, 7.0, v1.PerDaySales, 1e-9)
	assert.Equal(t, 200, v1.IncomingStock)
}

func TestGenerateRangeSummaryUsesHistorySource(t *testing.T) {
	f := newPredictionFixture()
	history := NewOrderHistoryService(f.history, 90)
	_, err := history.Record(context.Background(), "shop", []models.OrderLineFact{
		{OrderID: "h1", VariantID: "v2", Quantity: 9, CreatedAt: time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)

	svc := NewPredictionService(PredictionServiceDeps{
		Credentials: NewCredentialCache(newFakeCredentialStore(models.Credential{Shop: "shop", AccessToken: "secret"}), 0, 0),
		Catalog:     f.catalog,
		Orders:      f.orders,
		RangeOrders: history,
		Now:         func() time.Time { return predictionNow },
	})

	result, err := svc.GenerateRangeSummary(context.Background(), "shop",
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC), "", PredictionOptions{})

	require.NoError(t, err)
	assert.True(t, f.orders.start.IsZero(), "remote orders must not be queried")
	for _, r := range result.Records {
		if r.VariantID == "v2" {
			assert.Equal(t, 9, r.TotalSales)
		}
	}
}
