package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"restock-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestOrderHistoryRecordDeduplicates(t *testing.T) {
	store := newFakeOrderHistoryStore()
	svc := NewOrderHistoryService(store, 0)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	facts := []models.OrderLineFact{
		{OrderID: "o1", VariantID: "v1", ProductID: "p1", ProductName: "Tea", Quantity: 1, CreatedAt: at},
		{OrderID: "o1", VariantID: "v1", ProductID: "p1", ProductName: "Tea", Quantity: 1, CreatedAt: at},
		{OrderID: "o1", VariantID: "v2", ProductID: "p1", ProductName: "Tea", Quantity: 2, CreatedAt: at},
	}

	n, err := svc.Record(context.Background(), "shop", facts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Record(context.Background(), "shop", facts)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrderHistoryPruneUsesRetentionWindow(t *testing.T) {
	store := newFakeOrderHistoryStore()
	svc := NewOrderHistoryService(store, 90)
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	_, err := svc.Record(context.Background(), "shop", []models.OrderLineFact{
		{OrderID: "old", VariantID: "v1", Quantity: 1, CreatedAt: now.AddDate(0, 0, -120)},
		{OrderID: "new", VariantID: "v1", Quantity: 1, CreatedAt: now.AddDate(0, 0, -10)},
	})
	require.NoError(t, err)

	n, err := svc.Prune(context.Background(), now)

	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), store.pruned)

	facts, err := svc.FetchRange(context.Background(), "shop", "", now, now.AddDate(-1, 0, 0))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "new", facts[0].OrderID)
}

func TestOrderHistoryRecordPropagatesStoreError(t *testing.T) {
	store := newFakeOrderHistoryStore()
	store.err = errors.New("disk full")
	svc := NewOrderHistoryService(store, 0)

	_, err := svc.Record(context.Background(), "shop", []models.OrderLineFact{{OrderID: "o1"}})

	assert.ErrorContains(t, err, "disk full")
}

func TestImportSpreadsheetCSV(t *testing.T) {
	csvData := strings.Join([]string{
		"order_id,created_at,variant_id,product_id,product_name,quantity",
		"1001,2024-06-01,v1,p1,Tea,2",
		"1001,2024-06-01,v2,p1,Tea,1",
		"1002,2024-06-02T10:00:00Z,v1,p1,Tea,5",
		"1003,not-a-date,v1,p1,Tea,1",
		"1004,2024-06-03,v1,p1,Tea,-1",
		",,,,,",
	}, "\n")
	store := newFakeOrderHistoryStore()
	svc := NewOrderHistoryService(store, 0)

	result, err := svc.ImportSpreadsheet(context.Background(), "shop", "orders.CSV", strings.NewReader(csvData))

	require.NoError(t, err)
	assert.Equal(t, 5, result.Rows)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 2, result.Skipped)
	assert.Len(t, result.Errors, 2)

	facts := store.facts["shop"]
	require.Len(t, facts, 3)
	assert.Equal(t, time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC), facts[2].CreatedAt)
	assert.Equal(t, 5, facts[2].Quantity)
}

func TestImportSpreadsheetXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"注文ID", "日付", "variant_id", "数量"},
		{"2001", "2024/06/05", "v9", "4"},
	}
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	store := newFakeOrderHistoryStore()
	svc := NewOrderHistoryService(store, 0)

	result, err := svc.ImportSpreadsheet(context.Background(), "shop", "orders.xlsx", &buf)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, "v9", store.facts["shop"][0].VariantID)
	assert.Equal(t, 4, store.facts["shop"][0].Quantity)
}

func TestImportSpreadsheetRejectsBadInput(t *testing.T) {
	svc := NewOrderHistoryService(newFakeOrderHistoryStore(), 0)

	_, err := svc.ImportSpreadsheet(context.Background(), "shop", "orders.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = svc.ImportSpreadsheet(context.Background(), "shop", "orders.csv", strings.NewReader("order_id,quantity\n1,2"))
	assert.ErrorIs(t, err, ErrInvalidImportFile)
	assert.ErrorContains(t, err, "created_at")
}
