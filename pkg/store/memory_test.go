package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"restock-api/pkg/models"
	"restock-api/pkg/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCredentials(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	cred, err := m.GetCredential(ctx, "shop")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, m.SaveCredential(ctx, models.Credential{Shop: "shop", AccessToken: "tok"}))
	cred, err = m.GetCredential(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.AccessToken)
}

func TestMemoryLedgerApplyBatchIsolatesFailures(t *testing.T) {
	m := NewMemory()
	m.FailLedgerVariant("bad", true)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	err := m.ApplyBatch(ctx, []services.LedgerOp{
		{Kind: services.LedgerUpsert, Record: models.TrackIncomingRecord{Shop: "shop", VariantID: "good", Incoming: 5, IncomingLastChangedAt: now}},
		{Kind: services.LedgerUpsert, Record: models.TrackIncomingRecord{Shop: "shop", VariantID: "bad", Incoming: 1, IncomingLastChangedAt: now}},
		{Kind: services.LedgerUpsert, Record: models.TrackIncomingRecord{Shop: "other", VariantID: "x", Incoming: 2, IncomingLastChangedAt: now}},
	})

	var pe *services.PersistenceError
	require.True(t, errors.As(err, &pe))
	require.Len(t, pe.Failed, 1)
	assert.ErrorIs(t, err, ErrInjected)

	records, err := m.ListByShop(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].VariantID)

	require.NoError(t, m.ApplyBatch(ctx, []services.LedgerOp{{Kind: services.LedgerDelete, Record: models.TrackIncomingRecord{Shop: "shop", VariantID: "good"}}}))
	records, err = m.ListByShop(ctx, "shop")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryLedgerWithIncomingLedgerSync(t *testing.T) {
	m := NewMemory()
	ledger := services.NewIncomingLedger(m)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := ledger.Sync(ctx, "shop", []models.Variant{{ID: "v1", IncomingStock: 10}}, true, now)
	require.NoError(t, err)
	_, err = ledger.Sync(ctx, "shop", []models.Variant{{ID: "v1", IncomingStock: 4}}, true, now.AddDate(0, 0, 1))
	require.NoError(t, err)

	records, err := m.ListByShop(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 4, records[0].Incoming)
	require.Len(t, records[0].History, 1)
	assert.Equal(t, 4, records[0].History[0].Quantity)
	assert.Equal(t, 4, records[0].History[0].TotalOrderQuantity)
}

func TestMemoryOrderHistory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	facts := []models.OrderLineFact{
		{OrderID: "o2", VariantID: "v1", Quantity: 1, CreatedAt: base.AddDate(0, 0, 2)},
		{OrderID: "o1", VariantID: "v1", Quantity: 3, CreatedAt: base},
		{OrderID: "o1", VariantID: "v1", Quantity: 3, CreatedAt: base},
	}

	n, err := m.Append(ctx, "shop", facts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := m.ListRange(ctx, "shop", base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o1", got[0].OrderID)

	pruned, err := m.PruneBefore(ctx, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	got, err = m.ListRange(ctx, "shop", base, base.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o2", got[0].OrderID)
}
