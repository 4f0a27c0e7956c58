package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	config "restock-api/configs"
	"restock-api/internal/app"
	"restock-api/pkg/commerce"
	"restock-api/pkg/models"
	"restock-api/pkg/services"
	"restock-api/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testShop = "demo.myshopify.com"

type stubCatalog struct{}

func (stubCatalog) FetchAll(_ context.Context, _, _, _ string, opts commerce.FetchOptions) (*models.CatalogSnapshot, error) {
	if opts.OnProgress != nil {
		opts.OnProgress("products", 1)
		opts.OnProgress("inventory", 2)
	}
	return &models.CatalogSnapshot{
		Variants: []models.Variant{
			{ID: "v1", ProductID: "p1", ProductTitle: "Tee", Title: "S", SKU: "TEE-S", AvailableStock: 1},
		},
	}, nil
}

type stubOrders struct{}

func (stubOrders) FetchRange(_ context.Context, _, _ string, _, _ time.Time) ([]models.OrderLineFact, error) {
	return []models.OrderLineFact{
		{OrderID: "o1", CreatedAt: time.Now().UTC(), VariantID: "v1", Quantity: 14},
	}, nil
}

func runCLI(t *testing.T, mem *store.Memory, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{
		NewApp: func(ctx context.Context, _ *RootOptions) (*app.App, error) {
			cfg := &config.Config{OrderSource: config.OrderSourceRemote, OrderRetentionDays: 90}
			return app.New(ctx, cfg, nil, app.Options{Store: mem, Catalog: stubCatalog{}, Orders: stubOrders{}})
		},
	}
	cmd := newRootCommand(opts)

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func memoryWithCredential(t *testing.T) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveCredential(context.Background(), models.Credential{Shop: testShop, AccessToken: "shpat_test"}))
	return mem
}

func TestPredictJSON(t *testing.T) {
	out, err := runCLI(t, memoryWithCredential(t), "predict", testShop, "--days", "10", "--format", "json", "--no-progress")
	require.NoError(t, err)

	var result services.PredictionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Records, 1)
	assert.Equal(t, 10, result.Records[0].PredictionDays)
	assert.Equal(t, 14, result.Records[0].Sales[7].TotalSales)
	assert.Equal(t, models.UrgencyCritical, result.Records[0].Urgency)
}

func TestPredictTextUsesPolicyDefaultDays(t *testing.T) {
	out, err := runCLI(t, memoryWithCredential(t), "predict", testShop, "--no-progress")
	require.NoError(t, err)

	assert.Contains(t, out, "RESTOCK_7D")
	assert.Contains(t, out, "TEE-S")
	assert.Contains(t, out, "Critical")
}

func TestPredictMissingCredential(t *testing.T) {
	_, err := runCLI(t, store.NewMemory(), "predict", testShop, "--no-progress")
	assert.ErrorIs(t, err, services.ErrCredentialMissing)
}

func TestInvalidFormatIsRejected(t *testing.T) {
	_, err := runCLI(t, store.NewMemory(), "predict", testShop, "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestSummaryRequiresValidDates(t *testing.T) {
	_, err := runCLI(t, memoryWithCredential(t), "summary", testShop, "--start", "2024-05-01", "--end", "soon")
	assert.ErrorContains(t, err, "--end")

	out, err := runCLI(t, memoryWithCredential(t), "summary", testShop, "--start", "2024-05-01", "--end", "2024-05-07", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "days: 7")
}

func TestImportAndPruneOrders(t *testing.T) {
	mem := store.NewMemory()
	path := filepath.Join(t.TempDir(), "orders.csv")
	csvData := "order_id,created_at,variant_id,quantity\n1,2020-01-01,v1,3\n2,2020-01-02,v1,4\n"
	require.NoError(t, os.WriteFile(path, []byte(csvData), 0o600))

	out, err := runCLI(t, mem, "import-orders", testShop, path)
	require.NoError(t, err)
	assert.Contains(t, out, "inserted: 2")

	out, err = runCLI(t, mem, "prune-orders", "--format", "json")
	require.NoError(t, err)

	var pruned map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &pruned))
	assert.Equal(t, float64(2), pruned["removed"])
}

func TestProgressReporterCountsPerStage(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressReporter(&buf)

	p.OnProgress("products", 50)
	p.OnProgress("products", 20)
	p.OnProgress("inventory", 50)
	p.Finish()

	assert.Equal(t, map[string]int{"products": 70, "inventory": 50}, p.Counts())
	assert.Contains(t, buf.String(), "products")
}
