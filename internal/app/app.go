// Package app はサーバー・サーバーレス関数・CLIで共通の依存関係を組み立てます。
package app

import (
	"context"
	"fmt"
	"time"

	config "restock-api/configs"
	"restock-api/pkg/commerce"
	"restock-api/pkg/services"
	"restock-api/pkg/store"

	"github.com/rs/zerolog/log"
)

// Store は予測サービスが必要とする永続化の全インターフェースです。
type Store interface {
	services.CredentialStore
	services.LedgerStore
	services.OrderHistoryStore
}

// App は組み立て済みのサービス群です。
type App struct {
	Config *config.Config
	Policy *config.PredictionPolicy

	Predictions *services.PredictionService
	History     *services.OrderHistoryService
	Credentials *services.CredentialService
	Monitoring  *services.MonitoringService

	closers []func()
}

// Options は組み立て時の差し替えポイントです。Storeがnilの場合は設定から決定します。
type Options struct {
	Store   Store
	Catalog services.CatalogSource
	Orders  services.OrderSource
}

// New は設定からアプリケーションを組み立てます。
// DATABASE_URLが設定されていればPostgreSQL、未設定ならインメモリストアを使用します。
func New(ctx context.Context, cfg *config.Config, policy *config.PredictionPolicy, opts Options) (*App, error) {
	if policy == nil {
		policy = config.DefaultPredictionPolicy()
	}
	a := &App{Config: cfg, Policy: policy}

	st := opts.Store
	if st == nil {
		var err error
		st, err = a.openStore(ctx)
		if err != nil {
			return nil, err
		}
	}

	restockPolicy, err := services.NewRestockPolicy(policy.Policy.Name, policy.Policy.LeadDays, policy.Policy.HighBufferDays, policy.Policy.MediumDays)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := commerce.NewClient(cfg.ShopifyEndpointTemplate, cfg.ShopifyAPIVersion, commerce.NewExecutor(policy.Retry))

	var catalog services.CatalogSource = commerce.NewCatalogFetcher(client, policy.Catalog)
	if opts.Catalog != nil {
		catalog = opts.Catalog
	}
	var orders services.OrderSource = commerce.NewOrderFetcher(client, policy.Orders.PageDelay)
	if opts.Orders != nil {
		orders = opts.Orders
	}

	cache := services.NewCredentialCache(st, cfg.CredentialCacheTTL, cfg.CredentialCacheSize)
	a.History = services.NewOrderHistoryService(st, cfg.OrderRetentionDays)
	a.Credentials = services.NewCredentialService(st, cache)
	a.Monitoring = services.NewMonitoringService()

	deps := services.PredictionServiceDeps{
		Credentials: cache,
		Catalog:     catalog,
		Orders:      orders,
		History:     a.History,
		Ledger:      services.NewIncomingLedger(st),
		Policy:      restockPolicy,
		Windows:     policy.Windows,
	}
	if cfg.OrderSource == config.OrderSourceHistory {
		deps.RangeOrders = a.History
	}
	a.Predictions = services.NewPredictionService(deps)

	log.Info().
		Str("policy", restockPolicy.Name()).
		Ints("windows", a.Predictions.Windows()).
		Str("order_source", cfg.OrderSource).
		Msg("サービスを初期化しました")
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	if a.Config.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URLが未設定のため、インメモリストアを使用します")
		return store.NewMemory(), nil
	}

	pool, err := store.Connect(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	pg := store.NewPostgres(pool)
	a.closers = append(a.closers, pg.Close)
	return pg, nil
}

// RunPruneLoop はctxが終了するまで一定間隔で注文履歴の保持期間切れを削除します。
func (a *App) RunPruneLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := a.History.Prune(ctx, now); err != nil {
				log.Warn().Err(err).Msg("注文履歴の定期削除に失敗しました")
			}
		}
	}
}

// Close は保持しているリソースを解放します。
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
