package commerce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"restock-api/pkg/models"

	"github.com/rs/zerolog/log"
)

const (
	productPageSize = 250
	variantPageSize = 100
)

const productsQuery = `query Products($first: Int!, $after: String, $query: String, $variantsFirst: Int!) {
  products(first: $first, after: $after, query: $query) {
    edges {
      cursor
      node {
        id
        title
        status
        vendor
        productType
        variants(first: $variantsFirst) {
          edges {
            cursor
            node { id title sku inventoryQuantity inventoryItem { id } }
          }
          pageInfo { hasNextPage endCursor }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const productVariantsQuery = `query ProductVariants($id: ID!, $first: Int!, $after: String) {
  product(id: $id) {
    variants(first: $first, after: $after) {
      edges {
        cursor
        node { id title sku inventoryQuantity inventoryItem { id } }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

type variantNode struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	SKU               string `json:"sku"`
	InventoryQuantity int    `json:"inventoryQuantity"`
	InventoryItem     struct {
		ID string `json:"id"`
	} `json:"inventoryItem"`
}

type productNode struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Status      string                  `json:"status"`
	Vendor      string                  `json:"vendor"`
	ProductType string                  `json:"productType"`
	Variants    Connection[variantNode] `json:"variants"`
}

// FetchOptions カタログ取得のオプション
type FetchOptions struct {
	// SkipInventory はロケーション別在庫の取得を省略し、カタログの概算在庫をavailableとして使う
	SkipInventory bool
	// OnProgress は各ページ/バッチ完了時に呼ばれる (stage, 件数)
	OnProgress func(stage string, count int)
}

func (o FetchOptions) progress(stage string, count int) {
	if o.OnProgress != nil {
		o.OnProgress(stage, count)
	}
}

// CatalogConfig カタログ取得のチューニング値
type CatalogConfig struct {
	PageDelay      time.Duration `yaml:"page_delay"`
	VariantPool    PoolOptions   `yaml:"variant_pool"`
	InventoryPool  PoolOptions   `yaml:"inventory_pool"`
	LocationsFirst int           `yaml:"locations_first"`
}

// DefaultCatalogConfig デフォルト設定を返す
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		PageDelay:      500 * time.Millisecond,
		VariantPool:    PoolOptions{BatchSize: 1, MaxConcurrency: 2, MaxRequeueRounds: 3},
		InventoryPool:  PoolOptions{BatchSize: 50, MaxConcurrency: 2, MaxRequeueRounds: 3},
		LocationsFirst: 50,
	}
}

// CatalogFetcher は商品・バリアントカタログとロケーション別在庫数を取得します。
type CatalogFetcher struct {
	client *Client
	cfg    CatalogConfig
}

// NewCatalogFetcher 新しいCatalogFetcherを作成
func NewCatalogFetcher(client *Client, cfg CatalogConfig) *CatalogFetcher {
	return &CatalogFetcher{client: client, cfg: cfg}
}

// StatusQuery builds the provider search query for a comma separated status filter.
func StatusQuery(statusFilter string) string {
	var statuses []string
	for _, s := range strings.Split(statusFilter, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			statuses = append(statuses, s)
		}
	}
	if len(statuses) == 0 {
		return ""
	}
	return "status:" + strings.Join(statuses, ",")
}

// FetchAll はカタログ全件を取得し、在庫数を解決したスナップショットを返します。
func (f *CatalogFetcher) FetchAll(ctx context.Context, shop, accessToken, statusFilter string, opts FetchOptions) (*models.CatalogSnapshot, error) {
	start := time.Now()
	query := StatusQuery(statusFilter)

	products, err := paginate(ctx, f.cfg.PageDelay, func(ctx context.Context, after *string) (Connection[productNode], error) {
		var out struct {
			Products Connection[productNode] `json:"products"`
		}
		vars := map[string]interface{}{
			"first":         productPageSize,
			"after":         after,
			"variantsFirst": variantPageSize,
		}
		if query != "" {
			vars["query"] = query
		}
		err := f.client.Query(ctx, shop, accessToken, productsQuery, vars, &out)
		return out.Products, err
	}, func(page, count int) {
		log.Debug().Str("shop", shop).Int("page", page).Int("products", count).Msg("商品ページを取得しました")
		opts.progress("products", count)
	})
	if err != nil {
		return nil, fmt.Errorf("商品一覧の取得に失敗: %w", err)
	}

	extra, err := f.hydrateVariants(ctx, shop, accessToken, products)
	if err != nil {
		return nil, fmt.Errorf("バリアントの追加取得に失敗: %w", err)
	}

	snapshot := &models.CatalogSnapshot{
		Products:  make([]models.Product, 0, len(products)),
		FetchedAt: time.Now().UTC(),
	}
	for _, p := range products {
		snapshot.Products = append(snapshot.Products, models.Product{
			ID:          p.ID,
			Title:       p.Title,
			Status:      p.Status,
			Vendor:      p.Vendor,
			ProductType: p.ProductType,
		})
		nodes := append(p.Variants.Nodes(), extra[p.ID]...)
		for _, v := range nodes {
			snapshot.Variants = append(snapshot.Variants, models.Variant{
				ID:              v.ID,
				ProductID:       p.ID,
				ProductTitle:    p.Title,
				Title:           v.Title,
				SKU:             v.SKU,
				InventoryItemID: v.InventoryItem.ID,
				CatalogQuantity: v.InventoryQuantity,
			})
		}
	}

	if opts.SkipInventory {
		for i := range snapshot.Variants {
			snapshot.Variants[i].AvailableStock = snapshot.Variants[i].CatalogQuantity
		}
	} else {
		levels, err := f.fetchInventoryLevels(ctx, shop, accessToken, snapshot.Variants, opts)
		if err != nil {
			return nil, fmt.Errorf("在庫数の取得に失敗: %w", err)
		}
		applyInventoryLevels(snapshot.Variants, levels)
	}

	log.Info().
		Str("shop", shop).
		Int("products", len(snapshot.Products)).
		Int("variants", len(snapshot.Variants)).
		Bool("skip_inventory", opts.SkipInventory).
		Dur("elapsed", time.Since(start)).
		Msg("カタログ取得が完了しました")
	return snapshot, nil
}

// hydrateVariants は1ページに収まらなかったバリアントを商品ごとに追加取得する
func (f *CatalogFetcher) hydrateVariants(ctx context.Context, shop, accessToken string, products []productNode) (map[string][]variantNode, error) {
	type pending struct {
		productID string
		after     string
	}
	var todo []pending
	for _, p := range products {
		if p.Variants.PageInfo.HasNextPage {
			todo = append(todo, pending{productID: p.ID, after: p.Variants.PageInfo.EndCursor})
		}
	}
	extra := make(map[string][]variantNode, len(todo))
	if len(todo) == 0 {
		return extra, nil
	}

	var mu sync.Mutex
	err := RunBatches(ctx, todo, f.cfg.VariantPool, func(ctx context.Context, batch []pending) error {
		for _, item := range batch {
			cursor := item.after
			nodes, err := paginate(ctx, f.cfg.PageDelay, func(ctx context.Context, after *string) (Connection[variantNode], error) {
				if after == nil {
					after = &cursor
				}
				var out struct {
					Product *struct {
						Variants Connection[variantNode] `json:"variants"`
					} `json:"product"`
				}
				vars := map[string]interface{}{"id": item.productID, "first": variantPageSize, "after": after}
				if err := f.client.Query(ctx, shop, accessToken, productVariantsQuery, vars, &out); err != nil {
					return Connection[variantNode]{}, err
				}
				if out.Product == nil {
					return Connection[variantNode]{}, nil
				}
				return out.Product.Variants, nil
			}, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			extra[item.productID] = nodes
			mu.Unlock()
		}
		return nil
	})
	return extra, err
}
