package commerce

import (
	"context"
	"sync"

	"restock-api/pkg/models"

	"github.com/rs/zerolog/log"
)

// 在庫数量の名前付きバケット
const (
	QuantityAvailable = "available"
	QuantityIncoming  = "incoming"
	QuantityCommitted = "committed"
	QuantityOnHand    = "on_hand"
)

const inventoryLevelsQuery = `query InventoryLevels($ids: [ID!]!, $locationsFirst: Int!) {
  nodes(ids: $ids) {
    ... on InventoryItem {
      id
      inventoryLevels(first: $locationsFirst) {
        edges {
          cursor
          node {
            location { id }
            quantities(names: ["available", "incoming", "committed", "on_hand"]) { name quantity }
          }
        }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`

const inventoryItemLevelsQuery = `query InventoryItemLevels($id: ID!, $first: Int!, $after: String) {
  inventoryItem(id: $id) {
    inventoryLevels(first: $first, after: $after) {
      edges {
        cursor
        node {
          location { id }
          quantities(names: ["available", "incoming", "committed", "on_hand"]) { name quantity }
        }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

type inventoryLevelNode struct {
	Location struct {
		ID string `json:"id"`
	} `json:"location"`
	Quantities []struct {
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
	} `json:"quantities"`
}

type inventoryItemNode struct {
	ID              string                         `json:"id"`
	InventoryLevels Connection[inventoryLevelNode] `json:"inventoryLevels"`
}

// InventoryQuantities is the per-item stock summed over every location.
type InventoryQuantities struct {
	Available int
	Incoming  int
	Committed int
	OnHand    int
}

func (q *InventoryQuantities) add(name string, quantity int) {
	switch name {
	case QuantityAvailable:
		q.Available += quantity
	case QuantityIncoming:
		q.Incoming += quantity
	case QuantityCommitted:
		q.Committed += quantity
	case QuantityOnHand:
		q.OnHand += quantity
	}
}

// UniqueInventoryItemIDs returns the distinct, non-empty inventory item IDs in catalog order.
func UniqueInventoryItemIDs(variants []models.Variant) []string {
	seen := make(map[string]struct{}, len(variants))
	ids := make([]string, 0, len(variants))
	for _, v := range variants {
		if v.InventoryItemID == "" {
			continue
		}
		if _, ok := seen[v.InventoryItemID]; ok {
			continue
		}
		seen[v.InventoryItemID] = struct{}{}
		ids = append(ids, v.InventoryItemID)
	}
	return ids
}

// fetchInventoryLevels は在庫アイテムIDをバッチに分けて並行取得し、ロケーション横断で合算する
func (f *CatalogFetcher) fetchInventoryLevels(ctx context.Context, shop, accessToken string, variants []models.Variant, opts FetchOptions) (map[string]InventoryQuantities, error) {
	ids := UniqueInventoryItemIDs(variants)
	levels := make(map[string]InventoryQuantities, len(ids))
	if len(ids) == 0 {
		return levels, nil
	}

	locationsFirst := f.cfg.LocationsFirst
	if locationsFirst <= 0 {
		locationsFirst = 50
	}

	var mu sync.Mutex
	err := RunBatches(ctx, ids, f.cfg.InventoryPool, func(ctx context.Context, batch []string) error {
		var out struct {
			Nodes []*inventoryItemNode `json:"nodes"`
		}
		vars := map[string]interface{}{"ids": batch, "locationsFirst": locationsFirst}
		if err := f.client.Query(ctx, shop, accessToken, inventoryLevelsQuery, vars, &out); err != nil {
			return err
		}

		batchLevels := make(map[string]InventoryQuantities, len(out.Nodes))
		for _, item := range out.Nodes {
			if item == nil || item.ID == "" {
				continue
			}
			levelNodes := item.InventoryLevels.Nodes()
			if item.InventoryLevels.PageInfo.HasNextPage {
				rest, err := f.remainingInventoryLevels(ctx, shop, accessToken, item.ID, item.InventoryLevels, locationsFirst)
				if err != nil {
					return err
				}
				log.Debug().Str("shop", shop).Str("inventory_item", item.ID).Int("extra_locations", len(rest)).Msg("追加のロケーション在庫を取得しました")
				levelNodes = append(levelNodes, rest...)
			}

			var q InventoryQuantities
			for _, level := range levelNodes {
				for _, quantity := range level.Quantities {
					q.add(quantity.Name, quantity.Quantity)
				}
			}
			batchLevels[item.ID] = q
		}

		mu.Lock()
		for id, q := range batchLevels {
			levels[id] = q
		}
		mu.Unlock()

		log.Debug().Str("shop", shop).Int("items", len(batch)).Msg("在庫バッチを取得しました")
		opts.progress("inventory", len(batch))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// remainingInventoryLevels は1回目の応答に収まらなかったロケーションを続きのカーソルから取得する
func (f *CatalogFetcher) remainingInventoryLevels(ctx context.Context, shop, accessToken, itemID string, first Connection[inventoryLevelNode], pageSize int) ([]inventoryLevelNode, error) {
	cursor := first.PageInfo.EndCursor
	if cursor == "" && len(first.Edges) > 0 {
		cursor = first.Edges[len(first.Edges)-1].Cursor
	}
	if cursor == "" {
		return nil, &RemoteError{Message: "inventoryLevels: hasNextPage=true ですがカーソルがありません"}
	}

	return paginate(ctx, f.cfg.PageDelay, func(ctx context.Context, after *string) (Connection[inventoryLevelNode], error) {
		if after == nil {
			after = &cursor
		}
		var out struct {
			InventoryItem *struct {
				InventoryLevels Connection[inventoryLevelNode] `json:"inventoryLevels"`
			} `json:"inventoryItem"`
		}
		vars := map[string]interface{}{"id": itemID, "first": pageSize, "after": after}
		if err := f.client.Query(ctx, shop, accessToken, inventoryItemLevelsQuery, vars, &out); err != nil {
			return Connection[inventoryLevelNode]{}, err
		}
		if out.InventoryItem == nil {
			return Connection[inventoryLevelNode]{}, nil
		}
		return out.InventoryItem.InventoryLevels, nil
	}, nil)
}

// applyInventoryLevels は取得した在庫数をバリアントに反映する。取得できなかったアイテムは0のまま。
func applyInventoryLevels(variants []models.Variant, levels map[string]InventoryQuantities) {
	for i := range variants {
		q, ok := levels[variants[i].InventoryItemID]
		if !ok {
			continue
		}
		variants[i].AvailableStock = q.Available
		variants[i].IncomingStock = q.Incoming
		variants[i].Committed = q.Committed
		variants[i].OnHand = q.OnHand
	}
}
