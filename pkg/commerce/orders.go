package commerce

import (
	"context"
	"fmt"
	"time"

	"restock-api/pkg/models"

	"github.com/rs/zerolog/log"
)

const (
	orderPageSize    = 250
	lineItemPageSize = 250
)

const ordersQuery = `query Orders($first: Int!, $after: String, $query: String, $lineItemsFirst: Int!) {
  orders(first: $first, after: $after, query: $query, sortKey: CREATED_AT) {
    edges {
      cursor
      node {
        id
        name
        createdAt
        displayFinancialStatus
        displayFulfillmentStatus
        lineItems(first: $lineItemsFirst) {
          edges {
            cursor
            node {
              name
              quantity
              variant { id }
              product { id title }
            }
          }
          pageInfo { hasNextPage endCursor }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const orderLineItemsQuery = `query OrderLineItems($id: ID!, $first: Int!, $after: String) {
  order(id: $id) {
    lineItems(first: $first, after: $after) {
      edges {
        cursor
        node {
          name
          quantity
          variant { id }
          product { id title }
        }
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

type lineItemNode struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Variant  *struct {
		ID string `json:"id"`
	} `json:"variant"`
	Product *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"product"`
}

type orderNode struct {
	ID                       string                   `json:"id"`
	Name                     string                   `json:"name"`
	CreatedAt                time.Time                `json:"createdAt"`
	DisplayFinancialStatus   string                   `json:"displayFinancialStatus"`
	DisplayFulfillmentStatus string                   `json:"displayFulfillmentStatus"`
	LineItems                Connection[lineItemNode] `json:"lineItems"`
}

// OrderFetcher は期間内の注文と明細を取得します。
type OrderFetcher struct {
	client    *Client
	pageDelay time.Duration
}

// NewOrderFetcher 新しいOrderFetcherを作成
func NewOrderFetcher(client *Client, pageDelay time.Duration) *OrderFetcher {
	return &OrderFetcher{client: client, pageDelay: pageDelay}
}

// OrderDateQuery builds the server-side created_at filter, swapping an inverted range.
func OrderDateQuery(start, end time.Time) string {
	if start.After(end) {
		start, end = end, start
	}
	return fmt.Sprintf("created_at:>='%s' created_at:<='%s'",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

// FetchRange は [start, end] に作成された注文を取得し、明細ごとに1件のファクトへ展開します。
func (f *OrderFetcher) FetchRange(ctx context.Context, shop, accessToken string, start, end time.Time) ([]models.OrderLineFact, error) {
	query := OrderDateQuery(start, end)

	orders, err := paginate(ctx, f.pageDelay, func(ctx context.Context, after *string) (Connection[orderNode], error) {
		var out struct {
			Orders Connection[orderNode] `json:"orders"`
		}
		vars := map[string]interface{}{
			"first":          orderPageSize,
			"after":          after,
			"query":          query,
			"lineItemsFirst": lineItemPageSize,
		}
		err := f.client.Query(ctx, shop, accessToken, ordersQuery, vars, &out)
		return out.Orders, err
	}, func(page, count int) {
		log.Debug().Str("shop", shop).Int("page", page).Int("orders", count).Msg("注文ページを取得しました")
	})
	if err != nil {
		return nil, fmt.Errorf("注文の取得に失敗: %w", err)
	}

	for i := range orders {
		if !orders[i].LineItems.PageInfo.HasNextPage {
			continue
		}
		if err := f.hydrateLineItems(ctx, shop, accessToken, &orders[i]); err != nil {
			return nil, fmt.Errorf("注文明細の取得に失敗 (%s): %w", orders[i].ID, err)
		}
	}

	facts := FlattenOrders(orders)
	log.Info().Str("shop", shop).Int("orders", len(orders)).Int("line_items", len(facts)).Msg("注文取得が完了しました")
	return facts, nil
}

// hydrateLineItems は1ページに収まらなかった明細を続きのカーソルから取得し、注文に追記する
func (f *OrderFetcher) hydrateLineItems(ctx context.Context, shop, accessToken string, order *orderNode) error {
	cursor := order.LineItems.PageInfo.EndCursor
	if cursor == "" && len(order.LineItems.Edges) > 0 {
		cursor = order.LineItems.Edges[len(order.LineItems.Edges)-1].Cursor
	}
	if cursor == "" {
		return &RemoteError{Message: "lineItems: hasNextPage=true ですがカーソルがありません"}
	}

	rest, err := paginate(ctx, f.pageDelay, func(ctx context.Context, after *string) (Connection[lineItemNode], error) {
		if after == nil {
			after = &cursor
		}
		var out struct {
			Order *struct {
				LineItems Connection[lineItemNode] `json:"lineItems"`
			} `json:"order"`
		}
		vars := map[string]interface{}{"id": order.ID, "first": lineItemPageSize, "after": after}
		if err := f.client.Query(ctx, shop, accessToken, orderLineItemsQuery, vars, &out); err != nil {
			return Connection[lineItemNode]{}, err
		}
		if out.Order == nil {
			return Connection[lineItemNode]{}, nil
		}
		return out.Order.LineItems, nil
	}, nil)
	if err != nil {
		return err
	}

	for _, li := range rest {
		order.LineItems.Edges = append(order.LineItems.Edges, Edge[lineItemNode]{Node: li})
	}
	order.LineItems.PageInfo = PageInfo{}
	log.Debug().Str("shop", shop).Str("order", order.ID).Int("extra_line_items", len(rest)).Msg("追加の注文明細を取得しました")
	return nil
}

// FlattenOrders expands every order into one fact per line item sharing the order fields.
func FlattenOrders(orders []orderNode) []models.OrderLineFact {
	var facts []models.OrderLineFact
	for _, o := range orders {
		for _, li := range o.LineItems.Nodes() {
			fact := models.OrderLineFact{
				OrderID:           o.ID,
				OrderName:         o.Name,
				CreatedAt:         o.CreatedAt,
				ProductName:       li.Name,
				Quantity:          li.Quantity,
				FinancialStatus:   o.DisplayFinancialStatus,
				FulfillmentStatus: o.DisplayFulfillmentStatus,
			}
			if li.Variant != nil {
				fact.VariantID = li.Variant.ID
			}
			if li.Product != nil {
				fact.ProductID = li.Product.ID
				if li.Product.Title != "" {
					fact.ProductName = li.Product.Title
				}
			}
			if fact.Quantity < 0 {
				fact.Quantity = 0
			}
			facts = append(facts, fact)
		}
	}
	return facts
}
