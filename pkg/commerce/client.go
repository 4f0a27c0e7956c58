package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpointTemplate はショップドメインとAPIバージョンから組み立てるGraphQLエンドポイント
const DefaultEndpointTemplate = "https://%s/admin/api/%s/graphql.json"

// Client はリモートコマースAPI (GraphQL Admin API) へのリクエストを管理します。
// すべての呼び出しはExecutorを経由するため、スロットリング時の再試行が自動で行われます。
type Client struct {
	endpointTemplate string
	apiVersion       string
	httpClient       *http.Client
	executor         *Executor
}

// NewClient 新しいClientを作成
func NewClient(endpointTemplate, apiVersion string, executor *Executor) *Client {
	if endpointTemplate == "" {
		endpointTemplate = DefaultEndpointTemplate
	}
	if executor == nil {
		executor = NewExecutor(DefaultRetryPolicy())
	}
	return &Client{
		endpointTemplate: endpointTemplate,
		apiVersion:       apiVersion,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		executor: executor,
	}
}

// Executor returns the retry executor shared by every call of this client.
func (c *Client) Executor() *Executor {
	return c.executor
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Query はGraphQLクエリを実行し、data部分をoutにデコードします。
func (c *Client) Query(ctx context.Context, shop, accessToken, query string, variables map[string]interface{}, out interface{}) error {
	if accessToken == "" {
		return fmt.Errorf("access token が設定されていません")
	}

	requestBody, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("リクエストのJSON化に失敗: %w", err)
	}
	url := c.endpoint(shop)

	resp, err := c.executor.Execute(ctx, func(ctx context.Context) (*Response, error) {
		return c.do(ctx, url, accessToken, requestBody)
	})
	if err != nil {
		return err
	}

	env, ok := decodeEnvelope(resp.Body)
	if !ok {
		return &RemoteError{StatusCode: resp.StatusCode, Message: "レスポンスがJSONオブジェクトではありません: " + truncateBody(resp.Body)}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &RemoteError{StatusCode: resp.StatusCode, Message: "レスポンスのJSON解析に失敗", Err: err}
	}
	return nil
}

func (c *Client) endpoint(shop string) string {
	if strings.Count(c.endpointTemplate, "%s") >= 2 {
		return fmt.Sprintf(c.endpointTemplate, shop, c.apiVersion)
	}
	return c.endpointTemplate
}

// do はHTTPリクエストを1回だけ実行する (再試行はExecutorの責務)
func (c *Client) do(ctx context.Context, url, accessToken string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの実行に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// --- ページネーション ---

// PageInfo カーソルページネーションの状態
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Edge is one node of a connection together with its cursor.
type Edge[N any] struct {
	Node   N      `json:"node"`
	Cursor string `json:"cursor"`
}

// Connection is a cursor-paginated list as returned by the provider.
type Connection[N any] struct {
	Edges    []Edge[N] `json:"edges"`
	PageInfo PageInfo  `json:"pageInfo"`
}

// Nodes returns the nodes of the connection in order.
func (c Connection[N]) Nodes() []N {
	nodes := make([]N, 0, len(c.Edges))
	for _, e := range c.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}

// paginate はページが尽きるまで順番に取得する。各ページのカーソルは前ページに依存するため並列化しない。
func paginate[N any](ctx context.Context, pageDelay time.Duration, fetch func(ctx context.Context, after *string) (Connection[N], error), onPage func(page, count int)) ([]N, error) {
	var (
		all   []N
		after *string
	)
	for page := 1; ; page++ {
		conn, err := fetch(ctx, after)
		if err != nil {
			return nil, err
		}
		all = append(all, conn.Nodes()...)
		if onPage != nil {
			onPage(page, len(conn.Edges))
		}

		if !conn.PageInfo.HasNextPage {
			return all, nil
		}
		cursor := conn.PageInfo.EndCursor
		if cursor == "" && len(conn.Edges) > 0 {
			cursor = conn.Edges[len(conn.Edges)-1].Cursor
		}
		if cursor == "" {
			return nil, &RemoteError{Message: "hasNextPage=true ですがカーソルがありません"}
		}
		after = &cursor

		if err := sleepContext(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
}
