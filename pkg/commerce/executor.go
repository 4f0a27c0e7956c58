package commerce

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// HeaderRetryAfter サーバーが提示する再試行までの秒数
	HeaderRetryAfter = "Retry-After"
	// HeaderCallLimit "使用量/上限" 形式の残りクォータ
	HeaderCallLimit = "X-Shopify-Shop-Api-Call-Limit"

	throttledCode = "THROTTLED"
)

// Response はリモート呼び出し1回分の生レスポンスです。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestFunc はリトライ対象となる単一のリモート呼び出しです。
type RequestFunc func(ctx context.Context) (*Response, error)

// RetryPolicy スロットリング時のバックオフと事前ペーシングの設定
type RetryPolicy struct {
	MaxRetries          int           `yaml:"max_retries"`
	InitialDelay        time.Duration `yaml:"initial_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	RetryAfterBuffer    time.Duration `yaml:"retry_after_buffer"`
	WarnUtilization     float64       `yaml:"warn_utilization"`
	CriticalUtilization float64       `yaml:"critical_utilization"`
	WarnDelay           time.Duration `yaml:"warn_delay"`
	CriticalDelay       time.Duration `yaml:"critical_delay"`
}

// DefaultRetryPolicy デフォルトのリトライ設定を返す
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          5,
		InitialDelay:        time.Second,
		MaxDelay:            32 * time.Second,
		RetryAfterBuffer:    500 * time.Millisecond,
		WarnUtilization:     0.8,
		CriticalUtilization: 0.9,
		WarnDelay:           500 * time.Millisecond,
		CriticalDelay:       2 * time.Second,
	}
}

// Executor はスロットリングを考慮してリモート呼び出しを実行します。
// 再帰ではなく試行回数付きのループで実装しているため、スタック深度は一定です。
type Executor struct {
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor 新しいExecutorを作成
func NewExecutor(policy RetryPolicy) *Executor {
	return &Executor{
		policy: policy,
		sleep:  sleepContext,
	}
}

// Policy returns the retry policy in use.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Execute runs fn until it succeeds, fails with a non-throttling error, or the retry budget
// is exhausted. Throttling ends in a *ThrottledError, everything else in a *RemoteError.
func (e *Executor) Execute(ctx context.Context, fn RequestFunc) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := fn(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &RemoteError{Message: err.Error(), Err: err}
		}

		throttled, retryAfter := classifyThrottle(resp)
		if !throttled {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &RemoteError{StatusCode: resp.StatusCode, Message: truncateBody(resp.Body)}
			}
			if msg := graphQLErrorMessage(resp.Body); msg != "" {
				return nil, &RemoteError{StatusCode: resp.StatusCode, Message: msg}
			}
			if err := e.pace(ctx, resp); err != nil {
				return nil, err
			}
			return resp, nil
		}

		wait := e.backoff(attempt, retryAfter)
		if attempt >= e.policy.MaxRetries {
			log.Error().Int("attempts", attempt+1).Msg("スロットリングがリトライ上限に達しました")
			return nil, &ThrottledError{Attempts: attempt + 1, LastWait: wait, RetryAfter: retryAfter}
		}

		log.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", e.policy.MaxRetries).
			Dur("wait", wait).
			Msg("リモートAPIがスロットリングを返しました。待機後に再試行します")
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// backoff はサーバー提示の待機時間を優先し、無ければ指数バックオフを返す
func (e *Executor) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter + e.policy.RetryAfterBuffer
	}
	return ExponentialDelay(e.policy.InitialDelay, e.policy.MaxDelay, attempt)
}

// pace は成功時でもクォータ使用率が閾値を超えていれば追加で待機する
func (e *Executor) pace(ctx context.Context, resp *Response) error {
	utilization, ok := quotaUtilization(resp)
	if !ok {
		return nil
	}

	var delay time.Duration
	switch {
	case utilization > e.policy.CriticalUtilization:
		delay = e.policy.CriticalDelay
	case utilization > e.policy.WarnUtilization:
		delay = e.policy.WarnDelay
	default:
		return nil
	}

	log.Debug().Float64("utilization", utilization).Dur("delay", delay).Msg("クォータ使用率が高いためペーシングします")
	return e.sleep(ctx, delay)
}

// ExponentialDelay returns min(initial * 2^attempt, max).
func ExponentialDelay(initial, max time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// classifyThrottle は HTTP 429 またはGraphQLの THROTTLED エラーを検出する
func classifyThrottle(resp *Response) (bool, time.Duration) {
	retryAfter := parseRetryAfter(resp.Header.Get(HeaderRetryAfter))
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, retryAfter
	}
	env, ok := decodeEnvelope(resp.Body)
	if !ok {
		return false, 0
	}
	for _, gqlErr := range env.Errors {
		if strings.EqualFold(gqlErr.Extensions.Code, throttledCode) {
			return true, retryAfter
		}
	}
	return false, 0
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs*1000) * time.Millisecond
}

// quotaUtilization はヘッダー (used/limit) またはGraphQLのコスト情報から使用率を算出する
func quotaUtilization(resp *Response) (float64, bool) {
	if raw := resp.Header.Get(HeaderCallLimit); raw != "" {
		parts := strings.SplitN(raw, "/", 2)
		if len(parts) == 2 {
			used, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			limit, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if err1 == nil && err2 == nil && limit > 0 {
				return used / limit, true
			}
		}
	}

	env, ok := decodeEnvelope(resp.Body)
	if !ok || env.Extensions.Cost == nil {
		return 0, false
	}
	status := env.Extensions.Cost.ThrottleStatus
	if status.MaximumAvailable <= 0 {
		return 0, false
	}
	return 1 - status.CurrentlyAvailable/status.MaximumAvailable, true
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type envelope struct {
	Data       json.RawMessage `json:"data"`
	Errors     []graphQLError  `json:"errors"`
	Extensions struct {
		Cost *struct {
			ThrottleStatus struct {
				MaximumAvailable   float64 `json:"maximumAvailable"`
				CurrentlyAvailable float64 `json:"currentlyAvailable"`
				RestoreRate        float64 `json:"restoreRate"`
			} `json:"throttleStatus"`
		} `json:"cost"`
	} `json:"extensions"`
}

func decodeEnvelope(body []byte) (*envelope, bool) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}
	return &env, true
}

func graphQLErrorMessage(body []byte) string {
	env, ok := decodeEnvelope(body)
	if !ok || len(env.Errors) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(env.Errors))
	for _, e := range env.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
