package commerce

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor は待機時間を記録するだけで実際にはスリープしないExecutorを返す
func recordingExecutor(policy RetryPolicy) (*Executor, *[]time.Duration) {
	delays := &[]time.Duration{}
	e := NewExecutor(policy)
	e.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return e, delays
}

func throttled429(retryAfter string) *Response {
	h := http.Header{}
	if retryAfter != "" {
		h.Set(HeaderRetryAfter, retryAfter)
	}
	return &Response{StatusCode: http.StatusTooManyRequests, Header: h}
}

func ok(body string, header http.Header) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{StatusCode: http.StatusOK, Header: header, Body: []byte(body)}
}

// sequence は用意したレスポンスを順番に返すRequestFuncと呼び出し回数を返す
func sequence(responses ...*Response) (RequestFunc, *int) {
	calls := new(int)
	return func(context.Context) (*Response, error) {
		r := responses[*calls]
		*calls++
		return r, nil
	}, calls
}

func TestExecuteRetriesThrottledThenSucceeds(t *testing.T) {
	policy := DefaultRetryPolicy()
	e, delays := recordingExecutor(policy)

	fn, calls := sequence(throttled429(""), throttled429(""), throttled429(""), ok(`{"data":{}}`, nil))
	resp, err := e.Execute(context.Background(), fn)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, *calls, "N throttled responses followed by success should make N+1 calls")
	require.Len(t, *delays, 3)
	for n, d := range *delays {
		assert.GreaterOrEqual(t, d, ExponentialDelay(policy.InitialDelay, policy.MaxDelay, n))
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

func TestExecuteBackoffIsCappedAtMaxDelay(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialDelay = time.Second
	policy.MaxDelay = 3 * time.Second
	e, delays := recordingExecutor(policy)

	fn, _ := sequence(throttled429(""), throttled429(""), throttled429(""), ok(`{}`, nil))
	_, err := e.Execute(context.Background(), fn)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *delays)
}

func TestExecuteReturnsThrottledErrorWhenRetriesExhausted(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 2
	e, delays := recordingExecutor(policy)

	fn, calls := sequence(throttled429(""), throttled429(""), throttled429(""), ok(`{}`, nil))
	_, err := e.Execute(context.Background(), fn)

	require.Error(t, err)
	assert.True(t, IsThrottled(err))
	assert.False(t, IsRemoteError(err))
	assert.Equal(t, 3, *calls)
	assert.Len(t, *delays, 2)

	var te *ThrottledError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
}

func TestExecutePrefersRetryAfterHint(t *testing.T) {
	policy := DefaultRetryPolicy()
	e, delays := recordingExecutor(policy)

	fn, _ := sequence(throttled429("2"), ok(`{}`, nil))
	_, err := e.Execute(context.Background(), fn)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2*time.Second + policy.RetryAfterBuffer}, *delays)
}

func TestExecuteDetectsGraphQLThrottledCode(t *testing.T) {
	e, delays := recordingExecutor(DefaultRetryPolicy())

	throttledBody := ok(`{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`, nil)
	fn, calls := sequence(throttledBody, ok(`{"data":{"shop":{"name":"x"}}}`, nil))
	_, err := e.Execute(context.Background(), fn)

	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
	assert.Len(t, *delays, 1)
}

func TestExecuteFailsFastOnNonThrottlingErrors(t *testing.T) {
	testCases := []struct {
		name string
		resp *Response
	}{
		{"server error", &Response{StatusCode: http.StatusInternalServerError, Header: http.Header{}, Body: []byte("boom")}},
		{"unauthorized", &Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}}},
		{"graphql error", ok(`{"errors":[{"message":"Field 'foo' doesn't exist"}]}`, nil)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, delays := recordingExecutor(DefaultRetryPolicy())
			fn, calls := sequence(tc.resp, ok(`{}`, nil))

			_, err := e.Execute(context.Background(), fn)

			require.Error(t, err)
			assert.True(t, IsRemoteError(err))
			assert.False(t, IsThrottled(err))
			assert.Equal(t, 1, *calls)
			assert.Empty(t, *delays)
		})
	}
}

func TestExecutePacesOnHighQuotaUtilization(t *testing.T) {
	policy := DefaultRetryPolicy()

	testCases := []struct {
		name     string
		limit    string
		expected []time.Duration
	}{
		{"low utilization", "10/40", nil},
		{"warning threshold", "34/40", []time.Duration{policy.WarnDelay}},
		{"critical threshold", "38/40", []time.Duration{policy.CriticalDelay}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, delays := recordingExecutor(policy)
			h := http.Header{}
			h.Set(HeaderCallLimit, tc.limit)
			fn, _ := sequence(ok(`{"data":{}}`, h))

			_, err := e.Execute(context.Background(), fn)

			require.NoError(t, err)
			if tc.expected == nil {
				assert.Empty(t, *delays)
			} else {
				assert.Equal(t, tc.expected, *delays)
			}
		})
	}
}

func TestExecutePacesFromGraphQLCostExtension(t *testing.T) {
	policy := DefaultRetryPolicy()
	e, delays := recordingExecutor(policy)

	body := `{"data":{},"extensions":{"cost":{"throttleStatus":{"maximumAvailable":1000,"currentlyAvailable":50,"restoreRate":50}}}}`
	fn, _ := sequence(ok(body, nil))
	_, err := e.Execute(context.Background(), fn)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{policy.CriticalDelay}, *delays)
}

func TestExecuteStopsWhenContextCancelled(t *testing.T) {
	e := NewExecutor(DefaultRetryPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fn, calls := sequence(throttled429(""), ok(`{}`, nil))
	_, err := e.Execute(ctx, fn)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *calls)
}

func TestExponentialDelay(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, ExponentialDelay(100*time.Millisecond, time.Second, 0))
	assert.Equal(t, 800*time.Millisecond, ExponentialDelay(100*time.Millisecond, time.Second, 3))
	assert.Equal(t, time.Second, ExponentialDelay(100*time.Millisecond, time.Second, 4))
	assert.Equal(t, time.Second, ExponentialDelay(100*time.Millisecond, time.Second, 60))
}
