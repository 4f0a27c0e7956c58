package commerce

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PoolOptions バッチ分割と同時実行数の設定
type PoolOptions struct {
	BatchSize        int `yaml:"batch_size"`
	MaxConcurrency   int `yaml:"max_concurrency"`
	MaxRequeueRounds int `yaml:"max_requeue_rounds"`
}

func (o PoolOptions) normalized() PoolOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 1
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 1
	}
	if o.MaxRequeueRounds < 0 {
		o.MaxRequeueRounds = 0
	}
	return o
}

// Chunk splits items into consecutive batches of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// RunBatches はitemsをバッチに分割し、最大MaxConcurrency件ずつ並行してfnを実行します。
// スロットリングで失敗したバッチは次のラウンドに再キューされ、それ以外のエラーは全体を中断します。
func RunBatches[T any](ctx context.Context, items []T, opts PoolOptions, fn func(ctx context.Context, batch []T) error) error {
	opts = opts.normalized()
	pending := Chunk(items, opts.BatchSize)

	var lastThrottle error
	for round := 0; len(pending) > 0; round++ {
		if round > opts.MaxRequeueRounds {
			return fmt.Errorf("%d件のバッチが再キュー上限 (%d回) に達しました: %w", len(pending), opts.MaxRequeueRounds, lastThrottle)
		}
		if round > 0 {
			log.Warn().Int("round", round).Int("batches", len(pending)).Msg("スロットリングされたバッチを再実行します")
		}

		var (
			mu       sync.Mutex
			requeued [][]T
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.MaxConcurrency)
		for _, batch := range pending {
			g.Go(func() error {
				err := fn(gctx, batch)
				if err == nil {
					return nil
				}
				if IsThrottled(err) {
					mu.Lock()
					requeued = append(requeued, batch)
					lastThrottle = err
					mu.Unlock()
					return nil
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		pending = requeued
	}
	return nil
}
