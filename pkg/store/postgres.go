package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS shop_credentials (
		shop         TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS track_incoming (
		shop                     TEXT NOT NULL,
		variant_id               TEXT NOT NULL,
		incoming                 INTEGER NOT NULL,
		incoming_last_changed_at TIMESTAMPTZ NOT NULL,
		history                  JSONB NOT NULL DEFAULT '[]'::jsonb,
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (shop, variant_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_history (
		shop               TEXT NOT NULL,
		dedupe_key         TEXT NOT NULL,
		order_id           TEXT NOT NULL,
		order_name         TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL,
		variant_id         TEXT NOT NULL DEFAULT '',
		product_id         TEXT NOT NULL DEFAULT '',
		product_name       TEXT NOT NULL DEFAULT '',
		quantity           INTEGER NOT NULL,
		financial_status   TEXT NOT NULL DEFAULT '',
		fulfillment_status TEXT NOT NULL DEFAULT '',
		recorded_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (shop, dedupe_key)
	)`,
	`CREATE INDEX IF NOT EXISTS order_history_shop_created_at ON order_history (shop, created_at)`,
}

// Connect はPostgreSQLの接続プールを作成し、疎通確認を行います。
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベース接続プールの作成に失敗: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	log.Info().Msg("データベースに接続しました")
	return pool, nil
}

// Migrate は必要なテーブルを作成します。既存のテーブルはそのまま残ります。
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("スキーマの作成に失敗: %w", err)
		}
	}
	return nil
}

// Postgres はPostgreSQLを使用した各ストアの実装です。
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres 新しいPostgreSQLストアを作成
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close closes the underlying pool
func (p *Postgres) Close() {
	p.pool.Close()
	log.Info().Msg("データベース接続プールを閉じました")
}
