package store

import (
	"context"
	"fmt"
	"time"

	"restock-api/pkg/models"

	"github.com/jackc/pgx/v5"
)

const insertOrderSQL = `
	INSERT INTO order_history (shop, dedupe_key, order_id, order_name, created_at, variant_id, product_id,
		product_name, quantity, financial_status, fulfillment_status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (shop, dedupe_key) DO NOTHING`

// Append は未登録の注文明細のみを追加し、追加件数を返します。
func (p *Postgres) Append(ctx context.Context, shop string, facts []models.OrderLineFact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, f := range facts {
		batch.Queue(insertOrderSQL, shop, f.DedupeKey(), f.OrderID, f.OrderName, f.CreatedAt.UTC(), f.VariantID,
			f.ProductID, f.ProductName, f.Quantity, f.FinancialStatus, f.FulfillmentStatus)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range facts {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("注文履歴の追加に失敗: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListRange は [start, end] に作成された注文明細を作成日時の昇順で返します。
func (p *Postgres) ListRange(ctx context.Context, shop string, start, end time.Time) ([]models.OrderLineFact, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT order_id, order_name, created_at, variant_id, product_id, product_name, quantity,
			financial_status, fulfillment_status
		FROM order_history
		WHERE shop = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at`, shop, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("注文履歴の検索に失敗: %w", err)
	}
	defer rows.Close()

	var facts []models.OrderLineFact
	for rows.Next() {
		var f models.OrderLineFact
		if err := rows.Scan(&f.OrderID, &f.OrderName, &f.CreatedAt, &f.VariantID, &f.ProductID, &f.ProductName,
			&f.Quantity, &f.FinancialStatus, &f.FulfillmentStatus); err != nil {
			return nil, fmt.Errorf("注文履歴の読み取りに失敗: %w", err)
		}
		f.CreatedAt = f.CreatedAt.UTC()
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// PruneBefore はcutoffより前に作成された注文明細を削除します。
func (p *Postgres) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM order_history WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("注文履歴の削除に失敗: %w", err)
	}
	return tag.RowsAffected(), nil
}
