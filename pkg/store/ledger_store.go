package store

import (
	"context"
	"encoding/json"
	"fmt"

	"restock-api/pkg/models"
	"restock-api/pkg/services"
)

const upsertIncomingSQL = `
	INSERT INTO track_incoming (shop, variant_id, incoming, incoming_last_changed_at, history, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (shop, variant_id) DO UPDATE SET
		incoming = EXCLUDED.incoming,
		incoming_last_changed_at = EXCLUDED.incoming_last_changed_at,
		history = EXCLUDED.history,
		updated_at = NOW()`

const deleteIncomingSQL = `DELETE FROM track_incoming WHERE shop = $1 AND variant_id = $2`

// ListByShop はショップの入荷予定台帳をすべて返します。
func (p *Postgres) ListByShop(ctx context.Context, shop string) ([]models.TrackIncomingRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT shop, variant_id, incoming, incoming_last_changed_at, history
		FROM track_incoming WHERE shop = $1 ORDER BY variant_id`, shop)
	if err != nil {
		return nil, fmt.Errorf("台帳の検索に失敗: %w", err)
	}
	defer rows.Close()

	var records []models.TrackIncomingRecord
	for rows.Next() {
		var (
			r   models.TrackIncomingRecord
			raw []byte
		)
		if err := rows.Scan(&r.Shop, &r.VariantID, &r.Incoming, &r.IncomingLastChangedAt, &raw); err != nil {
			return nil, fmt.Errorf("台帳の読み取りに失敗: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.History); err != nil {
				return nil, fmt.Errorf("台帳履歴の解析に失敗 (variant=%s): %w", r.VariantID, err)
			}
		}
		r.IncomingLastChangedAt = r.IncomingLastChangedAt.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// ApplyBatch は操作を1件ずつ実行します。失敗した操作は他の操作に影響しません。
func (p *Postgres) ApplyBatch(ctx context.Context, ops []services.LedgerOp) error {
	var failed []services.LedgerOpError
	for _, op := range ops {
		if err := p.applyLedgerOp(ctx, op); err != nil {
			failed = append(failed, services.LedgerOpError{Op: op, Err: err})
		}
	}
	if len(failed) > 0 {
		return &services.PersistenceError{Failed: failed}
	}
	return nil
}

func (p *Postgres) applyLedgerOp(ctx context.Context, op services.LedgerOp) error {
	r := op.Record
	switch op.Kind {
	case services.LedgerDelete:
		_, err := p.pool.Exec(ctx, deleteIncomingSQL, r.Shop, r.VariantID)
		return err
	case services.LedgerUpsert:
		history := r.History
		if history == nil {
			history = []models.IncomingHistoryEntry{}
		}
		raw, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("台帳履歴のエンコードに失敗: %w", err)
		}
		_, err = p.pool.Exec(ctx, upsertIncomingSQL, r.Shop, r.VariantID, r.Incoming, r.IncomingLastChangedAt, raw)
		return err
	default:
		return fmt.Errorf("不明な台帳操作: %s", op.Kind)
	}
}
