package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"restock-api/pkg/models"

	"github.com/rs/zerolog/log"
)

// LedgerOpKind 台帳操作の種類
type LedgerOpKind string

const (
	LedgerUpsert LedgerOpKind = "upsert"
	LedgerDelete LedgerOpKind = "delete"
)

// LedgerOp は (shop, variant) をキーとする1件の台帳操作です。削除ではShopとVariantIDのみ使用します。
type LedgerOp struct {
	Kind   LedgerOpKind
	Record models.TrackIncomingRecord
}

// LedgerOpError 失敗した台帳操作
type LedgerOpError struct {
	Op  LedgerOp
	Err error
}

// LedgerStore 入荷予定台帳の永続化
type LedgerStore interface {
	ListByShop(ctx context.Context, shop string) ([]models.TrackIncomingRecord, error)
	// ApplyBatch は操作を順不同で個別に実行し、失敗した操作を *PersistenceError で返します。
	// ある操作の失敗は他の操作をロールバックしません。
	ApplyBatch(ctx context.Context, ops []LedgerOp) error
}

// PersistenceError は台帳の同期で永続化に失敗したことを表します。
type PersistenceError struct {
	Shop   string
	Failed []LedgerOpError
	Err    error
}

func (e *PersistenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "台帳の永続化に失敗 (shop=%s", e.Shop)
	if len(e.Failed) > 0 {
		fmt.Fprintf(&b, ", 失敗件数=%d", len(e.Failed))
	}
	b.WriteString(")")
	if err := e.Unwrap(); err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *PersistenceError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// IsPersistenceError reports whether err is a ledger persistence failure
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ReconcileIncoming は入荷予定数の変化を発注履歴へ反映します。
// newIncoming <= 0 の場合は deleted=true を返し、履歴は保持しません。
// 減少時は古い履歴から順に消し込みます（FIFO）。
func ReconcileIncoming(oldIncoming, newIncoming int, history []models.IncomingHistoryEntry, now time.Time) ([]models.IncomingHistoryEntry, bool) {
	if newIncoming <= 0 {
		return nil, true
	}

	var result []models.IncomingHistoryEntry
	switch {
	case oldIncoming <= 0:
		result = []models.IncomingHistoryEntry{{Date: now, Quantity: newIncoming}}
	case newIncoming > oldIncoming:
		result = append(sortedCopy(history), models.IncomingHistoryEntry{Date: now, Quantity: newIncoming - oldIncoming})
	case newIncoming < oldIncoming:
		result = consumeFIFO(sortedCopy(history), oldIncoming-newIncoming)
	default:
		result = sortedCopy(history)
	}

	result = balanceHistory(result, newIncoming, now)
	for i := range result {
		result[i].TotalOrderQuantity = newIncoming
	}
	sortHistory(result)
	return result, false
}

// LookupIncoming は直近の入荷予定変更からの経過日数と、その発注数量を返します。
// 履歴がちょうど1件の場合のみ値を返し、それ以外は (0, 0) です。
func LookupIncoming(record *models.TrackIncomingRecord, now time.Time) (daysPassed int, poQuantity int) {
	if record == nil || len(record.History) != 1 {
		return 0, 0
	}
	entry := record.History[0]
	days := int(math.Floor(now.Sub(entry.Date).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return days, entry.Quantity
}

// consumeFIFO drops or reduces the oldest entries until amount is covered.
func consumeFIFO(history []models.IncomingHistoryEntry, amount int) []models.IncomingHistoryEntry {
	kept := make([]models.IncomingHistoryEntry, 0, len(history))
	remaining := amount
	for _, e := range history {
		if remaining <= 0 {
			kept = append(kept, e)
			continue
		}
		if e.Quantity <= remaining {
			remaining -= e.Quantity
			continue
		}
		e.Quantity -= remaining
		remaining = 0
		kept = append(kept, e)
	}
	return kept
}

// balanceHistory repairs a history whose sum drifted from the recorded incoming total
// (e.g. rows edited outside the ledger) so that sum(quantity) == target holds.
func balanceHistory(history []models.IncomingHistoryEntry, target int, now time.Time) []models.IncomingHistoryEntry {
	total := 0
	for _, e := range history {
		total += e.Quantity
	}
	switch {
	case total < target:
		return append(history, models.IncomingHistoryEntry{Date: now, Quantity: target - total})
	case total > target:
		return consumeFIFO(history, total-target)
	}
	return history
}

func sortedCopy(history []models.IncomingHistoryEntry) []models.IncomingHistoryEntry {
	out := make([]models.IncomingHistoryEntry, 0, len(history)+1)
	for _, e := range history {
		if e.Quantity > 0 {
			out = append(out, e)
		}
	}
	sortHistory(out)
	return out
}

func sortHistory(history []models.IncomingHistoryEntry) {
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.Before(history[j].Date)
	})
}

// IncomingLedger はカタログ同期ごとに入荷予定台帳を照合・永続化します。
type IncomingLedger struct {
	store LedgerStore
}

// NewIncomingLedger 新しい入荷予定台帳を作成
func NewIncomingLedger(store LedgerStore) *IncomingLedger {
	return &IncomingLedger{store: store}
}

// Sync はスナップショットと永続化済みの台帳を比較し、差分の操作を実行します。
// 戻り値の台帳は永続化の成否に関係なく照合後のメモリ上の状態です（入荷予定のあるバリアントのみ）。
// fullCatalog はvariantsがショップの全バリアントであることを示し、その場合はスナップショットに
// 存在しないバリアントの台帳を削除します。ステータスで絞り込んだ取得では削除しません。
// 永続化に失敗した場合は *PersistenceError を返し、次回の同期で再照合されます。
func (l *IncomingLedger) Sync(ctx context.Context, shop string, variants []models.Variant, fullCatalog bool, now time.Time) (map[string]models.TrackIncomingRecord, error) {
	existing := make(map[string]models.TrackIncomingRecord)
	var loadErr error
	records, err := l.store.ListByShop(ctx, shop)
	if err != nil {
		loadErr = fmt.Errorf("台帳の読み込みに失敗: %w", err)
	} else {
		for _, r := range records {
			existing[r.VariantID] = r
		}
	}

	reconciled := make(map[string]models.TrackIncomingRecord)
	var ops []LedgerOp
	seen := make(map[string]bool, len(variants))

	for _, v := range variants {
		if seen[v.ID] {
			continue
		}
		seen[v.ID] = true

		prev, found := existing[v.ID]
		if v.IncomingStock <= 0 {
			if found {
				ops = append(ops, LedgerOp{Kind: LedgerDelete, Record: models.TrackIncomingRecord{Shop: shop, VariantID: v.ID}})
			}
			continue
		}

		if found && prev.Incoming == v.IncomingStock {
			reconciled[v.ID] = prev
			continue
		}

		oldIncoming := 0
		var history []models.IncomingHistoryEntry
		if found {
			oldIncoming = prev.Incoming
			history = prev.History
		}
		newHistory, _ := ReconcileIncoming(oldIncoming, v.IncomingStock, history, now)
		record := models.TrackIncomingRecord{
			Shop:                  shop,
			VariantID:             v.ID,
			Incoming:              v.IncomingStock,
			IncomingLastChangedAt: now,
			History:               newHistory,
		}
		reconciled[v.ID] = record
		ops = append(ops, LedgerOp{Kind: LedgerUpsert, Record: record})
	}

	if fullCatalog {
		var stale []string
		for id := range existing {
			if !seen[id] {
				stale = append(stale, id)
			}
		}
		sort.Strings(stale)
		for _, id := range stale {
			ops = append(ops, LedgerOp{Kind: LedgerDelete, Record: models.TrackIncomingRecord{Shop: shop, VariantID: id}})
		}
		if len(stale) > 0 {
			log.Debug().Str("shop", shop).Int("stale", len(stale)).Msg("カタログから消えたバリアントの台帳を削除します")
		}
	}

	if loadErr != nil {
		// 既存の台帳が不明なまま書き込むと履歴を失うため、永続化は次回に回す
		return reconciled, &PersistenceError{Shop: shop, Err: loadErr}
	}
	if len(ops) == 0 {
		return reconciled, nil
	}

	if err := l.store.ApplyBatch(ctx, ops); err != nil {
		var pe *PersistenceError
		if errors.As(err, &pe) {
			pe.Shop = shop
			return reconciled, pe
		}
		return reconciled, &PersistenceError{Shop: shop, Err: err}
	}

	log.Debug().Str("shop", shop).Int("ops", len(ops)).Msg("入荷予定台帳を同期しました")
	return reconciled, nil
}
