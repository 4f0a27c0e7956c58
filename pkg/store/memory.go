package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"restock-api/pkg/models"
	"restock-api/pkg/services"
)

// ErrInjected is returned by Memory for operations configured to fail
var ErrInjected = errors.New("injected failure")

// Memory はプロセス内で完結するストアです。開発環境とテストで使用します。
type Memory struct {
	mu          sync.RWMutex
	credentials map[string]models.Credential
	ledger      map[string]models.TrackIncomingRecord
	orders      map[string]map[string]models.OrderLineFact

	failLedger map[string]bool
}

// NewMemory 新しいインメモリストアを作成
func NewMemory() *Memory {
	return &Memory{
		credentials: make(map[string]models.Credential),
		ledger:      make(map[string]models.TrackIncomingRecord),
		orders:      make(map[string]map[string]models.OrderLineFact),
		failLedger:  make(map[string]bool),
	}
}

func ledgerKey(shop, variantID string) string { return shop + "\x00" + variantID }

// FailLedgerVariant makes every ledger op for the variant fail until cleared
func (m *Memory) FailLedgerVariant(variantID string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fail {
		m.failLedger[variantID] = true
	} else {
		delete(m.failLedger, variantID)
	}
}

// GetCredential 認証情報を取得
func (m *Memory) GetCredential(_ context.Context, shop string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.credentials[shop]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// SaveCredential 認証情報を保存
func (m *Memory) SaveCredential(_ context.Context, cred models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[cred.Shop] = cred
	return nil
}

// ListByShop 入荷予定台帳を取得
func (m *Memory) ListByShop(_ context.Context, shop string) ([]models.TrackIncomingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []models.TrackIncomingRecord
	for _, r := range m.ledger {
		if r.Shop == shop {
			r.History = append([]models.IncomingHistoryEntry(nil), r.History...)
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].VariantID < records[j].VariantID })
	return records, nil
}

// ApplyBatch 台帳操作を個別に適用
func (m *Memory) ApplyBatch(_ context.Context, ops []services.LedgerOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed []services.LedgerOpError
	for _, op := range ops {
		if m.failLedger[op.Record.VariantID] {
			failed = append(failed, services.LedgerOpError{Op: op, Err: ErrInjected})
			continue
		}
		key := ledgerKey(op.Record.Shop, op.Record.VariantID)
		switch op.Kind {
		case services.LedgerUpsert:
			r := op.Record
			r.History = append([]models.IncomingHistoryEntry(nil), r.History...)
			m.ledger[key] = r
		case services.LedgerDelete:
			delete(m.ledger, key)
		}
	}
	if len(failed) > 0 {
		return &services.PersistenceError{Failed: failed}
	}
	return nil
}

// Append 注文明細を追加（重複は無視）
func (m *Memory) Append(_ context.Context, shop string, facts []models.OrderLineFact) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.orders[shop]
	if !ok {
		byKey = make(map[string]models.OrderLineFact)
		m.orders[shop] = byKey
	}
	inserted := 0
	for _, f := range facts {
		key := f.DedupeKey()
		if _, exists := byKey[key]; exists {
			continue
		}
		byKey[key] = f
		inserted++
	}
	return inserted, nil
}

// ListRange 期間内の注文明細を作成日時の昇順で取得
func (m *Memory) ListRange(_ context.Context, shop string, start, end time.Time) ([]models.OrderLineFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var facts []models.OrderLineFact
	for _, f := range m.orders[shop] {
		if f.CreatedAt.Before(start) || f.CreatedAt.After(end) {
			continue
		}
		facts = append(facts, f)
	}
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].CreatedAt.Equal(facts[j].CreatedAt) {
			return facts[i].DedupeKey() < facts[j].DedupeKey()
		}
		return facts[i].CreatedAt.Before(facts[j].CreatedAt)
	})
	return facts, nil
}

// PruneBefore cutoffより前の注文明細を削除
func (m *Memory) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, byKey := range m.orders {
		for key, f := range byKey {
			if f.CreatedAt.Before(cutoff) {
				delete(byKey, key)
				n++
			}
		}
	}
	return n, nil
}

var (
	_ services.CredentialStore   = (*Memory)(nil)
	_ services.LedgerStore       = (*Memory)(nil)
	_ services.OrderHistoryStore = (*Memory)(nil)
	_ services.CredentialStore   = (*Postgres)(nil)
	_ services.LedgerStore       = (*Postgres)(nil)
	_ services.OrderHistoryStore = (*Postgres)(nil)
)
