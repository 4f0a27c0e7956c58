package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"restock-api/pkg/commerce"
	"restock-api/pkg/models"
)

type fakeCredentialStore struct {
	mu    sync.Mutex
	creds map[string]models.Credential
	gets  int
}

func newFakeCredentialStore(creds ...models.Credential) *fakeCredentialStore {
	s := &fakeCredentialStore{creds: make(map[string]models.Credential)}
	for _, c := range creds {
		s.creds[c.Shop] = c
	}
	return s
}

func (s *fakeCredentialStore) GetCredential(_ context.Context, shop string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	c, ok := s.creds[shop]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *fakeCredentialStore) SaveCredential(_ context.Context, cred models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.Shop] = cred
	return nil
}

func (s *fakeCredentialStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// fakeLedgerStore は failVariants に含まれるバリアントの操作を失敗させる
type fakeLedgerStore struct {
	mu           sync.Mutex
	records      map[string]models.TrackIncomingRecord
	failVariants map[string]bool
	listErr      error
	applied      []LedgerOp
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{records: make(map[string]models.TrackIncomingRecord), failVariants: make(map[string]bool)}
}

func (s *fakeLedgerStore) ListByShop(_ context.Context, shop string) ([]models.TrackIncomingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.TrackIncomingRecord
	for _, r := range s.records {
		if r.Shop == shop {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func (s *fakeLedgerStore) ApplyBatch(_ context.Context, ops []LedgerOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []LedgerOpError
	for _, op := range ops {
		if s.failVariants[op.Record.VariantID] {
			failed = append(failed, LedgerOpError{Op: op, Err: errors.New("write failed")})
			continue
		}
		s.applied = append(s.applied, op)
		key := op.Record.Shop + "/" + op.Record.VariantID
		switch op.Kind {
		case LedgerUpsert:
			s.records[key] = op.Record
		case LedgerDelete:
			delete(s.records, key)
		}
	}
	if len(failed) > 0 {
		return &PersistenceError{Failed: failed}
	}
	return nil
}

func (s *fakeLedgerStore) get(shop, variantID string) (models.TrackIncomingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[shop+"/"+variantID]
	return r, ok
}

type fakeOrderHistoryStore struct {
	mu     sync.Mutex
	facts  map[string][]models.OrderLineFact
	keys   map[string]bool
	err    error
	pruned time.Time
}

func newFakeOrderHistoryStore() *fakeOrderHistoryStore {
	return &fakeOrderHistoryStore{facts: make(map[string][]models.OrderLineFact), keys: make(map[string]bool)}
}

func (s *fakeOrderHistoryStore) Append(_ context.Context, shop string, facts []models.OrderLineFact) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for _, f := range facts {
		key := shop + "/" + f.DedupeKey()
		if s.keys[key] {
			continue
		}
		s.keys[key] = true
		s.facts[shop] = append(s.facts[shop], f)
		n++
	}
	return n, nil
}

func (s *fakeOrderHistoryStore) ListRange(_ context.Context, shop string, start, end time.Time) ([]models.OrderLineFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OrderLineFact
	for _, f := range s.facts[shop] {
		if !f.CreatedAt.Before(start) && !f.CreatedAt.After(end) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeOrderHistoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = cutoff
	var n int64
	for shop, facts := range s.facts {
		kept := facts[:0]
		for _, f := range facts {
			if f.CreatedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, f)
		}
		s.facts[shop] = kept
	}
	return n, nil
}

type fakeCatalog struct {
	snapshot *models.CatalogSnapshot
	err      error
	opts     commerce.FetchOptions
	token    string
}

func (f *fakeCatalog) FetchAll(_ context.Context, _, accessToken, _ string, opts commerce.FetchOptions) (*models.CatalogSnapshot, error) {
	f.opts = opts
	f.token = accessToken
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeOrders struct {
	facts      []models.OrderLineFact
	err        error
	start, end time.Time
}

func (f *fakeOrders) FetchRange(_ context.Context, _, _ string, start, end time.Time) ([]models.OrderLineFact, error) {
	f.start, f.end = start, end
	if f.err != nil {
		return nil, f.err
	}
	return f.facts, nil
}
