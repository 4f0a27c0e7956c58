package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"restock-api/pkg/models"

	"github.com/rs/zerolog/log"
)

// ErrCredentialMissing はショップのアクセス情報が登録されていない場合のエラーです。
var ErrCredentialMissing = errors.New("ショップの認証情報が見つかりません")

// ErrInvalidCredential は登録しようとした認証情報が不完全な場合のエラーです。
var ErrInvalidCredential = errors.New("shopとaccess_tokenは必須です")

// CredentialStore ショップ認証情報の永続化。未登録の場合は (nil, nil) を返します。
type CredentialStore interface {
	GetCredential(ctx context.Context, shop string) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred models.Credential) error
}

type credentialEntry struct {
	cred      models.Credential
	expiresAt time.Time
}

// CredentialCache はTTLと上限件数を持つ認証情報キャッシュです。
// 1プロセスで1つ作成し、参照を渡して共有します。
type CredentialCache struct {
	store      CredentialStore
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]credentialEntry
	// generations はInvalidateのたびに増加し、読み込み中に無効化された結果を保存しないために使う
	generations map[string]uint64
}

// NewCredentialCache 新しい認証情報キャッシュを作成
func NewCredentialCache(store CredentialStore, ttl time.Duration, maxEntries int) *CredentialCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &CredentialCache{
		store:       store,
		ttl:         ttl,
		maxEntries:  maxEntries,
		now:         time.Now,
		entries:     make(map[string]credentialEntry),
		generations: make(map[string]uint64),
	}
}

// Get はキャッシュから認証情報を返し、期限切れまたは未取得の場合はストアから読み込みます。
func (c *CredentialCache) Get(ctx context.Context, shop string) (models.Credential, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[shop]
	gen := c.generations[shop]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.cred, nil
	}

	cred, err := c.store.GetCredential(ctx, shop)
	if err != nil {
		return models.Credential{}, fmt.Errorf("認証情報の取得に失敗: %w", err)
	}
	if cred == nil || strings.TrimSpace(cred.AccessToken) == "" {
		return models.Credential{}, fmt.Errorf("%w: %s", ErrCredentialMissing, shop)
	}

	found := *cred
	found.Shop = shop

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[shop] != gen {
		return found, nil
	}
	if _, exists := c.entries[shop]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[shop] = credentialEntry{cred: found, expiresAt: now.Add(c.ttl)}
	return found, nil
}

// Invalidate は指定ショップのキャッシュを破棄します。認証情報を変更した後に必ず呼び出します。
func (c *CredentialCache) Invalidate(shop string) {
	c.mu.Lock()
	delete(c.entries, shop)
	c.generations[shop]++
	c.mu.Unlock()
}

// Len returns the number of cached entries
func (c *CredentialCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLocked drops expired entries, then the entry closest to expiry if still full.
func (c *CredentialCache) evictLocked(now time.Time) {
	for shop, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, shop)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var (
		oldest    string
		oldestExp time.Time
	)
	for shop, e := range c.entries {
		if oldest == "" || e.expiresAt.Before(oldestExp) {
			oldest, oldestExp = shop, e.expiresAt
		}
	}
	delete(c.entries, oldest)
}

// CredentialService 認証情報の登録
type CredentialService struct {
	store CredentialStore
	cache *CredentialCache
}

// NewCredentialService 新しい認証情報サービスを作成
func NewCredentialService(store CredentialStore, cache *CredentialCache) *CredentialService {
	return &CredentialService{store: store, cache: cache}
}

// Save は認証情報を保存し、キャッシュを破棄します。
func (s *CredentialService) Save(ctx context.Context, cred models.Credential) error {
	cred.Shop = strings.TrimSpace(cred.Shop)
	cred.AccessToken = strings.TrimSpace(cred.AccessToken)
	if cred.Shop == "" || cred.AccessToken == "" {
		return ErrInvalidCredential
	}
	if err := s.store.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("認証情報の保存に失敗: %w", err)
	}
	s.cache.Invalidate(cred.Shop)
	log.Info().Str("shop", cred.Shop).Msg("認証情報を更新しました")
	return nil
}
