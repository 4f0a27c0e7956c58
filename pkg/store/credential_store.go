package store

import (
	"context"
	"errors"
	"fmt"

	"restock-api/pkg/models"

	"github.com/jackc/pgx/v5"
)

// GetCredential はショップの認証情報を返します。未登録の場合は (nil, nil) です。
func (p *Postgres) GetCredential(ctx context.Context, shop string) (*models.Credential, error) {
	var cred models.Credential
	err := p.pool.QueryRow(ctx, `SELECT shop, access_token FROM shop_credentials WHERE shop = $1`, shop).
		Scan(&cred.Shop, &cred.AccessToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("認証情報の検索に失敗: %w", err)
	}
	return &cred, nil
}

// SaveCredential は認証情報を登録または更新します。
func (p *Postgres) SaveCredential(ctx context.Context, cred models.Credential) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO shop_credentials (shop, access_token, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (shop) DO UPDATE SET access_token = EXCLUDED.access_token, updated_at = NOW()`,
		cred.Shop, cred.AccessToken)
	if err != nil {
		return fmt.Errorf("認証情報の保存に失敗: %w", err)
	}
	return nil
}
