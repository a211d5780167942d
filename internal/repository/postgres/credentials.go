package postgres

import (
	"context"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
)

// GetSourceCredential returns the stored source-control token for an owner.
func (r *Repository) GetSourceCredential(ctx context.Context, ownerID string) (*domain.SourceCredential, error) {
	const query = `SELECT owner_id, provider, encrypted_token, updated_at FROM source_credentials WHERE owner_id = $1`
	var c domain.SourceCredential
	if err := r.pool.QueryRow(ctx, query, ownerID).Scan(&c.OwnerID, &c.Provider, &c.EncryptedToken, &c.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

// UpsertSourceCredential stores or replaces an owner's token.
func (r *Repository) UpsertSourceCredential(ctx context.Context, c *domain.SourceCredential) error {
	const query = `INSERT INTO source_credentials (owner_id, provider, encrypted_token, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE SET provider = EXCLUDED.provider,
			encrypted_token = EXCLUDED.encrypted_token, updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, c.OwnerID, c.Provider, c.EncryptedToken, c.UpdatedAt)
	return mapError(err)
}
