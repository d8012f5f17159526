package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

type MagicTokenRepo struct {
	pool *pgxpool.Pool
}

func NewMagicTokenRepo(pool *pgxpool.Pool) *MagicTokenRepo {
	return &MagicTokenRepo{pool: pool}
}

var _ repository.MagicTokenRepository = (*MagicTokenRepo)(nil)

func (r *MagicTokenRepo) Create(ctx context.Context, t *domain.MagicToken) error {
	const q = `
		INSERT INTO forge_magic_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, now())
	`
	_, err := r.pool.Exec(ctx, q, t.UserID, t.TokenHash, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create magic token: %w", err)
	}
	return nil
}

func (r *MagicTokenRepo) GetByHash(ctx context.Context, tokenHash string) (*domain.MagicToken, error) {
	const q = `SELECT id, user_id, token_hash, expires_at, used_at, created_at FROM forge_magic_tokens WHERE token_hash = $1`
	var t domain.MagicToken
	err := r.pool.QueryRow(ctx, q, tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("get magic token: %w", err)
	}
	return &t, nil
}

func (r *MagicTokenRepo) MarkUsed(ctx context.Context, id string) error {
	const q = `UPDATE forge_magic_tokens SET used_at = now() WHERE id = $1 AND used_at IS NULL`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark magic token used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenInvalid
	}
	return nil
}
