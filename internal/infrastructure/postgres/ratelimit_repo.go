package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/repository"
)

type RateLimitRepo struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepo(pool *pgxpool.Pool) *RateLimitRepo {
	return &RateLimitRepo{pool: pool}
}

var _ repository.RateLimitRepository = (*RateLimitRepo)(nil)

// Check performs the single-upsert token bucket formula: tokens are
// recomputed from elapsed time since last_refill, then one token is
// spent. allowed is false when the resulting balance went negative; the
// row still reflects the spend either way, since a denied request still
// consumes its share of the refill window per the bucket algorithm.
func (r *RateLimitRepo) Check(ctx context.Context, key string, maxTokens, refillRate float64) (float64, bool, error) {
	const q = `
		INSERT INTO forge_rate_limits (key, tokens, last_refill, max_tokens, refill_rate)
		VALUES ($1, $2 - 1, now(), $2, $3)
		ON CONFLICT (key) DO UPDATE
			SET tokens = LEAST($2, forge_rate_limits.tokens +
				EXTRACT(EPOCH FROM (now() - forge_rate_limits.last_refill)) * $3) - 1,
				last_refill = now(),
				max_tokens = $2,
				refill_rate = $3
		RETURNING tokens, (tokens >= 0) AS allowed
	`
	var tokens float64
	var allowed bool
	if err := r.pool.QueryRow(ctx, q, key, maxTokens, refillRate).Scan(&tokens, &allowed); err != nil {
		return 0, false, fmt.Errorf("check rate limit: %w", err)
	}
	return tokens, allowed, nil
}

func (r *RateLimitRepo) Reset(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM forge_rate_limits WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
