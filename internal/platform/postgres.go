package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// backoffSchedule is the pool-creation retry schedule: initial 2s, doubling,
// 3 attempts total, matching the leasing layer's retry decorator (see
// pkg/queue/retry.go) so pool creation follows the same backoff policy on
// network errors.
var backoffSchedule = []time.Duration{2 * time.Second, 4 * time.Second}

// NewPostgresPool creates a pgx connection pool sized from minSize/maxSize,
// retrying transient connection failures with exponential backoff.
func NewPostgresPool(ctx context.Context, dsn string, minSize, maxSize int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}
	poolCfg.MinConns = minSize
	poolCfg.MaxConns = maxSize

	var pool *pgxpool.Pool
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		pool, lastErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if lastErr == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				return pool, nil
			} else {
				lastErr = pingErr
				pool.Close()
			}
		}

		if attempt == len(backoffSchedule) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffSchedule[attempt]):
		}
	}

	return nil, fmt.Errorf("connecting to database after %d attempts: %w", len(backoffSchedule)+1, lastErr)
}
