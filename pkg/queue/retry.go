package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrPoolClosed is returned by heartbeat-adjacent calls made against a
// connection pool that has already been shut down. Heartbeat treats this
// as benign.
var ErrPoolClosed = errors.New("queue: connection pool closed")

// retrySchedule is the leasing layer's transient-error backoff: initial
// 2s, doubling, 3 attempts total. Grounded in
// Mindburn-Labs-helm/core/pkg/util/resiliency/client.go's exponential
// backoff, narrowed here to the leasing layer's specific transient-error
// classification instead of a full HTTP circuit breaker — a circuit
// breaker has no meaning for a single local connection pool that retries
// against the same database.
var retrySchedule = []time.Duration{2 * time.Second, 4 * time.Second}

// withRetry runs op, retrying on transient connection failures with
// exponential backoff, up to len(retrySchedule)+1 attempts. It never
// retries logical errors (e.g. pgx.ErrNoRows, constraint violations).
func withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op()
		if lastErr == nil || !isTransient(lastErr) {
			return lastErr
		}
		if attempt >= len(retrySchedule) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retrySchedule[attempt]):
		}
	}
}

// isTransient classifies an error as a retryable connection failure rather
// than a logical/application error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Connection-exception and operator-intervention classes.
		switch pgErr.Code[:2] {
		case "08", "57":
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
