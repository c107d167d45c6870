package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"connection exception class 08", &pgconn.PgError{Code: "08006"}, true},
		{"operator intervention class 57", &pgconn.PgError{Code: "57014"}, true},
		{"constraint violation is not transient", &pgconn.PgError{Code: "23505"}, false},
		{"deadline exceeded is transient", context.DeadlineExceeded, true},
		{"plain logical error is not transient", errors.New("not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetry_NonTransientReturnsImmediately(t *testing.T) {
	calls := 0
	wantErr := errors.New("logical failure")

	err := withRetry(context.Background(), func() error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("got error %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want exactly 1 for a non-transient error", calls)
	}
}

func TestWithRetry_SuccessReturnsImmediately(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want exactly 1 on success", calls)
	}
}

func TestWithRetry_CancelledContextDuringBackoffReturnsCtxErr(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	errCh := make(chan error, 1)
	go func() {
		errCh <- withRetry(ctx, func() error {
			calls++
			return context.DeadlineExceeded
		})
	}()

	// Let the first attempt happen, then cancel before the 2s backoff
	// sleep elapses.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got error %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("withRetry did not return promptly after context cancellation")
	}
	if calls != 1 {
		t.Errorf("op called %d times, want exactly 1 before cancellation", calls)
	}
}
