package supervisor

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNew_WarnsAboveSoftThreshold(t *testing.T) {
	// Does not assert on log output, only that construction with a high
	// worker count does not fail or panic.
	sup := New(softWarningThreshold+1, "/bin/true", nil, discardLogger())
	if sup.NumWorkers != softWarningThreshold+1 {
		t.Errorf("NumWorkers = %d, want %d", sup.NumWorkers, softWarningThreshold+1)
	}
}

func TestChildStatus_InitiallyNotExited(t *testing.T) {
	c := &child{id: 1}
	exited, code := c.status()
	if exited {
		t.Fatal("a fresh child should not report exited")
	}
	if code != 0 {
		t.Errorf("exitCode = %d, want 0", code)
	}
}

func TestChildMarkExited(t *testing.T) {
	c := &child{id: 1}
	c.markExited(7)
	exited, code := c.status()
	if !exited {
		t.Fatal("expected exited=true after markExited")
	}
	if code != 7 {
		t.Errorf("exitCode = %d, want 7", code)
	}
}

func TestSpawnAndPollReapsExitedChild(t *testing.T) {
	sup := New(1, "/bin/sh", []string{"-c", "exit 0"}, discardLogger())
	if err := sup.spawn(1); err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sup.mu.Lock()
		c := sup.children[1]
		sup.mu.Unlock()
		if exited, _ := c.status(); exited {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("spawned child was never reaped")
}

func TestPollUntilExited_TimesOut(t *testing.T) {
	sup := New(1, "/bin/true", nil, discardLogger())
	c := &child{id: 1}
	if sup.pollUntilExited(c, 50*time.Millisecond) {
		t.Fatal("expected pollUntilExited to time out for a child that never exits")
	}
}

func TestPollUntilExited_ReturnsOnExit(t *testing.T) {
	sup := New(1, "/bin/true", nil, discardLogger())
	c := &child{id: 1}
	c.markExited(0)
	if !sup.pollUntilExited(c, time.Second) {
		t.Fatal("expected pollUntilExited to return true immediately for an exited child")
	}
}

func TestRunRespawnsOnExit(t *testing.T) {
	// pollInterval is 1s and respawnDelay is 2s, so a window comfortably
	// past one poll+respawn cycle is needed to observe a restart.
	sup := New(1, "/bin/sh", []string{"-c", "exit 0"}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	sup.mu.Lock()
	c := sup.children[1]
	sup.mu.Unlock()
	if c.restartCount == 0 {
		t.Error("expected at least one respawn of a child that exits immediately")
	}
}
