package worker

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

func TestCatalogURLForArticle(t *testing.T) {
	got := catalogURLForArticle("iphone 13 pro")
	want := "https://www.avito.ru/rossiya?q=iphone+13+pro&s=104"
	if got != want {
		t.Errorf("catalogURLForArticle() = %q, want %q", got, want)
	}
}

func TestSleep_ReturnsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	sleep(ctx, 10*time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("sleep did not return promptly on cancelled context, took %v", elapsed)
	}
}

func TestSleep_ReturnsAfterDuration(t *testing.T) {
	start := time.Now()
	sleep(context.Background(), 20*time.Millisecond)
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("sleep returned too early, took %v", elapsed)
	}
}

func TestWorker_CurrentSwapSetProxy(t *testing.T) {
	w := New(Config{}, Deps{Logger: discardLogger()})

	if id, session := w.Current(); id != 0 || session != nil {
		t.Fatalf("fresh Worker.Current() = (%d, %v), want (0, nil)", id, session)
	}

	w.setProxy(42, "host:1234:user:pass")
	id, session := w.Current()
	if id != 42 {
		t.Errorf("Current() proxyID = %d, want 42 after setProxy", id)
	}
	if session != nil {
		t.Errorf("Current() session = %v, want nil after setProxy (no browser session yet)", session)
	}
	if addr := w.proxyAddress(); addr != "host:1234:user:pass" {
		t.Errorf("proxyAddress() = %q, want %q", addr, "host:1234:user:pass")
	}

	oldID, oldSession := w.Swap(99, nil)
	if oldID != 42 {
		t.Errorf("Swap() returned oldID = %d, want 42", oldID)
	}
	if oldSession != nil {
		t.Errorf("Swap() returned oldSession = %v, want nil", oldSession)
	}

	id, _ = w.Current()
	if id != 99 {
		t.Errorf("Current() proxyID = %d, want 99 after Swap", id)
	}
	if addr := w.proxyAddress(); addr != "" {
		t.Errorf("proxyAddress() = %q, want empty after Swap(99, nil)", addr)
	}
}

func TestWorker_ClearHandles(t *testing.T) {
	w := New(Config{}, Deps{Logger: discardLogger()})
	w.setProxy(7, "addr")
	w.currentTaskID = 123

	w.clearHandles()

	id, session := w.Current()
	if id != 0 || session != nil {
		t.Errorf("Current() = (%d, %v) after clearHandles, want (0, nil)", id, session)
	}
	if w.currentTaskID != 0 {
		t.Errorf("currentTaskID = %d after clearHandles, want 0", w.currentTaskID)
	}
}
