package scheduler

import (
	"context"
	"testing"
	"time"

	"postgres-job-agent/internal/config"
	"postgres-job-agent/internal/connection"
)

func TestWaitAWhileReturnsAfterInterval(t *testing.T) {
	start := time.Now()
	if err := waitAWhile(context.Background(), 1); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("returned too early: %s", elapsed)
	}
}

func TestWaitAWhileCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := waitAWhile(ctx, 30)
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation ignored for %s", elapsed)
	}
}

func TestWorkerSemaphoreSizing(t *testing.T) {
	s := New(config.Config{MaxWorkers: 3}, connection.NewPool(), "station1")
	if cap(s.sem) != 3 {
		t.Fatalf("semaphore capacity: got %d", cap(s.sem))
	}

	unbounded := New(config.Config{}, connection.NewPool(), "station1")
	if unbounded.sem != nil {
		t.Fatal("unbounded scheduler should have no semaphore")
	}
}

func TestBackendPIDBeforeStartup(t *testing.T) {
	s := New(config.Config{}, connection.NewPool(), "station1")
	if got := s.BackendPID(); got != 0 {
		t.Fatalf("pid before startup: got %d", got)
	}
}
