package fetch

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestPool(limit int) *HostSemaphorePool {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHostSemaphorePool(limit, logrus.NewEntry(log))
}

func TestHostSemaphore_AcquireRelease_Basic(t *testing.T) {
	pool := newTestPool(2)

	// Two acquires should succeed
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// Third should time out (all 2 slots held)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Acquire(ctx, "host-a"); err == nil {
		t.Fatal("expected third acquire to fail, but it succeeded")
	}

	// Release one, then acquire should succeed again
	pool.Release("host-a")
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}

	pool.Release("host-a")
	pool.Release("host-a")
}

func TestHostSemaphore_MultipleHosts(t *testing.T) {
	pool := newTestPool(1)

	// Acquire on two different hosts should not interfere
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("host-a acquire failed: %v", err)
	}
	if err := pool.Acquire(context.Background(), "host-b"); err != nil {
		t.Fatalf("host-b acquire failed: %v", err)
	}

	if pool.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", pool.Len())
	}

	pool.Release("host-a")
	pool.Release("host-b")
}

func TestHostSemaphore_AcquireWithCancelledContext(t *testing.T) {
	pool := newTestPool(1)

	// Hold the only slot
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Acquire(ctx, "host-a"); err == nil {
		t.Fatal("expected acquire with cancelled context to fail")
	}

	// The held permit must still be releasable and reusable after the failure
	pool.Release("host-a")
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("acquire after failed attempt should succeed: %v", err)
	}
	pool.Release("host-a")
}
