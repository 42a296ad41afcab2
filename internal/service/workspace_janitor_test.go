package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeEvictor struct {
	evictFn func(now time.Time, idle time.Duration) int
	length  int
}

func (f *fakeEvictor) Evict(now time.Time, idle time.Duration) int {
	if f.evictFn != nil {
		return f.evictFn(now, idle)
	}
	return 0
}

func (f *fakeEvictor) Len() int { return f.length }

func TestNewWorkspaceJanitorAppliesDefaults(t *testing.T) {
	t.Parallel()

	janitor := NewWorkspaceJanitor(&fakeEvictor{}, 0, 0, nil)
	if janitor.interval != defaultJanitorInterval {
		t.Fatalf("interval = %s, want %s", janitor.interval, defaultJanitorInterval)
	}
	if janitor.idle != defaultWorkspaceIdle {
		t.Fatalf("idle = %s, want %s", janitor.idle, defaultWorkspaceIdle)
	}
}

func TestWorkspaceJanitorSweepPassesClockAndIdle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	var gotNow time.Time
	var gotIdle time.Duration
	evictor := &fakeEvictor{
		evictFn: func(n time.Time, idle time.Duration) int {
			gotNow, gotIdle = n, idle
			return 2
		},
		length: 3,
	}

	janitor := NewWorkspaceJanitor(evictor, time.Second, 10*time.Minute, zap.NewNop())
	janitor.now = func() time.Time { return now }

	if evicted := janitor.sweep(); evicted != 2 {
		t.Fatalf("sweep() = %d, want 2", evicted)
	}
	if !gotNow.Equal(now) || gotIdle != 10*time.Minute {
		t.Fatalf("Evict(%s, %s), want (%s, 10m)", gotNow, gotIdle, now)
	}
}

func TestWorkspaceJanitorStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	janitor := NewWorkspaceJanitor(&fakeEvictor{}, time.Second, time.Minute, zap.NewNop())
	if err := janitor.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}
