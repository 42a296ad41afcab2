package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultJanitorInterval = time.Minute
	defaultWorkspaceIdle   = 30 * time.Minute
)

// WorkspaceEvictor is the part of the workspace registry the janitor drives.
type WorkspaceEvictor interface {
	Evict(now time.Time, idle time.Duration) int
	Len() int
}

// WorkspaceJanitor periodically drops workspaces whose screen went away
// without resetting them.
type WorkspaceJanitor struct {
	workspaces WorkspaceEvictor
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	idle       time.Duration
	now        func() time.Time
}

func NewWorkspaceJanitor(
	workspaces WorkspaceEvictor,
	interval time.Duration,
	idle time.Duration,
	logger *zap.Logger,
) *WorkspaceJanitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	if idle <= 0 {
		idle = defaultWorkspaceIdle
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkspaceJanitor{
		workspaces: workspaces,
		logger:     logger,
		interval:   interval,
		idle:       idle,
		now:        time.Now,
	}
}

func (j *WorkspaceJanitor) SetMetrics(metrics *observability.Metrics) {
	if j == nil {
		return
	}
	j.metrics = metrics
}

func (j *WorkspaceJanitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *WorkspaceJanitor) sweep() int {
	evicted := j.workspaces.Evict(j.now(), j.idle)
	if evicted > 0 {
		j.logger.Info("idle workspaces evicted",
			zap.Int("evicted", evicted),
			zap.Duration("idle", j.idle),
		)
	}
	j.metrics.SetWorkspacesActive(j.workspaces.Len())
	return evicted
}
