package workspace

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"go.uber.org/zap"
)

// Registry owns every open workspace. Deleting a workspace is the reset a
// screen performs when the operator navigates away.
type Registry struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace

	source   Source
	pageSize int
	logger   *zap.Logger
}

func NewRegistry(source Source, pageSize int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		workspaces: make(map[string]*Workspace),
		source:     source,
		pageSize:   pageSize,
		logger:     logger,
	}
}

func (r *Registry) Create() *Workspace {
	w := New(uuid.NewString(), r.source, r.pageSize, r.logger)

	r.mu.Lock()
	r.workspaces[w.ID()] = w
	r.mu.Unlock()

	return w
}

func (r *Registry) Get(id string) (*Workspace, error) {
	r.mu.RLock()
	w, ok := r.workspaces[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", domain.ErrNotFound, id)
	}
	return w, nil
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workspaces[id]; !ok {
		return fmt.Errorf("%w: workspace %s", domain.ErrNotFound, id)
	}
	delete(r.workspaces, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.workspaces)
}

// Evict drops workspaces untouched for longer than idle and returns how many
// were removed. It never waits on a workspace's own lock, so a long batch in
// one workspace does not stall the others.
func (r *Registry) Evict(now time.Time, idle time.Duration) int {
	r.mu.RLock()
	var expired []string
	for id, w := range r.workspaces {
		if w.idleFor(now) > idle {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()
	if len(expired) == 0 {
		return 0
	}

	r.mu.Lock()
	evicted := 0
	for _, id := range expired {
		if w, ok := r.workspaces[id]; ok && w.idleFor(now) > idle {
			delete(r.workspaces, id)
			evicted++
		}
	}
	r.mu.Unlock()

	if evicted > 0 {
		r.logger.Info("evicted idle workspaces", zap.Int("count", evicted))
	}
	return evicted
}
