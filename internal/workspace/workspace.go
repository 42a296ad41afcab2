// Package workspace holds the screen-scoped state of one operator view: its
// search criteria, the dataset fetched for them and the selection over it.
//
// A workspace never mutates rows optimistically. After a batch commits, it
// adjusts the selection and reloads the dataset from the backend once.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/search"
	"github.com/kursadbilgin/delivery-tracker/internal/selection"
	"go.uber.org/zap"
)

const DefaultPageSize = 20

// Source fetches deliveries for a server-side query.
type Source interface {
	GetTracking(ctx context.Context, q domain.TrackingQuery) ([]domain.DeliveryRecord, error)
}

// BatchFunc runs a lifecycle action over the resolved selection.
type BatchFunc func(ctx context.Context, selected []domain.DeliveryRecord) (domain.BatchOutcome, error)

type Row struct {
	domain.DeliveryRecord
	Selected bool
}

// View is a read-only snapshot of a workspace.
type View struct {
	ID            string
	Criteria      search.Criteria
	Page          int
	PageSize      int
	TotalRows     int
	TotalPages    int
	Rows          []Row
	SelectionMode selection.Mode
	SelectedCount int
	Stale         bool
	LoadedAt      time.Time
}

type Workspace struct {
	mu sync.Mutex

	id        string
	source    Source
	engine    *search.Engine
	selection *selection.Manager
	pageSize  int
	logger    *zap.Logger
	now       func() time.Time

	dataset  []domain.DeliveryRecord
	query    domain.TrackingQuery
	loaded   bool
	stale    bool
	loadedAt time.Time

	// Read by the registry without taking mu.
	touched  atomic.Int64
	inFlight atomic.Int32
}

func New(id string, source Source, pageSize int, logger *zap.Logger) *Workspace {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workspace{
		id:        id,
		source:    source,
		engine:    search.NewEngine(),
		selection: selection.NewManager(),
		pageSize:  pageSize,
		logger:    logger.With(zap.String("workspaceId", id)),
		now:       time.Now,
	}
	w.touch()
	return w
}

func (w *Workspace) ID() string { return w.id }

// Load fetches the dataset for the current criteria. The selection is kept;
// callers that change the filter context reset it first.
func (w *Workspace) Load(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.busy()()

	return w.loadLocked(ctx)
}

func (w *Workspace) loadLocked(ctx context.Context) error {
	query := w.engine.Criteria().ServerQuery()
	rows, err := w.source.GetTracking(ctx, query)
	if err != nil {
		w.stale = w.loaded
		return fmt.Errorf("load deliveries: %w", err)
	}

	w.dataset = rows
	w.query = query
	w.loaded = true
	w.stale = false
	w.loadedAt = w.now()
	return nil
}

// ensureLoadedLocked reloads only when the server-side part of the criteria
// changed since the last fetch.
func (w *Workspace) ensureLoadedLocked(ctx context.Context) error {
	if w.loaded && w.query == w.engine.Criteria().ServerQuery() {
		return nil
	}
	return w.loadLocked(ctx)
}

func (w *Workspace) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	filtered := w.filteredLocked()
	page := search.Paginate(filtered, w.engine.Page(), w.pageSize)

	rows := make([]Row, 0, len(page.Rows))
	for _, d := range page.Rows {
		rows = append(rows, Row{DeliveryRecord: d, Selected: w.selection.IsSelected(d)})
	}

	return View{
		ID:            w.id,
		Criteria:      w.engine.Criteria(),
		Page:          page.Number,
		PageSize:      page.Size,
		TotalRows:     page.TotalRows,
		TotalPages:    page.TotalPages,
		Rows:          rows,
		SelectionMode: w.selection.Mode(),
		SelectedCount: len(w.resolveLocked(filtered)),
		Stale:         w.stale,
		LoadedAt:      w.loadedAt,
	}
}

// UpdateCriteria applies a partial criteria change as one step: it is
// validated in full, the selection is cleared and the dataset is fetched at
// most once. If the fetch fails the previous criteria and selection are
// restored.
func (w *Workspace) UpdateCriteria(ctx context.Context, u search.Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.busy()()

	prevEngine, prevSelection, prevStale := *w.engine, w.selection.Clone(), w.stale
	if err := w.engine.Apply(u); err != nil {
		return err
	}
	w.selection.Clear()

	if err := w.ensureLoadedLocked(ctx); err != nil {
		*w.engine = prevEngine
		w.selection = prevSelection
		w.stale = prevStale
		return err
	}
	return nil
}

// SetMode switches the search mode. The term, page and selection are reset.
func (w *Workspace) SetMode(ctx context.Context, mode search.Mode) error {
	return w.UpdateCriteria(ctx, search.Update{Mode: &mode})
}

func (w *Workspace) SetTerm(ctx context.Context, term string) error {
	return w.UpdateCriteria(ctx, search.Update{Term: &term})
}

// SetPage moves to another page without touching the selection.
func (w *Workspace) SetPage(page int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.engine.SetPage(page)
	w.touch()
}

// Toggle flips one row. The key must belong to the current filtered result
// unless it was picked earlier and is being dropped.
func (w *Workspace) Toggle(key int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	row, ok := w.rowLocked(key)
	switch {
	case ok:
		w.selection.Toggle(row)
	case w.selection.Picked(key):
		w.selection.Remove(key)
	default:
		return fmt.Errorf("%w: delivery %d is not in the current results", domain.ErrNotFound, key)
	}
	w.touch()
	return nil
}

func (w *Workspace) TogglePage() {
	w.mu.Lock()
	defer w.mu.Unlock()

	filtered := w.filteredLocked()
	page := search.Paginate(filtered, w.engine.Page(), w.pageSize)
	w.selection.ToggleAllOnPage(page.Rows)
	w.touch()
}

func (w *Workspace) SelectAllMatching() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.selection.SelectAllMatchingFilter()
	w.touch()
}

func (w *Workspace) ClearSelection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.selection.Clear()
	w.touch()
}

// Selected resolves the selection against the current filtered dataset.
func (w *Workspace) Selected() []domain.DeliveryRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.resolveLocked(w.filteredLocked())
}

// Submit runs a lifecycle action over the current selection and reconciles
// the workspace with its outcome. The workspace stays locked for the whole
// call, so concurrent requests against the same screen are serialized.
func (w *Workspace) Submit(ctx context.Context, action domain.Action, run BatchFunc) (domain.BatchOutcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.busy()()

	selected := w.resolveLocked(w.filteredLocked())
	if len(selected) == 0 {
		return domain.BatchOutcome{}, fmt.Errorf("%w: no deliveries selected", domain.ErrValidation)
	}

	outcome, err := run(ctx, selected)
	if err != nil && !errors.Is(err, domain.ErrPartialBatch) {
		return outcome, err
	}

	w.applyOutcomeLocked(action, outcome)
	if len(outcome.Succeeded) > 0 {
		if refreshErr := w.loadLocked(ctx); refreshErr != nil {
			w.logger.Warn("refresh after batch failed, results may be stale",
				zap.String("action", action.String()),
				zap.Error(refreshErr),
			)
		}
	}
	return outcome, err
}

// applyOutcomeLocked clears the selection on full success. On partial
// success only succeeded items are dropped, and only for actions that
// support it; otherwise the whole selection is kept for a retry.
func (w *Workspace) applyOutcomeLocked(action domain.Action, outcome domain.BatchOutcome) {
	switch {
	case outcome.FullySucceeded():
		w.selection.Clear()
	case action.SupportsPartialClear():
		w.selection.Remove(outcome.SucceededKeys()...)
	}
	w.touch()
}

func (w *Workspace) filteredLocked() []domain.DeliveryRecord {
	return w.engine.Criteria().Filter(w.dataset)
}

func (w *Workspace) resolveLocked(filtered []domain.DeliveryRecord) []domain.DeliveryRecord {
	keys := w.selection.Resolve(filtered)
	if len(keys) == 0 {
		return nil
	}

	byKey := make(map[int]domain.DeliveryRecord, len(filtered))
	for _, d := range filtered {
		byKey[d.Key()] = d
	}

	out := make([]domain.DeliveryRecord, 0, len(keys))
	for _, key := range keys {
		if d, ok := byKey[key]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (w *Workspace) rowLocked(key int) (domain.DeliveryRecord, bool) {
	for _, d := range w.filteredLocked() {
		if d.Key() == key {
			return d, true
		}
	}
	return domain.DeliveryRecord{}, false
}

func (w *Workspace) touch() {
	w.touched.Store(w.now().UnixNano())
}

// busy marks a backend call in progress until the returned func runs.
func (w *Workspace) busy() func() {
	w.inFlight.Add(1)
	w.touch()
	return func() {
		w.touch()
		w.inFlight.Add(-1)
	}
}

// idleFor reports how long the workspace has been untouched at now. A
// workspace with a backend call in flight is never idle. Safe to call
// without holding mu.
func (w *Workspace) idleFor(now time.Time) time.Duration {
	if w.inFlight.Load() > 0 {
		return 0
	}
	return now.Sub(time.Unix(0, w.touched.Load()))
}
