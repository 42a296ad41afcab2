package schedule

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultLookupConcurrency = 8

// PlanExpiryLookup resolves the date through which an enrollee's plan
// authorizes deliveries.
type PlanExpiryLookup interface {
	PlanExpiry(ctx context.Context, enrolleeID string) (time.Time, error)
}

// LookupFailure describes an enrollee whose boundary could not be resolved.
type LookupFailure struct {
	EnrolleeID string
	Err        error
}

// Unresolved returns the enrollee IDs of failures as a set.
func Unresolved(failures []LookupFailure) map[string]struct{} {
	out := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		out[f.EnrolleeID] = struct{}{}
	}
	return out
}

// BoundaryResolver fans out plan-expiry lookups, one per distinct enrollee.
type BoundaryResolver struct {
	lookup      PlanExpiryLookup
	concurrency int
	logger      *zap.Logger
}

func NewBoundaryResolver(lookup PlanExpiryLookup, concurrency int, logger *zap.Logger) *BoundaryResolver {
	if concurrency < 1 {
		concurrency = defaultLookupConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoundaryResolver{
		lookup:      lookup,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Resolve looks up enrollees that have at least one routine delivery in
// selections. A failed lookup never cancels the others; the enrollee is left
// out of the result (no adjustment possible) and reported in failures.
func (r *BoundaryResolver) Resolve(
	ctx context.Context,
	selections []domain.DeliveryRecord,
) (map[string]time.Time, []LookupFailure) {
	enrollees := routineEnrollees(selections)
	resolved := make(map[string]time.Time, len(enrollees))
	if len(enrollees) == 0 || r.lookup == nil {
		return resolved, nil
	}

	var (
		mu       sync.Mutex
		failures []LookupFailure
	)

	// Plain group, not WithContext: one failure must not cancel siblings.
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, enrolleeID := range enrollees {
		enrolleeID := enrolleeID
		g.Go(func() error {
			expiry, err := r.lookup.PlanExpiry(ctx, enrolleeID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("plan expiry lookup failed, enrollee will not be adjusted",
					zap.String("enrolleeId", enrolleeID),
					zap.Error(err),
				)
				failures = append(failures, LookupFailure{EnrolleeID: enrolleeID, Err: err})
				return nil
			}
			if !expiry.IsZero() {
				resolved[enrolleeID] = expiry
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].EnrolleeID < failures[j].EnrolleeID })
	return resolved, failures
}

func routineEnrollees(selections []domain.DeliveryRecord) []string {
	seen := make(map[string]struct{}, len(selections))
	out := make([]string, 0, len(selections))
	for _, d := range selections {
		enrolleeID := strings.TrimSpace(d.EnrolleeID)
		if enrolleeID == "" || d.Frequency != domain.FrequencyRoutine {
			continue
		}
		if _, ok := seen[enrolleeID]; ok {
			continue
		}
		seen[enrolleeID] = struct{}{}
		out = append(out, enrolleeID)
	}
	return out
}
