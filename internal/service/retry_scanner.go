package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"github.com/kursadbilgin/delivery-tracker/internal/queue"
	"github.com/kursadbilgin/delivery-tracker/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100

	reasonRetryExpired = "retry_expired"
	reasonUnknownKind  = "unknown_kind"
)

// retryOrder is the order kinds take turns in when a scan requeues. A
// pharmacy cannot pack without its note, so notes lead each round.
var retryOrder = []domain.SideEffectKind{
	domain.KindDeliveryNote,
	domain.KindEmail,
	domain.KindSMS,
}

// retryWindow is how long after creation a side effect is still worth
// retrying. A dispatch SMS that arrives a day late misleads the enrollee.
// Kinds without an entry never expire.
var retryWindow = map[domain.SideEffectKind]time.Duration{
	domain.KindSMS:   6 * time.Hour,
	domain.KindEmail: 72 * time.Hour,
}

// RetryScanner moves side effects whose retry time has come back onto their
// kind's work queue, or fails them once their notice has gone stale.
type RetryScanner struct {
	sideEffects repository.SideEffectRepository
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	limit       int
	now         func() time.Time
}

func NewRetryScanner(
	sideEffects repository.SideEffectRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	switch {
	case sideEffects == nil:
		return nil, fmt.Errorf("side effect repository is required")
	case publisher == nil:
		return nil, fmt.Errorf("publisher is required")
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		sideEffects: sideEffects,
		publisher:   publisher,
		logger:      logger,
		interval:    positiveOr(interval, defaultRetryScanInterval),
		limit:       limit,
		now:         time.Now,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start scans immediately and then on every interval until ctx is done.
func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		report, err := s.scan(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			s.logger.Error("retry scan failed", zap.Error(err))
		case !report.empty():
			s.logger.Info("retry scan finished", report.fields()...)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// retryReport counts what one scan did with each kind.
type retryReport struct {
	requeued map[domain.SideEffectKind]int
	expired  map[domain.SideEffectKind]int
	errors   int
}

func newRetryReport() retryReport {
	return retryReport{
		requeued: make(map[domain.SideEffectKind]int),
		expired:  make(map[domain.SideEffectKind]int),
	}
}

func (r retryReport) empty() bool {
	return len(r.requeued) == 0 && len(r.expired) == 0 && r.errors == 0
}

func (r retryReport) fields() []zap.Field {
	fields := make([]zap.Field, 0, 2*len(retryOrder)+1)
	for _, kind := range retryOrder {
		name := strings.ToLower(kind.String())
		if n := r.requeued[kind]; n > 0 {
			fields = append(fields, zap.Int(name+"Requeued", n))
		}
		if n := r.expired[kind]; n > 0 {
			fields = append(fields, zap.Int(name+"Expired", n))
		}
	}
	if r.errors > 0 {
		fields = append(fields, zap.Int("errors", r.errors))
	}
	return fields
}

func (s *RetryScanner) scan(ctx context.Context) (retryReport, error) {
	due, err := s.sideEffects.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return retryReport{}, fmt.Errorf("load side effects due for retry: %w", err)
	}

	report := newRetryReport()
	now := s.now()
	for _, sideEffect := range interleaveByKind(due) {
		if ctx.Err() != nil {
			break
		}

		reason := ""
		switch {
		case !sideEffect.Kind.IsValid():
			reason = reasonUnknownKind
		case retryExpired(sideEffect, now):
			reason = reasonRetryExpired
		}

		if reason != "" {
			if err := s.abandon(ctx, sideEffect, reason); err != nil {
				report.errors++
				continue
			}
			report.expired[sideEffect.Kind]++
			continue
		}

		if err := s.requeue(ctx, sideEffect); err != nil {
			report.errors++
			continue
		}
		report.requeued[sideEffect.Kind]++
	}
	return report, nil
}

func (s *RetryScanner) requeue(ctx context.Context, sideEffect domain.SideEffect) error {
	queueName := queue.QueueName(sideEffect.Kind)
	logger := s.logger.With(
		zap.String("sideEffectId", sideEffect.ID),
		zap.String("queue", queueName),
	)

	msg := queue.SideEffectMessage{
		SideEffectID:  sideEffect.ID,
		CorrelationID: sideEffect.CorrelationID,
		Kind:          sideEffect.Kind,
		Retry:         true,
		Attempt:       sideEffect.AttemptCount + 1,
	}
	if err := s.publisher.Publish(ctx, queueName, msg); err != nil {
		logger.Error("retry not enqueued", zap.Error(err))
		return err
	}

	// Left set, the next scan would publish the same retry again.
	if err := s.sideEffects.ClearNextRetryAt(ctx, sideEffect.ID); err != nil {
		logger.Error("retry enqueued but next retry time not cleared", zap.Error(err))
		return err
	}
	return nil
}

func (s *RetryScanner) abandon(ctx context.Context, sideEffect domain.SideEffect, reason string) error {
	kind := strings.ToLower(sideEffect.Kind.String())
	if err := s.sideEffects.UpdateStatus(ctx, sideEffect.ID, domain.SideEffectFailed); err != nil {
		s.logger.Error("failed to abandon side effect retry",
			zap.String("sideEffectId", sideEffect.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return err
	}
	s.metrics.IncSideEffectFailed(kind, reason)
	s.logger.Warn("side effect retry abandoned",
		zap.String("sideEffectId", sideEffect.ID),
		zap.String("kind", kind),
		zap.String("reason", reason),
		zap.Int("attempts", sideEffect.AttemptCount),
	)
	return nil
}

func retryExpired(sideEffect domain.SideEffect, now time.Time) bool {
	window, ok := retryWindow[sideEffect.Kind]
	if !ok || sideEffect.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(sideEffect.CreatedAt) > window
}

// interleaveByKind takes one side effect of each kind per round in
// retryOrder, so a backlog of one kind cannot hold the others back. Within a
// kind the input order is kept; unknown kinds come last.
func interleaveByKind(due []domain.SideEffect) []domain.SideEffect {
	buckets := make(map[domain.SideEffectKind][]domain.SideEffect, len(retryOrder))
	var unknown []domain.SideEffect
	for _, sideEffect := range due {
		if !sideEffect.Kind.IsValid() {
			unknown = append(unknown, sideEffect)
			continue
		}
		buckets[sideEffect.Kind] = append(buckets[sideEffect.Kind], sideEffect)
	}

	out := make([]domain.SideEffect, 0, len(due))
	for round := 0; len(out) < len(due)-len(unknown); round++ {
		for _, kind := range retryOrder {
			if round < len(buckets[kind]) {
				out = append(out, buckets[kind][round])
			}
		}
	}
	return append(out, unknown...)
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
