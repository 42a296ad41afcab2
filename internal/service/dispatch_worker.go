package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"github.com/kursadbilgin/delivery-tracker/internal/provider"
	"github.com/kursadbilgin/delivery-tracker/internal/queue"
	"github.com/kursadbilgin/delivery-tracker/internal/ratelimit"
	"github.com/kursadbilgin/delivery-tracker/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxRetryJitterMillis  = 250
	maxAttemptBodyLength  = 2048
	reasonPermanentError  = "permanent_error"
	reasonRetryExhausted  = "retry_exhausted"
	reasonInvalidContents = "invalid_side_effect"
)

// backoff is the retry schedule for one kind: base doubles per attempt up
// to ceiling.
type backoff struct {
	base    time.Duration
	ceiling time.Duration
}

// kindBackoff is the retry schedule per kind. The note printer is slow to
// come back, the SMS gateway quick.
var kindBackoff = map[domain.SideEffectKind]backoff{
	domain.KindEmail:        {base: time.Second, ceiling: time.Minute},
	domain.KindSMS:          {base: 2 * time.Second, ceiling: 30 * time.Second},
	domain.KindDeliveryNote: {base: 5 * time.Second, ceiling: 5 * time.Minute},
}

var defaultBackoff = backoff{base: time.Second, ceiling: time.Minute}

// workerWeight is the order extra workers are handed out in once every
// queue has one consumer.
var workerWeight = []domain.SideEffectKind{
	domain.KindDeliveryNote,
	domain.KindEmail,
	domain.KindDeliveryNote,
	domain.KindSMS,
	domain.KindEmail,
}

// DispatchWorker consumes the side-effect queues and hands each message to
// the provider, recording every attempt.
type DispatchWorker struct {
	sideEffects repository.SideEffectRepository
	attempts    repository.AttemptRepository
	consumer    queue.Consumer
	provider    provider.Provider
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
	randIntn    func(n int) int
}

func NewDispatchWorker(
	sideEffects repository.SideEffectRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	provider provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*DispatchWorker, error) {
	if sideEffects == nil || attempts == nil {
		return nil, fmt.Errorf("side effect and attempt repositories are required")
	}
	if consumer == nil || provider == nil || rateLimiter == nil {
		return nil, fmt.Errorf("consumer, provider and rate limiter are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		sideEffects: sideEffects,
		attempts:    attempts,
		consumer:    consumer,
		provider:    provider,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

func (s *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// assignQueues returns the queue each worker consumes. Every kind queue gets
// a consumer even when concurrency is lower than the number of kinds.
func assignQueues(concurrency int) []string {
	queues := make([]string, 0, max(concurrency, len(retryOrder)))
	for _, kind := range retryOrder {
		queues = append(queues, queue.QueueName(kind))
	}
	for i := 0; len(queues) < concurrency; i++ {
		queues = append(queues, queue.QueueName(workerWeight[i%len(workerWeight)]))
	}
	return queues
}

// Start consumes until ctx is cancelled or a consumer fails.
func (s *DispatchWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i, queueName := range assignQueues(s.concurrency) {
		queueName := queueName
		logger := s.logger.With(zap.Int("workerId", i+1), zap.String("queue", queueName))
		g.Go(func() error {
			logger.Info("worker started")
			if err := s.consumer.Consume(groupCtx, queueName, s.processMessage); err != nil {
				logger.Error("worker stopped with error", zap.Error(err))
				return err
			}
			logger.Info("worker stopped")
			return nil
		})
	}
	return g.Wait()
}

func (s *DispatchWorker) processMessage(ctx context.Context, msg queue.SideEffectMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("sideEffectId", msg.SideEffectID))

	sideEffect, err := s.sideEffects.LockForSending(ctx, msg.SideEffectID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("side effect not found, dropping message")
		return nil
	case err != nil:
		return fmt.Errorf("failed to lock side effect for sending: %w", err)
	case sideEffect == nil:
		// Already sending elsewhere or finished.
		return nil
	}

	kind := strings.ToLower(sideEffect.Kind.String())
	logger = logger.With(zap.String("kind", kind))
	s.metrics.IncWorkerInFlight(kind)
	defer s.metrics.DecWorkerInFlight(kind)

	if err := s.rateLimiter.Wait(ctx, kind); err != nil {
		// Back to QUEUED so the redelivered message can lock it again.
		if resetErr := s.sideEffects.UpdateStatus(context.WithoutCancel(ctx), sideEffect.ID, domain.SideEffectQueued); resetErr != nil {
			logger.Error("failed to requeue side effect after rate limiter error", zap.Error(resetErr))
		}
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	attempt := sideEffect.AttemptCount + 1
	started := s.now()
	receipt, sendErr := s.provider.Send(ctx, *sideEffect)
	s.metrics.ObserveSideEffectSendDuration(kind, s.now().Sub(started))

	if err := s.recordAttempt(ctx, sideEffect.ID, attempt, receipt, sendErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	logger = logger.With(zap.Int("attempt", attempt))
	if sendErr == nil {
		return s.markSent(ctx, logger, sideEffect, receipt)
	}
	return s.handleSendFailure(ctx, logger, sideEffect, attempt, sendErr)
}

func (s *DispatchWorker) markSent(ctx context.Context, logger *zap.Logger, sideEffect *domain.SideEffect, receipt *provider.Receipt) error {
	if receipt != nil && strings.TrimSpace(receipt.MessageID) != "" {
		if err := s.sideEffects.SetProviderMessageID(ctx, sideEffect.ID, receipt.MessageID); err != nil {
			return fmt.Errorf("failed to set provider message id: %w", err)
		}
	}
	if err := s.sideEffects.UpdateStatus(ctx, sideEffect.ID, domain.SideEffectSent); err != nil {
		return fmt.Errorf("failed to mark side effect sent: %w", err)
	}

	s.metrics.IncSideEffectSent(strings.ToLower(sideEffect.Kind.String()))
	logger.Info("side effect sent", zap.Ints("entryNos", sideEffect.EntryNos))
	return nil
}

func (s *DispatchWorker) handleSendFailure(
	ctx context.Context,
	logger *zap.Logger,
	sideEffect *domain.SideEffect,
	attempt int,
	sendErr error,
) error {
	kind := strings.ToLower(sideEffect.Kind.String())
	maxRetries := sideEffect.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	transient := provider.IsTransient(sendErr)
	if transient && attempt < maxRetries {
		nextRetryAt := s.now().Add(s.computeRetryDelay(sideEffect.Kind, attempt))
		if err := s.sideEffects.UpdateStatusWithRetry(ctx, sideEffect.ID, domain.SideEffectQueued, nextRetryAt); err != nil {
			return fmt.Errorf("failed to schedule side effect retry: %w", err)
		}
		s.metrics.IncRetryScheduled(kind)
		logger.Warn("side effect send failed, retry scheduled", zap.Time("nextRetryAt", nextRetryAt), zap.Error(sendErr))
		return nil
	}

	if err := s.sideEffects.UpdateStatus(ctx, sideEffect.ID, domain.SideEffectFailed); err != nil {
		return fmt.Errorf("failed to mark side effect failed: %w", err)
	}

	reason := failureReason(sendErr, transient)
	s.metrics.IncSideEffectFailed(kind, reason)
	fields := []zap.Field{zap.String("reason", reason), zap.Ints("entryNos", sideEffect.EntryNos), zap.Error(sendErr)}
	if sideEffect.Kind == domain.KindDeliveryNote {
		logger.Error("delivery note failed", append(fields, zap.String("pharmacyId", sideEffect.Recipient))...)
		return nil
	}
	logger.Warn("side effect failed", fields...)
	return nil
}

func failureReason(sendErr error, transient bool) string {
	switch {
	case transient:
		return reasonRetryExhausted
	case errors.Is(sendErr, domain.ErrValidation):
		return reasonInvalidContents
	default:
		return reasonPermanentError
	}
}

// computeRetryDelay doubles the kind's base delay per attempt, caps it at
// the kind's ceiling and adds up to maxRetryJitterMillis of jitter.
func (s *DispatchWorker) computeRetryDelay(kind domain.SideEffectKind, attempt int) time.Duration {
	policy, ok := kindBackoff[kind]
	if !ok {
		policy = defaultBackoff
	}

	delay := policy.base
	for i := 1; i < attempt && delay < policy.ceiling; i++ {
		delay *= 2
	}
	delay = min(delay, policy.ceiling)

	if s.randIntn != nil {
		delay += time.Duration(s.randIntn(maxRetryJitterMillis+1)) * time.Millisecond
	}
	return delay
}

func (s *DispatchWorker) recordAttempt(
	ctx context.Context,
	sideEffectID string,
	attemptNumber int,
	receipt *provider.Receipt,
	sendErr error,
) error {
	attempt := &domain.SideEffectAttempt{
		ID:            uuid.NewString(),
		SideEffectID:  sideEffectID,
		AttemptNumber: attemptNumber,
		CreatedAt:     s.now().UTC(),
	}

	if receipt != nil {
		if receipt.StatusCode > 0 {
			attempt.StatusCode = ptr(receipt.StatusCode)
		}
		if body := strings.TrimSpace(receipt.Body); body != "" {
			if len(body) > maxAttemptBodyLength {
				body = body[:maxAttemptBodyLength]
			}
			attempt.ResponseBody = ptr(body)
		}
	}

	if sendErr != nil {
		attempt.Error = ptr(sendErr.Error())
		var sendError *provider.SendError
		if attempt.StatusCode == nil && errors.As(sendErr, &sendError) && sendError.StatusCode > 0 {
			attempt.StatusCode = ptr(sendError.StatusCode)
		}
	}

	return s.attempts.Create(ctx, attempt)
}

func ptr[T any](v T) *T {
	return &v
}
