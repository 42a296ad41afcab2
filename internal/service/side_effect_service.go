package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/queue"
	"github.com/kursadbilgin/delivery-tracker/internal/repository"
	"go.uber.org/zap"
)

const defaultMaxRetries = 5

// SideEffectService persists post-transition notifications and hands them to
// the dispatch queue.
type SideEffectService struct {
	sideEffects repository.SideEffectRepository
	attempts    repository.AttemptRepository
	publisher   queue.Publisher
	logger      *zap.Logger
}

func NewSideEffectService(
	sideEffects repository.SideEffectRepository,
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*SideEffectService, error) {
	if sideEffects == nil {
		return nil, fmt.Errorf("side effect repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SideEffectService{
		sideEffects: sideEffects,
		attempts:    attempts,
		publisher:   publisher,
		logger:      logger,
	}, nil
}

// Create stores the side effect and publishes it. A publish failure marks the
// record FAILED so it never sits in ACCEPTED without a message in flight.
func (s *SideEffectService) Create(ctx context.Context, sideEffect *domain.SideEffect) (*domain.SideEffect, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareSideEffectForCreate(sideEffect); err != nil {
		return nil, err
	}

	if err := s.sideEffects.Create(ctx, sideEffect); err != nil {
		return nil, err
	}

	msg := queue.SideEffectMessage{
		SideEffectID:  sideEffect.ID,
		CorrelationID: sideEffect.CorrelationID,
		Kind:          sideEffect.Kind,
		Attempt:       1,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(sideEffect.Kind), msg); err != nil {
		s.logger.Error("failed to publish side effect",
			zap.String("sideEffectId", sideEffect.ID),
			zap.String("kind", sideEffect.Kind.String()),
			zap.Error(err),
		)
		if updateErr := s.sideEffects.UpdateStatus(ctx, sideEffect.ID, domain.SideEffectFailed); updateErr != nil {
			s.logger.Error("failed to mark side effect as failed after publish error",
				zap.String("sideEffectId", sideEffect.ID),
				zap.Error(updateErr),
			)
			return nil, fmt.Errorf("failed to publish side effect: %w (failed to mark as failed: %v)", err, updateErr)
		}
		sideEffect.Status = domain.SideEffectFailed
		return nil, fmt.Errorf("failed to publish side effect: %w", err)
	}

	if err := s.sideEffects.UpdateStatus(ctx, sideEffect.ID, domain.SideEffectQueued); err != nil {
		return nil, fmt.Errorf("failed to update side effect status to queued: %w", err)
	}
	sideEffect.Status = domain.SideEffectQueued

	return sideEffect, nil
}

func (s *SideEffectService) GetByID(ctx context.Context, id string) (*domain.SideEffect, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: side effect id is required", domain.ErrValidation)
	}
	return s.sideEffects.GetByID(ctx, strings.TrimSpace(id))
}

// ListByCorrelationID returns every side effect queued by one batch.
func (s *SideEffectService) ListByCorrelationID(ctx context.Context, correlationID string) ([]domain.SideEffect, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, fmt.Errorf("%w: correlation id is required", domain.ErrValidation)
	}
	return s.sideEffects.ListByCorrelationID(ctx, strings.TrimSpace(correlationID))
}

func (s *SideEffectService) Attempts(ctx context.Context, id string) ([]domain.SideEffectAttempt, error) {
	sideEffect, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return nil, nil
	}
	return s.attempts.GetBySideEffectID(ctx, sideEffect.ID)
}

func prepareSideEffectForCreate(s *domain.SideEffect) error {
	if s == nil {
		return fmt.Errorf("%w: side effect is required", domain.ErrValidation)
	}

	s.Recipient = strings.TrimSpace(s.Recipient)
	s.Payload = strings.TrimSpace(s.Payload)
	s.EnrolleeID = strings.TrimSpace(s.EnrolleeID)
	s.CorrelationID = strings.TrimSpace(s.CorrelationID)
	if s.CorrelationID == "" {
		s.CorrelationID = uuid.NewString()
	}

	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	s.Status = domain.SideEffectAccepted
	s.AttemptCount = 0
	if s.MaxRetries <= 0 {
		s.MaxRetries = defaultMaxRetries
	}
	s.ProviderMessageID = nil
	s.NextRetryAt = nil

	return s.Validate()
}
