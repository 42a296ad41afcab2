package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository is the append-only audit trail of provider calls, one row
// per send attempt of a side effect.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.SideEffectAttempt) error
	GetBySideEffectID(ctx context.Context, sideEffectID string) ([]domain.SideEffectAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

// Create records an attempt. Recording the same attempt number twice for a
// side effect is a conflict: two workers raced on one message.
func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.SideEffectAttempt) error {
	if a == nil {
		return fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}

	model := attemptModelFromDomain(a)
	err := r.db.WithContext(ctx).Create(model).Error
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: attempt %d for side effect %s: %v", domain.ErrConflict, a.AttemptNumber, a.SideEffectID, err)
	case err != nil:
		return fmt.Errorf("record attempt for side effect %s: %w", a.SideEffectID, err)
	}

	*a = *attemptModelToDomain(model)
	return nil
}

func (r *GormAttemptRepo) GetBySideEffectID(ctx context.Context, sideEffectID string) ([]domain.SideEffectAttempt, error) {
	var rows []SideEffectAttemptModel
	if err := r.db.WithContext(ctx).
		Where("side_effect_id = ?", sideEffectID).
		Order("attempt_number ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list attempts for side effect %s: %w", sideEffectID, err)
	}

	attempts := make([]domain.SideEffectAttempt, len(rows))
	for i := range rows {
		attempts[i] = *attemptModelToDomain(&rows[i])
	}
	return attempts, nil
}
