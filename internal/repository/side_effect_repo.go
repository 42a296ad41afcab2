package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SideEffectRepository interface {
	Create(ctx context.Context, s *domain.SideEffect) error
	GetByID(ctx context.Context, id string) (*domain.SideEffect, error)
	ListByCorrelationID(ctx context.Context, correlationID string) ([]domain.SideEffect, error)
	UpdateStatus(ctx context.Context, id string, status domain.SideEffectStatus) error
	UpdateStatusWithRetry(ctx context.Context, id string, status domain.SideEffectStatus, nextRetryAt time.Time) error
	LockForSending(ctx context.Context, id string) (*domain.SideEffect, error)
	GetDueForRetry(ctx context.Context, limit int) ([]domain.SideEffect, error)
	ClearNextRetryAt(ctx context.Context, id string) error
	SetProviderMessageID(ctx context.Context, id string, providerMsgID string) error
}

type GormSideEffectRepo struct {
	db *gorm.DB
}

func NewGormSideEffectRepo(db *gorm.DB) *GormSideEffectRepo {
	return &GormSideEffectRepo{db: db}
}

func (r *GormSideEffectRepo) Create(ctx context.Context, s *domain.SideEffect) error {
	model := sideEffectModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		*s = *sideEffectModelToDomain(model)
	}
	return nil
}

func (r *GormSideEffectRepo) GetByID(ctx context.Context, id string) (*domain.SideEffect, error) {
	var model SideEffectModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sideEffectModelToDomain(&model), nil
}

// ListByCorrelationID returns every side effect produced by one batch action.
func (r *GormSideEffectRepo) ListByCorrelationID(ctx context.Context, correlationID string) ([]domain.SideEffect, error) {
	var models []SideEffectModel
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	sideEffects := make([]domain.SideEffect, 0, len(models))
	for i := range models {
		sideEffects = append(sideEffects, *sideEffectModelToDomain(&models[i]))
	}
	return sideEffects, nil
}

func (r *GormSideEffectRepo) UpdateStatus(ctx context.Context, id string, status domain.SideEffectStatus) error {
	result := r.db.WithContext(ctx).
		Model(&SideEffectModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSideEffectRepo) UpdateStatusWithRetry(
	ctx context.Context,
	id string,
	status domain.SideEffectStatus,
	nextRetryAt time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&SideEffectModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"next_retry_at": nextRetryAt,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LockForSending moves a side effect to SENDING under a row lock. It returns
// nil without error when the row is already sending or finished.
func (r *GormSideEffectRepo) LockForSending(ctx context.Context, id string) (*domain.SideEffect, error) {
	var locked *domain.SideEffect
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model SideEffectModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		switch model.Status {
		case domain.SideEffectSent, domain.SideEffectFailed, domain.SideEffectSending:
			return nil
		}

		if err := tx.Model(&model).Update("status", domain.SideEffectSending).Error; err != nil {
			return err
		}
		model.Status = domain.SideEffectSending
		locked = sideEffectModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

func (r *GormSideEffectRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.SideEffect, error) {
	var models []SideEffectModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.SideEffectQueued, time.Now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	sideEffects := make([]domain.SideEffect, 0, len(models))
	for i := range models {
		sideEffects = append(sideEffects, *sideEffectModelToDomain(&models[i]))
	}
	return sideEffects, nil
}

func (r *GormSideEffectRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&SideEffectModel{}).
		Where("id = ?", id).
		Update("next_retry_at", nil).Error
}

func (r *GormSideEffectRepo) SetProviderMessageID(ctx context.Context, id string, providerMsgID string) error {
	return r.db.WithContext(ctx).
		Model(&SideEffectModel{}).
		Where("id = ?", id).
		Update("provider_message_id", providerMsgID).Error
}
