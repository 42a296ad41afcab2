package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// SideEffectModel is the persistence model for the side_effects table.
type SideEffectModel struct {
	ID                string                  `gorm:"type:uuid;primaryKey"`
	CorrelationID     string                  `gorm:"type:varchar(36);not null"`
	Kind              domain.SideEffectKind   `gorm:"type:varchar(16);not null"`
	Action            domain.Action           `gorm:"type:varchar(16);not null"`
	EnrolleeID        string                  `gorm:"type:varchar(64);not null"`
	EntryNos          string                  `gorm:"type:text;not null;default:'[]'"`
	Recipient         string                  `gorm:"type:varchar(255);not null"`
	Payload           string                  `gorm:"type:text;not null"`
	Status            domain.SideEffectStatus `gorm:"type:varchar(20);not null"`
	ProviderMessageID *string                 `gorm:"type:varchar(255)"`
	AttemptCount      int                     `gorm:"not null;default:0"`
	MaxRetries        int                     `gorm:"not null;default:5"`
	NextRetryAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (SideEffectModel) TableName() string {
	return "side_effects"
}

// SideEffectAttemptModel is the persistence model for side_effect_attempts.
type SideEffectAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	SideEffectID  string  `gorm:"type:uuid;not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (SideEffectAttemptModel) TableName() string {
	return "side_effect_attempts"
}

func sideEffectModelFromDomain(s *domain.SideEffect) *SideEffectModel {
	if s == nil {
		return nil
	}

	return &SideEffectModel{
		ID:                s.ID,
		CorrelationID:     s.CorrelationID,
		Kind:              s.Kind,
		Action:            s.Action,
		EnrolleeID:        s.EnrolleeID,
		EntryNos:          encodeEntryNos(s.EntryNos),
		Recipient:         s.Recipient,
		Payload:           s.Payload,
		Status:            s.Status,
		ProviderMessageID: s.ProviderMessageID,
		AttemptCount:      s.AttemptCount,
		MaxRetries:        s.MaxRetries,
		NextRetryAt:       s.NextRetryAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func sideEffectModelToDomain(m *SideEffectModel) *domain.SideEffect {
	if m == nil {
		return nil
	}

	return &domain.SideEffect{
		ID:                m.ID,
		CorrelationID:     m.CorrelationID,
		Kind:              m.Kind,
		Action:            m.Action,
		EnrolleeID:        m.EnrolleeID,
		EntryNos:          decodeEntryNos(m.EntryNos),
		Recipient:         m.Recipient,
		Payload:           m.Payload,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		AttemptCount:      m.AttemptCount,
		MaxRetries:        m.MaxRetries,
		NextRetryAt:       m.NextRetryAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.SideEffectAttempt) *SideEffectAttemptModel {
	if a == nil {
		return nil
	}

	return &SideEffectAttemptModel{
		ID:            a.ID,
		SideEffectID:  a.SideEffectID,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  a.ResponseBody,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *SideEffectAttemptModel) *domain.SideEffectAttempt {
	if m == nil {
		return nil
	}

	return &domain.SideEffectAttempt{
		ID:            m.ID,
		SideEffectID:  m.SideEffectID,
		AttemptNumber: m.AttemptNumber,
		StatusCode:    m.StatusCode,
		ResponseBody:  m.ResponseBody,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}

func encodeEntryNos(entryNos []int) string {
	if len(entryNos) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(entryNos)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeEntryNos(raw string) []int {
	var entryNos []int
	if err := json.Unmarshal([]byte(raw), &entryNos); err != nil {
		return nil
	}
	return entryNos
}
