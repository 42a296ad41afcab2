package domain

import (
	"fmt"
	"strings"
	"time"
)

// SideEffectStatus represents the dispatch state of a side effect.
type SideEffectStatus string

const (
	SideEffectAccepted SideEffectStatus = "ACCEPTED"
	SideEffectQueued   SideEffectStatus = "QUEUED"
	SideEffectSending  SideEffectStatus = "SENDING"
	SideEffectSent     SideEffectStatus = "SENT"
	SideEffectFailed   SideEffectStatus = "FAILED"
)

func (s SideEffectStatus) String() string { return string(s) }

func (s SideEffectStatus) IsValid() bool {
	switch s {
	case SideEffectAccepted, SideEffectQueued, SideEffectSending, SideEffectSent, SideEffectFailed:
		return true
	}
	return false
}

// SideEffectKind is the channel a post-transition notification goes out on.
type SideEffectKind string

const (
	KindEmail        SideEffectKind = "EMAIL"
	KindSMS          SideEffectKind = "SMS"
	KindDeliveryNote SideEffectKind = "DELIVERY_NOTE"
)

func (k SideEffectKind) String() string { return string(k) }

func (k SideEffectKind) IsValid() bool {
	switch k {
	case KindEmail, KindSMS, KindDeliveryNote:
		return true
	}
	return false
}

func ParseSideEffectKindFromString(s string) (SideEffectKind, error) {
	k := SideEffectKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid side effect kind %q", ErrValidation, s)
	}
	return k, nil
}

// MaxPayloadBytes caps the JSON payload handed to the notification provider.
const MaxPayloadBytes = 64 * 1024

// SideEffect is a best-effort notification produced after a lifecycle
// transition commits. Payload is structured JSON; rendering happens downstream.
type SideEffect struct {
	ID                string
	CorrelationID     string
	Kind              SideEffectKind
	Action            Action
	EnrolleeID        string
	EntryNos          []int
	Recipient         string
	Payload           string
	Status            SideEffectStatus
	ProviderMessageID *string
	AttemptCount      int
	MaxRetries        int
	NextRetryAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *SideEffect) Validate() error {
	if !s.Kind.IsValid() {
		return fmt.Errorf("%w: invalid side effect kind %q", ErrValidation, s.Kind)
	}
	if strings.TrimSpace(s.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(s.Payload) == "" {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if len(s.Payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes (got %d)", ErrValidation, MaxPayloadBytes, len(s.Payload))
	}
	return nil
}

// SideEffectAttempt records a single provider call for a side effect.
type SideEffectAttempt struct {
	ID            string
	SideEffectID  string
	AttemptNumber int
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	CreatedAt     time.Time
}
