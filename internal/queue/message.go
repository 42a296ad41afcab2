package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// SideEffectMessage is the broker payload for side-effect dispatch.
type SideEffectMessage struct {
	SideEffectID  string                `json:"sideEffectId"`
	CorrelationID string                `json:"correlationId,omitempty"`
	Kind          domain.SideEffectKind `json:"kind"`
	Retry         bool                  `json:"retry,omitempty"`
	// Attempt is the attempt number the message will trigger, 1 for the
	// first send.
	Attempt int `json:"attempt,omitempty"`
}

func (m SideEffectMessage) Validate() error {
	if strings.TrimSpace(m.SideEffectID) == "" {
		return fmt.Errorf("sideEffectId is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", m.Kind)
	}
	return nil
}
