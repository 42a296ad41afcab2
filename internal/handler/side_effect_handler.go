package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

type SideEffectReader interface {
	GetByID(ctx context.Context, id string) (*domain.SideEffect, error)
	ListByCorrelationID(ctx context.Context, correlationID string) ([]domain.SideEffect, error)
	Attempts(ctx context.Context, id string) ([]domain.SideEffectAttempt, error)
}

type SideEffectHandler struct {
	service SideEffectReader
}

func NewSideEffectHandler(service SideEffectReader) (*SideEffectHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("side effect service is required")
	}
	return &SideEffectHandler{service: service}, nil
}

func RegisterSideEffectRoutes(router fiber.Router, service SideEffectReader) error {
	h, err := NewSideEffectHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/side-effects", h.ListSideEffects)
	v1.Get("/side-effects/:id", h.GetSideEffect)
	v1.Get("/side-effects/:id/attempts", h.ListAttempts)

	return nil
}

type sideEffectResponse struct {
	ID                string     `json:"id"`
	CorrelationID     string     `json:"correlationId"`
	Kind              string     `json:"kind"`
	Action            string     `json:"action"`
	EnrolleeID        string     `json:"enrolleeId,omitempty"`
	EntryNos          []int      `json:"entryNos"`
	Recipient         string     `json:"recipient"`
	Payload           string     `json:"payload"`
	Status            string     `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	AttemptCount      int        `json:"attemptCount"`
	MaxRetries        int        `json:"maxRetries"`
	NextRetryAt       *time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	AttemptNumber int       `json:"attemptNumber"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	ResponseBody  *string   `json:"responseBody,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

func (h *SideEffectHandler) GetSideEffect(c *fiber.Ctx) error {
	sideEffect, err := h.service.GetByID(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSideEffectResponse(sideEffect))
}

// ListSideEffects returns every side effect queued by one submission.
func (h *SideEffectHandler) ListSideEffects(c *fiber.Ctx) error {
	sideEffects, err := h.service.ListByCorrelationID(c.UserContext(), c.Query("correlationId"))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]sideEffectResponse, 0, len(sideEffects))
	for i := range sideEffects {
		data = append(data, toSideEffectResponse(&sideEffects[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *SideEffectHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.service.Attempts(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			AttemptNumber: a.AttemptNumber,
			StatusCode:    a.StatusCode,
			ResponseBody:  a.ResponseBody,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func toSideEffectResponse(s *domain.SideEffect) sideEffectResponse {
	if s == nil {
		return sideEffectResponse{}
	}

	entryNos := s.EntryNos
	if entryNos == nil {
		entryNos = []int{}
	}
	return sideEffectResponse{
		ID:                s.ID,
		CorrelationID:     s.CorrelationID,
		Kind:              s.Kind.String(),
		Action:            s.Action.String(),
		EnrolleeID:        s.EnrolleeID,
		EntryNos:          entryNos,
		Recipient:         s.Recipient,
		Payload:           s.Payload,
		Status:            s.Status.String(),
		ProviderMessageID: s.ProviderMessageID,
		AttemptCount:      s.AttemptCount,
		MaxRetries:        s.MaxRetries,
		NextRetryAt:       s.NextRetryAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}
