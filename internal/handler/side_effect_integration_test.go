package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

type stubSideEffectReader struct {
	sideEffects map[string]domain.SideEffect
	attempts    map[string][]domain.SideEffectAttempt
}

func (s *stubSideEffectReader) GetByID(_ context.Context, id string) (*domain.SideEffect, error) {
	sideEffect, ok := s.sideEffects[id]
	if !ok {
		return nil, fmt.Errorf("%w: side effect %s", domain.ErrNotFound, id)
	}
	return &sideEffect, nil
}

func (s *stubSideEffectReader) ListByCorrelationID(_ context.Context, correlationID string) ([]domain.SideEffect, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, fmt.Errorf("%w: correlation id is required", domain.ErrValidation)
	}
	var out []domain.SideEffect
	for _, se := range s.sideEffects {
		if se.CorrelationID == correlationID {
			out = append(out, se)
		}
	}
	return out, nil
}

func (s *stubSideEffectReader) Attempts(ctx context.Context, id string) ([]domain.SideEffectAttempt, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.attempts[id], nil
}

func TestSideEffectIntegration(t *testing.T) {
	t.Parallel()

	statusCode := 503
	reader := &stubSideEffectReader{
		sideEffects: map[string]domain.SideEffect{
			"se-1": {
				ID:            "se-1",
				CorrelationID: "corr-1",
				Kind:          domain.KindSMS,
				Action:        domain.ActionSend,
				EntryNos:      []int{4, 5},
				Recipient:     "08030000000",
				Payload:       `{"entryNos":[4,5]}`,
				Status:        domain.SideEffectQueued,
				MaxRetries:    5,
			},
		},
		attempts: map[string][]domain.SideEffectAttempt{
			"se-1": {{ID: "a-1", SideEffectID: "se-1", AttemptNumber: 1, StatusCode: &statusCode}},
		},
	}
	app := newTestApp(t, func(app *fiber.App) error {
		return RegisterSideEffectRoutes(app, reader)
	})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/side-effects/se-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var one sideEffectResponse
	if err := json.Unmarshal(body, &one); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if one.Kind != "SMS" || one.Status != "QUEUED" || len(one.EntryNos) != 2 {
		t.Fatalf("side effect = %+v", one)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/side-effects/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/side-effects?correlationId=corr-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var list struct {
		Data []sideEffectResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != "se-1" {
		t.Fatalf("list = %+v, want se-1", list.Data)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/side-effects", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without correlationId", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/side-effects/se-1/attempts", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var attempts struct {
		Data []attemptResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &attempts); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(attempts.Data) != 1 || attempts.Data[0].StatusCode == nil || *attempts.Data[0].StatusCode != 503 {
		t.Fatalf("attempts = %+v", attempts.Data)
	}
}
