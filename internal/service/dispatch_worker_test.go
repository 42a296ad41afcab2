package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"github.com/kursadbilgin/delivery-tracker/internal/provider"
	"github.com/kursadbilgin/delivery-tracker/internal/queue"
	"go.uber.org/zap"
)

func newTestWorker(
	t *testing.T,
	repo *fakeSideEffectRepo,
	attempts *fakeAttemptRepo,
	providerClient *fakeProvider,
	limiter *fakeRateLimiter,
) *DispatchWorker {
	t.Helper()

	if attempts == nil {
		attempts = &fakeAttemptRepo{}
	}
	if providerClient == nil {
		providerClient = &fakeProvider{}
	}
	if limiter == nil {
		limiter = &fakeRateLimiter{}
	}

	worker, err := NewDispatchWorker(repo, attempts, &fakeConsumer{}, providerClient, limiter, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatchWorker() error = %v", err)
	}
	worker.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	worker.randIntn = func(n int) int { return 0 }
	return worker
}

func smsSideEffect(id string, attemptCount int) *domain.SideEffect {
	return &domain.SideEffect{
		ID:           id,
		Kind:         domain.KindSMS,
		Action:       domain.ActionSend,
		Recipient:    "+2348000000001",
		Payload:      `{"entryNos":[1]}`,
		AttemptCount: attemptCount,
		MaxRetries:   5,
	}
}

func TestNewDispatchWorkerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewDispatchWorker(nil, &fakeAttemptRepo{}, &fakeConsumer{}, &fakeProvider{}, &fakeRateLimiter{}, 1, nil); err == nil {
		t.Fatal("expected error when side effect repository is nil")
	}
	if _, err := NewDispatchWorker(&fakeSideEffectRepo{}, &fakeAttemptRepo{}, &fakeConsumer{}, nil, &fakeRateLimiter{}, 1, nil); err == nil {
		t.Fatal("expected error when provider is nil")
	}
}

func TestDispatchWorkerProcessMessageSuccess(t *testing.T) {
	t.Parallel()

	var gotAttempt *domain.SideEffectAttempt
	var sentStatus domain.SideEffectStatus
	repo := &fakeSideEffectRepo{
		lockForSendingFn: func(context.Context, string) (*domain.SideEffect, error) {
			return smsSideEffect("se-1", 0), nil
		},
		setProviderMessageID: func(_ context.Context, _ string, providerMsgID string) error {
			if providerMsgID != "provider-123" {
				t.Fatalf("provider message id = %q, want provider-123", providerMsgID)
			}
			return nil
		},
		updateStatusFn: func(_ context.Context, _ string, status domain.SideEffectStatus) error {
			sentStatus = status
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		createFn: func(_ context.Context, a *domain.SideEffectAttempt) error {
			gotAttempt = a
			return nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(context.Context, domain.SideEffect) (*provider.Receipt, error) {
			return &provider.Receipt{StatusCode: 202, Body: `{"ok":true}`, MessageID: "provider-123"}, nil
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(_ context.Context, kind string) error {
			if kind != "sms" {
				t.Fatalf("kind = %q, want sms", kind)
			}
			return nil
		},
	}

	worker := newTestWorker(t, repo, attempts, providerClient, limiter)
	worker.SetMetrics(observability.NewMetrics())

	err := worker.processMessage(context.Background(), queue.SideEffectMessage{
		SideEffectID:  "se-1",
		CorrelationID: "corr-1",
		Kind:          domain.KindSMS,
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if sentStatus != domain.SideEffectSent {
		t.Fatalf("status = %s, want SENT", sentStatus)
	}
	if gotAttempt == nil || gotAttempt.AttemptNumber != 1 {
		t.Fatalf("attempt = %+v, want attempt number 1", gotAttempt)
	}
	if gotAttempt.StatusCode == nil || *gotAttempt.StatusCode != 202 {
		t.Fatalf("attempt status code = %v, want 202", gotAttempt.StatusCode)
	}
}

func TestDispatchWorkerProcessMessageTransientRetry(t *testing.T) {
	t.Parallel()

	var nextRetryAt time.Time
	repo := &fakeSideEffectRepo{
		lockForSendingFn: func(context.Context, string) (*domain.SideEffect, error) {
			return smsSideEffect("se-2", 0), nil
		},
		updateStatusWithRetry: func(_ context.Context, _ string, status domain.SideEffectStatus, next time.Time) error {
			if status != domain.SideEffectQueued {
				t.Fatalf("status = %s, want QUEUED", status)
			}
			nextRetryAt = next
			return nil
		},
		updateStatusFn: func(context.Context, string, domain.SideEffectStatus) error {
			t.Fatal("UpdateStatus should not be called on transient retry")
			return nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(context.Context, domain.SideEffect) (*provider.Receipt, error) {
			return nil, &provider.SendError{StatusCode: 500, Message: "temporary failure", Transient: true}
		},
	}

	worker := newTestWorker(t, repo, nil, providerClient, nil)

	if err := worker.processMessage(context.Background(), queue.SideEffectMessage{SideEffectID: "se-2", Kind: domain.KindSMS}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if want := time.Unix(1_700_000_000, 0).Add(2 * time.Second); !nextRetryAt.Equal(want) {
		t.Fatalf("nextRetryAt = %v, want %v", nextRetryAt, want)
	}
}

func TestDispatchWorkerProcessMessageFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		attemptCount int
		sendErr      error
	}{
		{
			name:         "transient at max retries",
			attemptCount: 4,
			sendErr:      &provider.SendError{StatusCode: 503, Message: "temporary failure", Transient: true},
		},
		{
			name:    "permanent",
			sendErr: &provider.SendError{StatusCode: 400, Message: "invalid request"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			failedCalled := false
			repo := &fakeSideEffectRepo{
				lockForSendingFn: func(context.Context, string) (*domain.SideEffect, error) {
					return smsSideEffect("se-3", tt.attemptCount), nil
				},
				updateStatusFn: func(_ context.Context, _ string, status domain.SideEffectStatus) error {
					if status != domain.SideEffectFailed {
						t.Fatalf("status = %s, want FAILED", status)
					}
					failedCalled = true
					return nil
				},
				updateStatusWithRetry: func(context.Context, string, domain.SideEffectStatus, time.Time) error {
					t.Fatal("UpdateStatusWithRetry should not be called")
					return nil
				},
			}
			providerClient := &fakeProvider{
				sendFn: func(context.Context, domain.SideEffect) (*provider.Receipt, error) {
					return nil, tt.sendErr
				},
			}

			worker := newTestWorker(t, repo, nil, providerClient, nil)
			if err := worker.processMessage(context.Background(), queue.SideEffectMessage{SideEffectID: "se-3", Kind: domain.KindSMS}); err != nil {
				t.Fatalf("processMessage() error = %v", err)
			}
			if !failedCalled {
				t.Fatal("expected status to be updated as FAILED")
			}
		})
	}
}

func TestDispatchWorkerProcessMessageRateLimiterError(t *testing.T) {
	t.Parallel()

	providerCalled := false
	var resetStatus domain.SideEffectStatus
	repo := &fakeSideEffectRepo{
		lockForSendingFn: func(context.Context, string) (*domain.SideEffect, error) {
			return smsSideEffect("se-rate-limit", 0), nil
		},
		updateStatusFn: func(_ context.Context, _ string, status domain.SideEffectStatus) error {
			resetStatus = status
			return nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(context.Context, domain.SideEffect) (*provider.Receipt, error) {
			providerCalled = true
			return &provider.Receipt{StatusCode: 202}, nil
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(context.Context, string) error {
			return errors.New("rate limit wait timeout")
		},
	}

	worker := newTestWorker(t, repo, nil, providerClient, limiter)

	err := worker.processMessage(context.Background(), queue.SideEffectMessage{SideEffectID: "se-rate-limit", Kind: domain.KindSMS})
	if err == nil || !strings.Contains(err.Error(), "rate limiter wait failed") {
		t.Fatalf("processMessage() error = %v, want rate limiter wait failure", err)
	}
	if providerCalled {
		t.Fatal("provider should not be called when rate limiter fails")
	}
	if resetStatus != domain.SideEffectQueued {
		t.Fatalf("reset status = %q, want QUEUED so redelivery can lock it", resetStatus)
	}
}

func TestDispatchWorkerProcessMessageSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lockFn func(context.Context, string) (*domain.SideEffect, error)
	}{
		{
			name:   "terminal or already sending",
			lockFn: func(context.Context, string) (*domain.SideEffect, error) { return nil, nil },
		},
		{
			name:   "not found",
			lockFn: func(context.Context, string) (*domain.SideEffect, error) { return nil, domain.ErrNotFound },
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			providerCalled := false
			limiterCalled := false
			worker := newTestWorker(t,
				&fakeSideEffectRepo{lockForSendingFn: tt.lockFn},
				nil,
				&fakeProvider{sendFn: func(context.Context, domain.SideEffect) (*provider.Receipt, error) {
					providerCalled = true
					return nil, nil
				}},
				&fakeRateLimiter{waitFn: func(context.Context, string) error {
					limiterCalled = true
					return nil
				}},
			)

			if err := worker.processMessage(context.Background(), queue.SideEffectMessage{SideEffectID: "se-5", Kind: domain.KindEmail}); err != nil {
				t.Fatalf("processMessage() error = %v", err)
			}
			if providerCalled || limiterCalled {
				t.Fatal("skipped side effect must not reach the limiter or provider")
			}
		})
	}
}

func TestDispatchWorkerStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	consumeErr := errors.New("consume failed")
	consumer := &fakeConsumer{
		consumeFn: func(context.Context, string, queue.MessageHandler) error {
			return consumeErr
		},
	}

	worker, err := NewDispatchWorker(&fakeSideEffectRepo{}, &fakeAttemptRepo{}, consumer, &fakeProvider{}, &fakeRateLimiter{}, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatchWorker() error = %v", err)
	}

	if err := worker.Start(context.Background()); !errors.Is(err, consumeErr) {
		t.Fatalf("Start() error = %v, want %v", err, consumeErr)
	}
}

func TestDispatchWorkerComputeRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind    domain.SideEffectKind
		attempt int
		want    time.Duration
	}{
		{kind: domain.KindEmail, attempt: 1, want: time.Second},
		{kind: domain.KindEmail, attempt: 3, want: 4 * time.Second},
		{kind: domain.KindEmail, attempt: 10, want: time.Minute},
		{kind: domain.KindSMS, attempt: 1, want: 2 * time.Second},
		{kind: domain.KindSMS, attempt: 8, want: 30 * time.Second},
		{kind: domain.KindDeliveryNote, attempt: 2, want: 10 * time.Second},
		{kind: domain.KindDeliveryNote, attempt: 12, want: 5 * time.Minute},
		{kind: domain.SideEffectKind("FAX"), attempt: 2, want: 2 * time.Second},
	}

	worker := newTestWorker(t, &fakeSideEffectRepo{}, nil, nil, nil)
	for _, tt := range tests {
		if got := worker.computeRetryDelay(tt.kind, tt.attempt); got != tt.want {
			t.Fatalf("computeRetryDelay(%s, %d) = %v, want %v", tt.kind, tt.attempt, got, tt.want)
		}
	}

	worker.randIntn = func(n int) int {
		if n != maxRetryJitterMillis+1 {
			t.Fatalf("randIntn arg = %d, want %d", n, maxRetryJitterMillis+1)
		}
		return 125
	}
	if got, want := worker.computeRetryDelay(domain.KindSMS, 2), 4*time.Second+125*time.Millisecond; got != want {
		t.Fatalf("computeRetryDelay(sms, 2) = %v, want %v", got, want)
	}
}

func TestAssignQueues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		concurrency int
		want        []string
	}{
		{concurrency: 0, want: []string{"delivery_note", "email", "sms"}},
		{concurrency: 1, want: []string{"delivery_note", "email", "sms"}},
		{concurrency: 5, want: []string{"delivery_note", "email", "sms", "delivery_note", "email"}},
		{concurrency: 7, want: []string{"delivery_note", "email", "sms", "delivery_note", "email", "delivery_note", "sms"}},
	}

	for _, tt := range tests {
		got := assignQueues(tt.concurrency)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Fatalf("assignQueues(%d) = %v, want %v", tt.concurrency, got, tt.want)
		}
	}
}

func TestDispatchWorkerStartConsumesEveryKindQueue(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	consumed := map[string]int{}
	consumer := &fakeConsumer{
		consumeFn: func(_ context.Context, queueName string, _ queue.MessageHandler) error {
			mu.Lock()
			consumed[queueName]++
			mu.Unlock()
			return nil
		},
	}

	worker, err := NewDispatchWorker(&fakeSideEffectRepo{}, &fakeAttemptRepo{}, consumer, &fakeProvider{}, &fakeRateLimiter{}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatchWorker() error = %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, name := range queue.WorkQueueNames() {
		if consumed[name] != 1 {
			t.Fatalf("consumers per queue = %v, want one on %s", consumed, name)
		}
	}
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	invalid := &provider.SendError{Kind: domain.KindSMS, Message: "cannot render sms", Cause: domain.ErrValidation}
	rejected := &provider.SendError{Kind: domain.KindEmail, StatusCode: 422, Message: "rejected"}

	if got := failureReason(invalid, false); got != reasonInvalidContents {
		t.Fatalf("failureReason(invalid) = %q, want %q", got, reasonInvalidContents)
	}
	if got := failureReason(rejected, false); got != reasonPermanentError {
		t.Fatalf("failureReason(rejected) = %q, want %q", got, reasonPermanentError)
	}
	if got := failureReason(rejected, true); got != reasonRetryExhausted {
		t.Fatalf("failureReason(transient) = %q, want %q", got, reasonRetryExhausted)
	}
}

func TestDispatchWorkerDeliveryNoteRetryUsesNoteBackoff(t *testing.T) {
	t.Parallel()

	var nextRetryAt time.Time
	repo := &fakeSideEffectRepo{
		lockForSendingFn: func(context.Context, string) (*domain.SideEffect, error) {
			return &domain.SideEffect{
				ID:           "note-1",
				Kind:         domain.KindDeliveryNote,
				Action:       domain.ActionPack,
				Recipient:    "PH-7",
				AttemptCount: 1,
				MaxRetries:   5,
			}, nil
		},
		updateStatusWithRetry: func(_ context.Context, _ string, _ domain.SideEffectStatus, next time.Time) error {
			nextRetryAt = next
			return nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(context.Context, domain.SideEffect) (*provider.Receipt, error) {
			return nil, &provider.SendError{Kind: domain.KindDeliveryNote, StatusCode: 503, Transient: true}
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(_ context.Context, kind string) error {
			if kind != "delivery_note" {
				t.Fatalf("limiter kind = %q, want delivery_note", kind)
			}
			return nil
		},
	}

	worker := newTestWorker(t, repo, nil, providerClient, limiter)
	if err := worker.processMessage(context.Background(), queue.SideEffectMessage{SideEffectID: "note-1", Kind: domain.KindDeliveryNote}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if want := time.Unix(1_700_000_000, 0).Add(10 * time.Second); !nextRetryAt.Equal(want) {
		t.Fatalf("nextRetryAt = %v, want %v", nextRetryAt, want)
	}
}

func TestDispatchWorkerTruncatesStoredResponseBody(t *testing.T) {
	t.Parallel()

	var gotAttempt *domain.SideEffectAttempt
	repo := &fakeSideEffectRepo{
		lockForSendingFn: func(context.Context, string) (*domain.SideEffect, error) {
			return smsSideEffect("se-big", 0), nil
		},
	}
	attempts := &fakeAttemptRepo{
		createFn: func(_ context.Context, a *domain.SideEffectAttempt) error {
			gotAttempt = a
			return nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(context.Context, domain.SideEffect) (*provider.Receipt, error) {
			return &provider.Receipt{StatusCode: 200, Body: strings.Repeat("a", 3*maxAttemptBodyLength)}, nil
		},
	}

	worker := newTestWorker(t, repo, attempts, providerClient, nil)
	if err := worker.processMessage(context.Background(), queue.SideEffectMessage{SideEffectID: "se-big", Kind: domain.KindSMS}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if gotAttempt == nil || gotAttempt.ResponseBody == nil || len(*gotAttempt.ResponseBody) != maxAttemptBodyLength {
		t.Fatalf("stored body = %v, want %d bytes", gotAttempt, maxAttemptBodyLength)
	}
}
