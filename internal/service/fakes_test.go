package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/backend"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/provider"
	"github.com/kursadbilgin/delivery-tracker/internal/queue"
	"github.com/kursadbilgin/delivery-tracker/internal/ratelimit"
	"github.com/kursadbilgin/delivery-tracker/internal/repository"
)

var (
	_ repository.SideEffectRepository = (*fakeSideEffectRepo)(nil)
	_ repository.AttemptRepository    = (*fakeAttemptRepo)(nil)
	_ queue.Publisher                 = (*fakePublisher)(nil)
	_ queue.Consumer                  = (*fakeConsumer)(nil)
	_ provider.Provider               = (*fakeProvider)(nil)
	_ ratelimit.RateLimiter           = (*fakeRateLimiter)(nil)
	_ DeliveryBackend                 = (*fakeDeliveryBackend)(nil)
	_ SideEffectEmitter               = (*fakeEmitter)(nil)
)

type fakeSideEffectRepo struct {
	createFn              func(ctx context.Context, s *domain.SideEffect) error
	getByIDFn             func(ctx context.Context, id string) (*domain.SideEffect, error)
	listByCorrelationIDFn func(ctx context.Context, correlationID string) ([]domain.SideEffect, error)
	updateStatusFn        func(ctx context.Context, id string, status domain.SideEffectStatus) error
	updateStatusWithRetry func(ctx context.Context, id string, status domain.SideEffectStatus, nextRetryAt time.Time) error
	lockForSendingFn      func(ctx context.Context, id string) (*domain.SideEffect, error)
	getDueForRetryFn      func(ctx context.Context, limit int) ([]domain.SideEffect, error)
	clearNextRetryAtFn    func(ctx context.Context, id string) error
	setProviderMessageID  func(ctx context.Context, id string, providerMsgID string) error
}

func (f *fakeSideEffectRepo) Create(ctx context.Context, s *domain.SideEffect) error {
	if f.createFn != nil {
		return f.createFn(ctx, s)
	}
	return nil
}

func (f *fakeSideEffectRepo) GetByID(ctx context.Context, id string) (*domain.SideEffect, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSideEffectRepo) ListByCorrelationID(ctx context.Context, correlationID string) ([]domain.SideEffect, error) {
	if f.listByCorrelationIDFn != nil {
		return f.listByCorrelationIDFn(ctx, correlationID)
	}
	return nil, nil
}

func (f *fakeSideEffectRepo) UpdateStatus(ctx context.Context, id string, status domain.SideEffectStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeSideEffectRepo) UpdateStatusWithRetry(
	ctx context.Context,
	id string,
	status domain.SideEffectStatus,
	nextRetryAt time.Time,
) error {
	if f.updateStatusWithRetry != nil {
		return f.updateStatusWithRetry(ctx, id, status, nextRetryAt)
	}
	return nil
}

func (f *fakeSideEffectRepo) LockForSending(ctx context.Context, id string) (*domain.SideEffect, error) {
	if f.lockForSendingFn != nil {
		return f.lockForSendingFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeSideEffectRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.SideEffect, error) {
	if f.getDueForRetryFn != nil {
		return f.getDueForRetryFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeSideEffectRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	if f.clearNextRetryAtFn != nil {
		return f.clearNextRetryAtFn(ctx, id)
	}
	return nil
}

func (f *fakeSideEffectRepo) SetProviderMessageID(ctx context.Context, id string, providerMsgID string) error {
	if f.setProviderMessageID != nil {
		return f.setProviderMessageID(ctx, id, providerMsgID)
	}
	return nil
}

type fakeAttemptRepo struct {
	createFn            func(ctx context.Context, a *domain.SideEffectAttempt) error
	getBySideEffectIDFn func(ctx context.Context, sideEffectID string) ([]domain.SideEffectAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.SideEffectAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetBySideEffectID(ctx context.Context, sideEffectID string) ([]domain.SideEffectAttempt, error) {
	if f.getBySideEffectIDFn != nil {
		return f.getBySideEffectIDFn(ctx, sideEffectID)
	}
	return nil, nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.SideEffectMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.SideEffectMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeProvider struct {
	sendFn func(ctx context.Context, sideEffect domain.SideEffect) (*provider.Receipt, error)
}

func (f *fakeProvider) Send(ctx context.Context, sideEffect domain.SideEffect) (*provider.Receipt, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, sideEffect)
	}
	return &provider.Receipt{}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, kind string) (bool, error)
	waitFn  func(ctx context.Context, kind string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, kind string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, kind)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, kind string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, kind)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeDeliveryBackend struct {
	approveFn        func(ctx context.Context, entryNos []int) (backend.ItemStatus, error)
	packFn           func(ctx context.Context, lines []backend.PackLine) ([]backend.ItemStatus, error)
	sendFn           func(ctx context.Context, lines []backend.SendLine) ([]backend.ItemStatus, error)
	deliverFn        func(ctx context.Context, lines []backend.DeliverLine) ([]backend.ItemStatus, error)
	deleteFn         func(ctx context.Context, line backend.DeleteLine) (backend.ItemStatus, error)
	claimFn          func(ctx context.Context, lines []backend.ClaimLine) ([]backend.ItemStatus, error)
	createDeliveryFn func(ctx context.Context, d domain.DeliveryRecord, confirmDuplicate bool) (backend.CreateResult, error)
}

func (f *fakeDeliveryBackend) ApproveDeliveryLines(ctx context.Context, entryNos []int) (backend.ItemStatus, error) {
	if f.approveFn != nil {
		return f.approveFn(ctx, entryNos)
	}
	return backend.ItemStatus{OK: true}, nil
}

func (f *fakeDeliveryBackend) PackDeliveryLines(ctx context.Context, lines []backend.PackLine) ([]backend.ItemStatus, error) {
	if f.packFn != nil {
		return f.packFn(ctx, lines)
	}
	return allOK(len(lines)), nil
}

func (f *fakeDeliveryBackend) SendDeliveryLines(ctx context.Context, lines []backend.SendLine) ([]backend.ItemStatus, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, lines)
	}
	return allOK(len(lines)), nil
}

func (f *fakeDeliveryBackend) DeliverDeliveryLines(ctx context.Context, lines []backend.DeliverLine) ([]backend.ItemStatus, error) {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, lines)
	}
	return allOK(len(lines)), nil
}

func (f *fakeDeliveryBackend) DeleteDeliveryLine(ctx context.Context, line backend.DeleteLine) (backend.ItemStatus, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, line)
	}
	return backend.ItemStatus{OK: true}, nil
}

func (f *fakeDeliveryBackend) CreateClaimRequests(ctx context.Context, lines []backend.ClaimLine) ([]backend.ItemStatus, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, lines)
	}
	return allOK(len(lines)), nil
}

func (f *fakeDeliveryBackend) CreateDelivery(
	ctx context.Context,
	d domain.DeliveryRecord,
	confirmDuplicate bool,
) (backend.CreateResult, error) {
	if f.createDeliveryFn != nil {
		return f.createDeliveryFn(ctx, d, confirmDuplicate)
	}
	return backend.CreateResult{DeliveryID: "DLV-NEW"}, nil
}

func allOK(n int) []backend.ItemStatus {
	out := make([]backend.ItemStatus, n)
	for i := range out {
		out[i] = backend.ItemStatus{OK: true}
	}
	return out
}

// fakeEmitter records side effects handed over by the lifecycle service.
type fakeEmitter struct {
	mu       sync.Mutex
	created  []domain.SideEffect
	createFn func(ctx context.Context, sideEffect *domain.SideEffect) (*domain.SideEffect, error)
}

func (f *fakeEmitter) Create(ctx context.Context, sideEffect *domain.SideEffect) (*domain.SideEffect, error) {
	if f.createFn != nil {
		created, err := f.createFn(ctx, sideEffect)
		if err != nil {
			return nil, err
		}
		sideEffect = created
	}
	f.mu.Lock()
	f.created = append(f.created, *sideEffect)
	f.mu.Unlock()
	return sideEffect, nil
}

func (f *fakeEmitter) kinds() []domain.SideEffectKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SideEffectKind, 0, len(f.created))
	for _, s := range f.created {
		out = append(out, s.Kind)
	}
	return out
}

type fakePlanLookup struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, enrolleeID string) (time.Time, error)
}

func (f *fakePlanLookup) PlanExpiry(ctx context.Context, enrolleeID string) (time.Time, error) {
	f.mu.Lock()
	f.calls = append(f.calls, enrolleeID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, enrolleeID)
	}
	return time.Time{}, nil
}
