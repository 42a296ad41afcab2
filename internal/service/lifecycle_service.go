package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/backend"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/duplicate"
	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"github.com/kursadbilgin/delivery-tracker/internal/schedule"
	"go.uber.org/zap"
)

const (
	msgNoResult       = "no result returned"
	msgRejected       = "rejected by backend"
	msgNoDeliveryID   = "delivery has not been persisted yet"
	msgNoProcedureIDs = "delivery has no procedure or diagnosis to delete"
)

// DeliveryBackend is the subset of the upstream delivery API the lifecycle
// controller submits to.
type DeliveryBackend interface {
	ApproveDeliveryLines(ctx context.Context, entryNos []int) (backend.ItemStatus, error)
	PackDeliveryLines(ctx context.Context, lines []backend.PackLine) ([]backend.ItemStatus, error)
	SendDeliveryLines(ctx context.Context, lines []backend.SendLine) ([]backend.ItemStatus, error)
	DeliverDeliveryLines(ctx context.Context, lines []backend.DeliverLine) ([]backend.ItemStatus, error)
	DeleteDeliveryLine(ctx context.Context, line backend.DeleteLine) (backend.ItemStatus, error)
	CreateClaimRequests(ctx context.Context, lines []backend.ClaimLine) ([]backend.ItemStatus, error)
	CreateDelivery(ctx context.Context, d domain.DeliveryRecord, confirmDuplicate bool) (backend.CreateResult, error)
}

// SideEffectEmitter accepts a post-transition notification for asynchronous
// delivery.
type SideEffectEmitter interface {
	Create(ctx context.Context, sideEffect *domain.SideEffect) (*domain.SideEffect, error)
}

// SubmitOptions carries the operator input some actions need.
type SubmitOptions struct {
	Actor           string
	Notes           string
	PharmacyID      string
	RequestedMonths int
}

// Result is the reconciled outcome of one lifecycle submission. Warnings
// report non-fatal problems such as failed plan lookups or side effects.
type Result struct {
	Action      domain.Action
	Outcome     domain.BatchOutcome
	Adjustments []domain.DeliveryAdjustment
	SideEffects []domain.SideEffect
	Warnings    []string
}

type CreateOutcome struct {
	DeliveryID string
	Message    string
	Duplicates []domain.DeliveryRecord
}

type LifecycleService struct {
	backend      DeliveryBackend
	resolver     *schedule.BoundaryResolver
	calculator   *schedule.Calculator
	detector     *duplicate.Detector
	sideEffects  SideEffectEmitter
	defaultActor string
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func NewLifecycleService(
	deliveryBackend DeliveryBackend,
	resolver *schedule.BoundaryResolver,
	calculator *schedule.Calculator,
	detector *duplicate.Detector,
	sideEffects SideEffectEmitter,
	defaultActor string,
	logger *zap.Logger,
) (*LifecycleService, error) {
	if deliveryBackend == nil {
		return nil, fmt.Errorf("delivery backend is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("boundary resolver is required")
	}
	if calculator == nil {
		calculator = schedule.NewCalculator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LifecycleService{
		backend:      deliveryBackend,
		resolver:     resolver,
		calculator:   calculator,
		detector:     detector,
		sideEffects:  sideEffects,
		defaultActor: strings.TrimSpace(defaultActor),
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (s *LifecycleService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit applies action to records with one logical backend request. Rows the
// action cannot apply to are failed locally. When any item fails the outcome
// is returned together with domain.ErrPartialBatch; a transport failure fails
// every eligible item and returns the network error.
func (s *LifecycleService) Submit(
	ctx context.Context,
	action domain.Action,
	records []domain.DeliveryRecord,
	opts SubmitOptions,
) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := Result{Action: action}

	if !action.IsValid() {
		return result, fmt.Errorf("%w: invalid action %q", domain.ErrValidation, action)
	}
	if len(records) == 0 {
		return result, fmt.Errorf("%w: no deliveries to %s", domain.ErrValidation, strings.ToLower(action.String()))
	}
	if err := validateOptions(action, opts); err != nil {
		return result, err
	}
	opts.Actor = s.actor(opts.Actor)

	eligible := make([]domain.DeliveryRecord, 0, len(records))
	for _, record := range records {
		if err := action.CanApply(record); err != nil {
			result.Outcome.Fail(record.Key(), err.Error())
			continue
		}
		eligible = append(eligible, record)
	}
	if len(eligible) == 0 {
		return result, fmt.Errorf("%w: none of the %d selected deliveries can be %s",
			domain.ErrValidation, len(records), pastTense(action))
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("action", action.String()))
	start := s.now()

	var err error
	switch action {
	case domain.ActionApprove:
		err = s.approve(ctx, eligible, &result)
	case domain.ActionPack:
		err = s.pack(ctx, eligible, opts, &result)
	case domain.ActionSend:
		err = s.send(ctx, eligible, opts, &result)
	case domain.ActionDeliver:
		err = s.deliver(ctx, eligible, opts, &result)
	case domain.ActionClaim:
		err = s.claim(ctx, eligible, opts, &result)
	case domain.ActionDelete:
		s.delete(ctx, eligible, &result)
	}

	if err != nil {
		for _, record := range eligible {
			result.Outcome.Fail(record.Key(), err.Error())
		}
	}
	s.metrics.ObserveBatch(action.String(), len(result.Outcome.Succeeded), len(result.Outcome.Failed), s.now().Sub(start))

	if err != nil {
		logger.Error("batch submission failed",
			zap.Int("items", len(eligible)),
			zap.Error(err),
		)
		return result, err
	}

	logger.Info("batch submission completed",
		zap.Int("succeeded", len(result.Outcome.Succeeded)),
		zap.Int("failed", len(result.Outcome.Failed)),
		zap.Int("warnings", len(result.Warnings)),
	)

	if result.Outcome.HasFailures() {
		return result, fmt.Errorf("%w: %d of %d deliveries failed",
			domain.ErrPartialBatch, len(result.Outcome.Failed), result.Outcome.Total())
	}
	return result, nil
}

func (s *LifecycleService) approve(ctx context.Context, eligible []domain.DeliveryRecord, result *Result) error {
	entryNos := make([]int, 0, len(eligible))
	for _, record := range eligible {
		entryNos = append(entryNos, record.EntryNo)
	}

	status, err := s.backend.ApproveDeliveryLines(ctx, entryNos)
	if err != nil {
		return err
	}

	// A single batch-level status applies to every item.
	for _, record := range eligible {
		if status.OK {
			result.Outcome.Succeed(record.Key(), messageOr(status.Message, "approved"))
		} else {
			result.Outcome.Fail(record.Key(), messageOr(status.Message, msgRejected))
		}
	}
	return nil
}

func (s *LifecycleService) pack(
	ctx context.Context,
	eligible []domain.DeliveryRecord,
	opts SubmitOptions,
	result *Result,
) error {
	planExpiry, failures := s.resolver.Resolve(ctx, eligible)
	s.metrics.AddPlanLookupFailures(len(failures))
	for _, failure := range failures {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"plan expiry for enrollee %s could not be loaded; schedule not adjusted: %v",
			failure.EnrolleeID, failure.Err))
	}

	result.Adjustments = s.calculator.Adjust(opts.RequestedMonths, eligible, planExpiry, schedule.Unresolved(failures))
	adjustments := schedule.Index(result.Adjustments)

	lines := make([]backend.PackLine, 0, len(eligible))
	for _, record := range eligible {
		adj := adjustments[strings.TrimSpace(record.EnrolleeID)]
		procedures := record.Procedures
		if record.Frequency == domain.FrequencyRoutine {
			procedures = schedule.ScaleProcedures(record.Procedures, adj)
		}
		lines = append(lines, backend.PackLine{
			EntryNo:      record.EntryNo,
			PackedBy:     opts.Actor,
			Notes:        opts.Notes,
			NextPackDate: adj.AdjustedDate,
			PharmacyID:   opts.PharmacyID,
			Procedures:   procedures,
		})
	}

	statuses, err := s.backend.PackDeliveryLines(ctx, lines)
	if err != nil {
		return err
	}
	classify(&result.Outcome, eligible, statuses, "packed")

	s.emitPackSideEffects(ctx, eligible, adjustments, opts, result)
	return nil
}

func (s *LifecycleService) send(
	ctx context.Context,
	eligible []domain.DeliveryRecord,
	opts SubmitOptions,
	result *Result,
) error {
	lines := make([]backend.SendLine, 0, len(eligible))
	for _, record := range eligible {
		lines = append(lines, backend.SendLine{EntryNo: record.EntryNo, SentBy: opts.Actor, Notes: opts.Notes})
	}

	statuses, err := s.backend.SendDeliveryLines(ctx, lines)
	if err != nil {
		return err
	}
	classify(&result.Outcome, eligible, statuses, "sent for delivery")

	s.emitSendSideEffects(ctx, eligible, result)
	return nil
}

func (s *LifecycleService) deliver(
	ctx context.Context,
	eligible []domain.DeliveryRecord,
	opts SubmitOptions,
	result *Result,
) error {
	lines := make([]backend.DeliverLine, 0, len(eligible))
	for _, record := range eligible {
		lines = append(lines, backend.DeliverLine{EntryNo: record.EntryNo, DeliveredBy: opts.Actor, Notes: opts.Notes})
	}

	statuses, err := s.backend.DeliverDeliveryLines(ctx, lines)
	if err != nil {
		return err
	}
	classify(&result.Outcome, eligible, statuses, "delivered")
	return nil
}

func (s *LifecycleService) claim(
	ctx context.Context,
	eligible []domain.DeliveryRecord,
	opts SubmitOptions,
	result *Result,
) error {
	lines := make([]backend.ClaimLine, 0, len(eligible))
	for _, record := range eligible {
		lines = append(lines, backend.ClaimLine{
			EntryNo:     record.EntryNo,
			DeliveryID:  record.DeliveryID,
			EnrolleeID:  record.EnrolleeID,
			RequestedBy: opts.Actor,
		})
	}

	statuses, err := s.backend.CreateClaimRequests(ctx, lines)
	if err != nil {
		return err
	}

	for i, record := range eligible {
		if i >= len(statuses) {
			result.Outcome.Fail(record.Key(), msgNoResult)
			continue
		}
		status := statuses[i]
		if !status.OK {
			result.Outcome.Fail(record.Key(), messageOr(status.Message, msgRejected))
			continue
		}
		msg := messageOr(status.Message, "claim created")
		if status.Reference != "" {
			msg = fmt.Sprintf("claim %s created", status.Reference)
		}
		result.Outcome.Succeed(record.Key(), msg)
	}
	return nil
}

// delete issues one call per item, so a transport failure only fails the
// item it happened on.
func (s *LifecycleService) delete(ctx context.Context, eligible []domain.DeliveryRecord, result *Result) {
	for _, record := range eligible {
		line, ok := deleteLineFor(record)
		if !ok {
			msg := msgNoProcedureIDs
			if strings.TrimSpace(record.DeliveryID) == "" {
				msg = msgNoDeliveryID
			}
			result.Outcome.Fail(record.Key(), msg)
			continue
		}

		status, err := s.backend.DeleteDeliveryLine(ctx, line)
		switch {
		case err != nil:
			result.Outcome.Fail(record.Key(), err.Error())
		case status.OK:
			result.Outcome.Succeed(record.Key(), messageOr(status.Message, "deleted"))
		default:
			result.Outcome.Fail(record.Key(), messageOr(status.Message, msgRejected))
		}
	}
}

// FindDuplicates reports active deliveries of the enrollee that already carry
// one of the proposed procedures.
func (s *LifecycleService) FindDuplicates(
	ctx context.Context,
	enrolleeID string,
	proposed []domain.ProcedureLine,
) ([]domain.DeliveryRecord, error) {
	if s.detector == nil {
		return nil, nil
	}
	return s.detector.FindDuplicates(ctx, enrolleeID, proposed)
}

// CreateDelivery submits a new delivery. Existing duplicates block creation
// with domain.ErrConflict unless confirmDuplicate is set.
func (s *LifecycleService) CreateDelivery(
	ctx context.Context,
	d domain.DeliveryRecord,
	confirmDuplicate bool,
) (CreateOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.ValidateForCreate(); err != nil {
		return CreateOutcome{}, err
	}
	d.CreatedBy = s.actor(d.CreatedBy)

	duplicates, err := s.FindDuplicates(ctx, d.EnrolleeID, d.Procedures)
	if err != nil {
		return CreateOutcome{}, fmt.Errorf("failed to check for duplicate deliveries: %w", err)
	}
	out := CreateOutcome{Duplicates: duplicates}
	if len(duplicates) > 0 && !confirmDuplicate {
		return out, fmt.Errorf("%w: enrollee %s already has %d active deliveries with the same procedure",
			domain.ErrConflict, d.EnrolleeID, len(duplicates))
	}

	created, err := s.backend.CreateDelivery(ctx, d, confirmDuplicate)
	if err != nil {
		return out, err
	}
	out.DeliveryID = created.DeliveryID
	out.Message = created.Message

	observability.WithContextLogger(s.logger, ctx).Info("delivery created",
		zap.String("deliveryId", created.DeliveryID),
		zap.String("enrolleeId", d.EnrolleeID),
		zap.Int("duplicates", len(duplicates)),
	)
	return out, nil
}

func (s *LifecycleService) actor(requested string) string {
	if actor := strings.TrimSpace(requested); actor != "" {
		return actor
	}
	return s.defaultActor
}

func validateOptions(action domain.Action, opts SubmitOptions) error {
	if action != domain.ActionPack {
		return nil
	}
	if strings.TrimSpace(opts.PharmacyID) == "" {
		return fmt.Errorf("%w: a pharmacy must be selected before packing", domain.ErrValidation)
	}
	return schedule.ValidateRequestedMonths(opts.RequestedMonths)
}

// classify matches per-item statuses to items by position. Items without a
// status are failed.
func classify(
	outcome *domain.BatchOutcome,
	items []domain.DeliveryRecord,
	statuses []backend.ItemStatus,
	successMessage string,
) {
	for i, item := range items {
		if i >= len(statuses) {
			outcome.Fail(item.Key(), msgNoResult)
			continue
		}
		if statuses[i].OK {
			outcome.Succeed(item.Key(), messageOr(statuses[i].Message, successMessage))
		} else {
			outcome.Fail(item.Key(), messageOr(statuses[i].Message, msgRejected))
		}
	}
}

func deleteLineFor(record domain.DeliveryRecord) (backend.DeleteLine, bool) {
	line := backend.DeleteLine{DeliveryID: strings.TrimSpace(record.DeliveryID)}
	if line.DeliveryID == "" {
		return line, false
	}
	if len(record.Procedures) > 0 {
		line.ProcedureID = strings.TrimSpace(record.Procedures[0].ID)
	}
	if len(record.Diagnoses) > 0 {
		line.DiagnosisID = strings.TrimSpace(record.Diagnoses[0].ID)
	}
	return line, line.ProcedureID != "" || line.DiagnosisID != ""
}

func messageOr(message, fallback string) string {
	if m := strings.TrimSpace(message); m != "" {
		return m
	}
	return fallback
}

func pastTense(action domain.Action) string {
	switch action {
	case domain.ActionApprove:
		return "approved"
	case domain.ActionPack:
		return "packed"
	case domain.ActionSend:
		return "sent"
	case domain.ActionDeliver:
		return "delivered"
	case domain.ActionClaim:
		return "claimed"
	case domain.ActionDelete:
		return "deleted"
	}
	return strings.ToLower(action.String())
}

// IsPartial reports whether err only signals that some items failed.
func IsPartial(err error) bool {
	return errors.Is(err, domain.ErrPartialBatch)
}
