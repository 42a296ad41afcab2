package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"github.com/kursadbilgin/delivery-tracker/internal/schedule"
	"go.uber.org/zap"
)

type noticeProcedure struct {
	ID       string `json:"procedureId"`
	Name     string `json:"procedureName,omitempty"`
	Quantity int    `json:"quantity"`
	Dosage   string `json:"dosage,omitempty"`
}

type noticeDelivery struct {
	EntryNo    int               `json:"entryNo"`
	DeliveryID string            `json:"deliveryId,omitempty"`
	Procedures []noticeProcedure `json:"procedures,omitempty"`
}

type packNotice struct {
	EnrolleeID       string           `json:"enrolleeId"`
	EnrolleeName     string           `json:"enrolleeName,omitempty"`
	PharmacyID       string           `json:"pharmacyId"`
	DeliveryAddress  string           `json:"deliveryAddress,omitempty"`
	NextDeliveryDate string           `json:"nextDeliveryDate,omitempty"`
	RequestedMonths  int              `json:"requestedMonths"`
	AdjustedMonths   int              `json:"adjustedMonths"`
	IsAdjusted       bool             `json:"isAdjusted"`
	PackedBy         string           `json:"packedBy,omitempty"`
	Deliveries       []noticeDelivery `json:"deliveries"`
}

type dispatchNotice struct {
	PhoneNumber  string `json:"phoneNumber"`
	EnrolleeID   string `json:"enrolleeId"`
	EnrolleeName string `json:"enrolleeName,omitempty"`
	EntryNos     []int  `json:"entryNos"`
}

// enrolleeGroup collects the committed deliveries of one enrollee in
// first-seen order.
type enrolleeGroup struct {
	enrolleeID string
	records    []domain.DeliveryRecord
}

// emitPackSideEffects queues one email and one delivery note per enrollee
// whose deliveries were packed. Failures become warnings; the pack stands.
func (s *LifecycleService) emitPackSideEffects(
	ctx context.Context,
	eligible []domain.DeliveryRecord,
	adjustments map[string]domain.DeliveryAdjustment,
	opts SubmitOptions,
	result *Result,
) {
	if s.sideEffects == nil {
		return
	}
	correlationID := correlationIDFor(ctx)

	for _, group := range groupSucceeded(eligible, result.Outcome) {
		adj := adjustments[group.enrolleeID]
		first := group.records[0]
		notice := packNotice{
			EnrolleeID:      group.enrolleeID,
			EnrolleeName:    first.EnrolleeName,
			PharmacyID:      opts.PharmacyID,
			DeliveryAddress: first.DeliveryAddress,
			RequestedMonths: adj.RequestedMonths,
			AdjustedMonths:  adj.AdjustedMonths,
			IsAdjusted:      adj.IsAdjusted,
			PackedBy:        opts.Actor,
		}
		if !adj.AdjustedDate.IsZero() {
			notice.NextDeliveryDate = adj.AdjustedDate.Format(time.DateOnly)
		}
		for _, record := range group.records {
			procedures := record.Procedures
			if record.Frequency == domain.FrequencyRoutine {
				procedures = schedule.ScaleProcedures(record.Procedures, adj)
			}
			notice.Deliveries = append(notice.Deliveries, noticeDelivery{
				EntryNo:    record.EntryNo,
				DeliveryID: record.DeliveryID,
				Procedures: toNoticeProcedures(procedures),
			})
		}

		entryNos := entryNosOf(group.records)
		s.emit(ctx, result, domain.SideEffect{
			CorrelationID: correlationID,
			Kind:          domain.KindEmail,
			Action:        domain.ActionPack,
			EnrolleeID:    group.enrolleeID,
			EntryNos:      entryNos,
			Recipient:     strings.TrimSpace(first.EnrolleeEmail),
		}, notice)
		s.emit(ctx, result, domain.SideEffect{
			CorrelationID: correlationID,
			Kind:          domain.KindDeliveryNote,
			Action:        domain.ActionPack,
			EnrolleeID:    group.enrolleeID,
			EntryNos:      entryNos,
			Recipient:     strings.TrimSpace(opts.PharmacyID),
		}, notice)
	}
}

// emitSendSideEffects queues one SMS per distinct phone number among the
// deliveries that left for dispatch.
func (s *LifecycleService) emitSendSideEffects(ctx context.Context, eligible []domain.DeliveryRecord, result *Result) {
	if s.sideEffects == nil {
		return
	}
	correlationID := correlationIDFor(ctx)

	succeeded := keySet(result.Outcome.SucceededKeys())
	order := make([]string, 0, len(eligible))
	byPhone := make(map[string]*dispatchNotice, len(eligible))
	for _, record := range eligible {
		if _, ok := succeeded[record.Key()]; !ok {
			continue
		}
		phone := strings.TrimSpace(record.PhoneNumber)
		if phone == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("delivery %d has no phone number; dispatch SMS skipped", record.EntryNo))
			continue
		}
		notice, ok := byPhone[phone]
		if !ok {
			notice = &dispatchNotice{
				PhoneNumber:  phone,
				EnrolleeID:   strings.TrimSpace(record.EnrolleeID),
				EnrolleeName: record.EnrolleeName,
			}
			byPhone[phone] = notice
			order = append(order, phone)
		}
		notice.EntryNos = append(notice.EntryNos, record.EntryNo)
	}

	for _, phone := range order {
		notice := byPhone[phone]
		s.emit(ctx, result, domain.SideEffect{
			CorrelationID: correlationID,
			Kind:          domain.KindSMS,
			Action:        domain.ActionSend,
			EnrolleeID:    notice.EnrolleeID,
			EntryNos:      notice.EntryNos,
			Recipient:     phone,
		}, notice)
	}
}

func (s *LifecycleService) emit(ctx context.Context, result *Result, sideEffect domain.SideEffect, payload any) {
	logger := observability.WithContextLogger(s.logger, ctx)

	fail := func(err error) {
		err = fmt.Errorf("%w: %s for enrollee %s: %v", domain.ErrSideEffect,
			strings.ToLower(sideEffect.Kind.String()), sideEffect.EnrolleeID, err)
		logger.Warn("side effect not queued",
			zap.String("kind", sideEffect.Kind.String()),
			zap.String("enrolleeId", sideEffect.EnrolleeID),
			zap.Error(err),
		)
		result.Warnings = append(result.Warnings, err.Error())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		fail(fmt.Errorf("failed to encode payload: %w", err))
		return
	}
	sideEffect.Payload = string(body)

	created, err := s.sideEffects.Create(ctx, &sideEffect)
	if err != nil {
		fail(err)
		return
	}
	result.SideEffects = append(result.SideEffects, *created)
}

func groupSucceeded(eligible []domain.DeliveryRecord, outcome domain.BatchOutcome) []enrolleeGroup {
	succeeded := keySet(outcome.SucceededKeys())
	index := make(map[string]int, len(eligible))
	var groups []enrolleeGroup
	for _, record := range eligible {
		if _, ok := succeeded[record.Key()]; !ok {
			continue
		}
		enrolleeID := strings.TrimSpace(record.EnrolleeID)
		i, ok := index[enrolleeID]
		if !ok {
			i = len(groups)
			index[enrolleeID] = i
			groups = append(groups, enrolleeGroup{enrolleeID: enrolleeID})
		}
		groups[i].records = append(groups[i].records, record)
	}
	return groups
}

func toNoticeProcedures(lines []domain.ProcedureLine) []noticeProcedure {
	out := make([]noticeProcedure, 0, len(lines))
	for _, line := range lines {
		out = append(out, noticeProcedure{
			ID:       line.ID,
			Name:     line.Name,
			Quantity: line.Quantity,
			Dosage:   line.DosageDescription,
		})
	}
	return out
}

func entryNosOf(records []domain.DeliveryRecord) []int {
	out := make([]int, 0, len(records))
	for _, record := range records {
		out = append(out, record.EntryNo)
	}
	return out
}

func keySet(keys []int) map[int]struct{} {
	set := make(map[int]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}

func correlationIDFor(ctx context.Context) string {
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		return correlationID
	}
	return uuid.NewString()
}
