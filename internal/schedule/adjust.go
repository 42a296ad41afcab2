// Package schedule computes pack dates and deliverable months for refills,
// bounded by each enrollee's plan expiry.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

const (
	MinRequestedMonths = 1
	MaxRequestedMonths = 12
)

func ValidateRequestedMonths(months int) error {
	if months < MinRequestedMonths || months > MaxRequestedMonths {
		return fmt.Errorf("%w: requested months must be between %d and %d (got %d)",
			domain.ErrValidation, MinRequestedMonths, MaxRequestedMonths, months)
	}
	return nil
}

// Calculator reconciles a requested refill interval with boundary dates.
type Calculator struct {
	now func() time.Time
}

func NewCalculator(now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{now: now}
}

// Adjust returns one adjustment per distinct enrollee, in first-seen order.
// An enrollee's boundary is the earlier of its entry in planExpiry and the
// earliest end date among its routine deliveries. Enrollees with neither, and
// enrollees listed in unresolved, are passed through unadjusted.
//
// Boundary dates are compared by calendar day in the calculator's zone,
// whatever zone they were parsed in.
func (c *Calculator) Adjust(
	requestedMonths int,
	selections []domain.DeliveryRecord,
	planExpiry map[string]time.Time,
	unresolved map[string]struct{},
) []domain.DeliveryAdjustment {
	today := DateOnly(c.now())
	loc := today.Location()
	proposed := AddMonths(today, requestedMonths)

	order := make([]string, 0, len(selections))
	boundaries := make(map[string]time.Time, len(selections))
	for _, d := range selections {
		enrolleeID := strings.TrimSpace(d.EnrolleeID)
		if _, seen := boundaries[enrolleeID]; !seen {
			order = append(order, enrolleeID)
			boundaries[enrolleeID] = time.Time{}
			if expiry, ok := planExpiry[enrolleeID]; ok && !expiry.IsZero() {
				boundaries[enrolleeID] = DateIn(expiry, loc)
			}
		}
		if d.Frequency != domain.FrequencyRoutine || d.EndDate.IsZero() {
			continue
		}
		end := DateIn(d.EndDate, loc)
		if current := boundaries[enrolleeID]; current.IsZero() || end.Before(current) {
			boundaries[enrolleeID] = end
		}
	}

	adjustments := make([]domain.DeliveryAdjustment, 0, len(order))
	for _, enrolleeID := range order {
		boundary := boundaries[enrolleeID]
		if _, skip := unresolved[enrolleeID]; skip {
			boundary = time.Time{}
		}
		adjustments = append(adjustments, adjustOne(enrolleeID, requestedMonths, today, proposed, boundary))
	}
	return adjustments
}

func adjustOne(enrolleeID string, requested int, today, proposed, boundary time.Time) domain.DeliveryAdjustment {
	adj := domain.DeliveryAdjustment{
		EnrolleeID:      enrolleeID,
		RequestedMonths: requested,
		AdjustedMonths:  requested,
		AdjustedDate:    proposed,
		BoundaryDate:    boundary,
	}
	if boundary.IsZero() || !proposed.After(boundary) {
		return adj
	}

	// Boundaries today or in the past still yield one month; kept pending
	// product clarification on whether that grace is intended.
	months := WholeMonthsBetween(today, boundary)
	months = max(months, 1)
	months = min(months, max(requested, 1))

	adj.AdjustedDate = boundary
	adj.AdjustedMonths = months
	adj.IsAdjusted = true
	return adj
}

// ScaleProcedures returns copies of lines with quantities multiplied by the
// months actually deliverable.
func ScaleProcedures(lines []domain.ProcedureLine, adj domain.DeliveryAdjustment) []domain.ProcedureLine {
	scaled := make([]domain.ProcedureLine, len(lines))
	for i, line := range lines {
		scaled[i] = line
		scaled[i].Quantity = adj.EffectiveQuantity(line.Quantity)
	}
	return scaled
}

// Index maps adjustments by enrollee ID.
func Index(adjustments []domain.DeliveryAdjustment) map[string]domain.DeliveryAdjustment {
	out := make(map[string]domain.DeliveryAdjustment, len(adjustments))
	for _, adj := range adjustments {
		out[adj.EnrolleeID] = adj
	}
	return out
}
