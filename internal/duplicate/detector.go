// Package duplicate flags proposed deliveries that overlap an enrollee's
// still-active deliveries.
package duplicate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/schedule"
)

// DeliverySource returns every known delivery for an enrollee.
type DeliverySource interface {
	EnrolleeDeliveries(ctx context.Context, enrolleeID string) ([]domain.DeliveryRecord, error)
}

type Detector struct {
	source DeliverySource
	now    func() time.Time
}

func NewDetector(source DeliverySource, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{source: source, now: now}
}

// FindDuplicates fetches the enrollee's deliveries and returns those that
// would be duplicated by proposed.
func (d *Detector) FindDuplicates(
	ctx context.Context,
	enrolleeID string,
	proposed []domain.ProcedureLine,
) ([]domain.DeliveryRecord, error) {
	enrolleeID = strings.TrimSpace(enrolleeID)
	if enrolleeID == "" {
		return nil, fmt.Errorf("%w: enrollee id is required", domain.ErrValidation)
	}
	if len(proposed) == 0 {
		return nil, nil
	}

	existing, err := d.source.EnrolleeDeliveries(ctx, enrolleeID)
	if err != nil {
		return nil, fmt.Errorf("load deliveries for enrollee %s: %w", enrolleeID, err)
	}
	return Find(existing, enrolleeID, proposed, d.now()), nil
}

// Find is the pure matching rule: same enrollee, not cancelled or failed,
// active past today, and at least one shared procedure ID. A delivery with no
// known end never expires.
func Find(
	existing []domain.DeliveryRecord,
	enrolleeID string,
	proposed []domain.ProcedureLine,
	now time.Time,
) []domain.DeliveryRecord {
	today := schedule.DateOnly(now)
	out := make([]domain.DeliveryRecord, 0)
	for _, d := range existing {
		if !strings.EqualFold(strings.TrimSpace(d.EnrolleeID), enrolleeID) {
			continue
		}
		if d.Status == domain.StatusCancelled || d.Status == domain.StatusFailed {
			continue
		}
		if end := activeUntil(d, today.Location()); !end.IsZero() && !end.After(today) {
			continue
		}
		if sharesProcedure(d, proposed) {
			out = append(out, d)
		}
	}
	return out
}

func sharesProcedure(d domain.DeliveryRecord, proposed []domain.ProcedureLine) bool {
	for _, p := range proposed {
		if d.HasProcedure(p.ID) {
			return true
		}
	}
	return false
}

// activeUntil is the calendar day a delivery stops being active. Routine
// deliveries without an explicit end run for their configured duration.
func activeUntil(d domain.DeliveryRecord, loc *time.Location) time.Time {
	switch {
	case !d.EndDate.IsZero():
		return schedule.DateIn(d.EndDate, loc)
	case d.Frequency == domain.FrequencyRoutine && !d.StartDate.IsZero() && d.FrequencyDurationMonths > 0:
		return schedule.AddMonths(schedule.DateIn(d.StartDate, loc), d.FrequencyDurationMonths)
	default:
		return time.Time{}
	}
}
