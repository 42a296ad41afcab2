// Package search turns the operator's search mode and term into a backend
// query plus a local predicate over the fetched rows.
package search

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

type Mode string

const (
	ModeByEnrollee Mode = "BY_ENROLLEE"
	ModeByPharmacy Mode = "BY_PHARMACY"
	ModeByRegion   Mode = "BY_REGION"
)

func (m Mode) String() string { return string(m) }

func (m Mode) IsValid() bool {
	switch m {
	case ModeByEnrollee, ModeByPharmacy, ModeByRegion:
		return true
	}
	return false
}

func ParseModeFromString(s string) (Mode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	if !strings.HasPrefix(normalized, "BY_") {
		normalized = "BY_" + normalized
	}
	m := Mode(normalized)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid search mode %q", domain.ErrValidation, s)
	}
	return m, nil
}

// Criteria is the full filter context of one result set.
type Criteria struct {
	Mode       Mode
	Term       string
	ActionType string
	FromDate   time.Time
	ToDate     time.Time
}

// ServerQuery returns the part of the criteria evaluated by the backend.
// Only ID-like enrollee terms are pushed down; names are matched locally.
func (c Criteria) ServerQuery() domain.TrackingQuery {
	q := domain.TrackingQuery{
		ActionType: c.ActionType,
		FromDate:   c.FromDate,
		ToDate:     c.ToDate,
	}
	if c.Mode == ModeByEnrollee && IsIDLike(c.Term) {
		q.EnrolleeID = strings.TrimSpace(c.Term)
	}
	return q
}

// Predicate returns the local filter for rows already fetched with ServerQuery.
func (c Criteria) Predicate() func(domain.DeliveryRecord) bool {
	term := strings.ToLower(strings.TrimSpace(c.Term))
	if term == "" {
		return func(domain.DeliveryRecord) bool { return true }
	}

	switch c.Mode {
	case ModeByPharmacy:
		return func(d domain.DeliveryRecord) bool {
			return contains(d.PharmacyName, term) || strings.EqualFold(strings.TrimSpace(d.PharmacyID), term)
		}
	case ModeByRegion:
		return func(d domain.DeliveryRecord) bool {
			return contains(d.Region, term) || contains(d.DeliveryAddress, term)
		}
	default:
		if IsIDLike(term) {
			// Already narrowed by the backend; keep exact matches only.
			return func(d domain.DeliveryRecord) bool {
				return strings.EqualFold(strings.TrimSpace(d.EnrolleeID), term)
			}
		}
		return func(d domain.DeliveryRecord) bool {
			return contains(d.EnrolleeName, term)
		}
	}
}

// Filter returns the rows matching the local predicate, preserving order.
func (c Criteria) Filter(rows []domain.DeliveryRecord) []domain.DeliveryRecord {
	match := c.Predicate()
	out := make([]domain.DeliveryRecord, 0, len(rows))
	for _, row := range rows {
		if match(row) {
			out = append(out, row)
		}
	}
	return out
}

// IsIDLike reports whether term looks like an enrollee number rather than a
// name: a single token containing at least one digit.
func IsIDLike(term string) bool {
	term = strings.TrimSpace(term)
	if term == "" {
		return false
	}
	hasDigit := false
	for _, r := range term {
		if unicode.IsSpace(r) {
			return false
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	return hasDigit
}

func contains(value, lowerTerm string) bool {
	return strings.Contains(strings.ToLower(value), lowerTerm)
}
