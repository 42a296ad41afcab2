package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// Engine holds the current criteria and page of a result set. Every filter
// change resets the page to 1. Not safe for concurrent use.
type Engine struct {
	criteria Criteria
	page     int
}

func NewEngine() *Engine {
	return &Engine{
		criteria: Criteria{Mode: ModeByEnrollee},
		page:     1,
	}
}

func (e *Engine) Criteria() Criteria { return e.criteria }

func (e *Engine) Page() int { return e.page }

// Update is a partial change of criteria. Nil fields are left as they are.
type Update struct {
	Mode       *Mode
	Term       *string
	ActionType *string
	FromDate   *time.Time
	ToDate     *time.Time
}

// Apply validates u against the current criteria and commits it only if the
// result is valid. A mode change clears the term unless u sets a new one.
func (e *Engine) Apply(u Update) error {
	next := e.criteria
	if u.Mode != nil {
		if !u.Mode.IsValid() {
			return fmt.Errorf("%w: invalid search mode %q", domain.ErrValidation, *u.Mode)
		}
		next.Mode = *u.Mode
		next.Term = ""
	}
	if u.Term != nil {
		next.Term = strings.TrimSpace(*u.Term)
	}
	if u.ActionType != nil {
		next.ActionType = strings.TrimSpace(*u.ActionType)
	}
	if u.FromDate != nil {
		next.FromDate = *u.FromDate
	}
	if u.ToDate != nil {
		next.ToDate = *u.ToDate
	}
	if !next.FromDate.IsZero() && !next.ToDate.IsZero() && next.ToDate.Before(next.FromDate) {
		return fmt.Errorf("%w: to date %s is before from date %s",
			domain.ErrValidation, next.ToDate.Format(time.DateOnly), next.FromDate.Format(time.DateOnly))
	}

	e.criteria = next
	e.page = 1
	return nil
}

// SetMode switches the search mode and clears the term. The caller owns the
// selection and must clear it too.
func (e *Engine) SetMode(mode Mode) error {
	return e.Apply(Update{Mode: &mode})
}

func (e *Engine) SetTerm(term string) {
	_ = e.Apply(Update{Term: &term})
}

func (e *Engine) SetDateRange(from, to time.Time) error {
	return e.Apply(Update{FromDate: &from, ToDate: &to})
}

func (e *Engine) SetActionType(actionType string) {
	_ = e.Apply(Update{ActionType: &actionType})
}

func (e *Engine) SetPage(page int) {
	e.page = max(page, 1)
}

// Page is one window of a locally paginated result set.
type Page struct {
	Rows       []domain.DeliveryRecord
	Number     int
	Size       int
	TotalRows  int
	TotalPages int
}

// Paginate slices rows into the requested page, clamping the page number to
// the available range.
func Paginate(rows []domain.DeliveryRecord, page, size int) Page {
	if size < 1 {
		size = 1
	}
	total := len(rows)
	totalPages := (total + size - 1) / size
	page = max(page, 1)
	if page > totalPages {
		page = max(totalPages, 1)
	}

	start := min((page-1)*size, total)
	end := min(start+size, total)
	return Page{
		Rows:       rows[start:end],
		Number:     page,
		Size:       size,
		TotalRows:  total,
		TotalPages: totalPages,
	}
}
