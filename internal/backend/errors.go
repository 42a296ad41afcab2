package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// CallError is a failed call to the delivery backend. It always matches
// domain.ErrNetwork under errors.Is.
type CallError struct {
	Op         string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *CallError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "backend "+e.Op)

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *CallError) Is(target error) bool {
	return target == domain.ErrNetwork
}

// IsTransient reports whether a backend failure may succeed if the operator
// retries it later.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
