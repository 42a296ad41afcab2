package domain

import "errors"

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrNetwork      = errors.New("network error")
	ErrPartialBatch = errors.New("partial batch failure")
	ErrSideEffect   = errors.New("side effect failure")
)
