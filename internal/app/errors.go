package app

import (
	"errors"
	"fmt"
	"net/http"

	"pinboard/api/internal/follow"
	"pinboard/api/internal/lifecycle"
	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
	"pinboard/api/internal/visibility"
)

const (
	codeDegenerateRange   = "DEGENERATE_RANGE"
	codeInvalidTransition = "INVALID_STATE_TRANSITION"
	codeNotFound          = "NOT_FOUND"
	codeConflict          = "CONCURRENCY_CONFLICT"
	codeForbidden         = "FORBIDDEN"
	codeValidation        = "VALIDATION_ERROR"
	codeUnauthorized      = "UNAUTHORIZED"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// notFound is the single answer for missing, private and trashed resources so
// callers cannot probe for existence.
func notFound() *DomainError {
	return domainError(http.StatusNotFound, codeNotFound, "Not found", nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, codeForbidden, message, nil)
}

func validation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, codeValidation, message, nil)
}

func invalidTransition(message string) *DomainError {
	return domainError(http.StatusConflict, codeInvalidTransition, message, nil)
}

// translate maps domain and store errors onto the caller-facing taxonomy.
// Anything it does not recognise is returned unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	var out *DomainError
	switch {
	case errors.Is(err, ordering.ErrDegenerateRange):
		out = domainError(http.StatusBadRequest, codeDegenerateRange, "Invalid ordering bounds", nil)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		out = invalidTransition(err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, visibility.ErrNotFound):
		out = notFound()
	case errors.Is(err, store.ErrConflict), errors.Is(err, visibility.ErrTokenSpaceExhausted), errors.Is(err, ordering.ErrPrecisionExhausted):
		out = domainError(http.StatusConflict, codeConflict, "Concurrent modification, retry the request", nil)
	case errors.Is(err, follow.ErrSelfFollow):
		out = validation(err.Error())
	default:
		return err
	}
	out.Err = err
	return out
}
