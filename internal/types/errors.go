package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error the core produces; each kind maps to a
// well-known HTTP status.
type Kind string

const (
	KindNotFound                 Kind = "not_found"
	KindUnauthorized             Kind = "unauthorized"
	KindValidation               Kind = "validation"
	KindConflict                 Kind = "conflict"
	KindConcurrentCalculation    Kind = "concurrent_calculation"
	KindConcurrentRatingUpdate   Kind = "concurrent_rating_update"
	KindInsufficientParticipants Kind = "insufficient_participants"
	KindInsufficientTeams        Kind = "insufficient_teams"
	KindELOProcessing            Kind = "elo_processing_error"
	KindInternal                 Kind = "internal"
)

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Message string
	Field   string // optional field name for validation errors
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf reports a missing entity.
func NotFoundf(format string, args ...any) *Error { return E(KindNotFound, format, args...) }

// Unauthorizedf reports a permission failure.
func Unauthorizedf(format string, args ...any) *Error { return E(KindUnauthorized, format, args...) }

// Conflictf reports a state that precludes the operation.
func Conflictf(format string, args ...any) *Error { return E(KindConflict, format, args...) }

// Validationf reports bad input on a specific field.
func Validationf(field, format string, args ...any) *Error {
	e := E(KindValidation, format, args...)
	e.Field = field
	return e
}

// Internalf wraps an unclassified failure.
func Internalf(err error, format string, args ...any) *Error {
	e := E(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf extracts the kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindValidation, KindInsufficientParticipants, KindInsufficientTeams:
		return http.StatusBadRequest
	case KindConflict, KindConcurrentCalculation, KindConcurrentRatingUpdate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
