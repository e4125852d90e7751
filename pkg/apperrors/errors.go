package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrBadInput          = errors.New("bad input")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceTimeout     = errors.New("source timeout")
	ErrSourceRejected    = errors.New("source rejected request")
	ErrDecode            = errors.New("decode error")
	ErrInternal          = errors.New("internal error")
)

// ParameterError reports a query parameter that failed binding or validation.
type ParameterError struct {
	Name   string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Name, e.Reason)
}

// BadParameter builds a ParameterError for the named parameter.
func BadParameter(name, reason string) error {
	return &ParameterError{Name: name, Reason: reason}
}

// AsParameterError unwraps err into a ParameterError if it carries one.
func AsParameterError(err error) (*ParameterError, bool) {
	var pe *ParameterError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Kind is the wire-level error code surfaced to API callers.
type Kind string

const (
	KindBadInput          Kind = "BAD_INPUT"
	KindBadParameter      Kind = "BAD_PARAMETER"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindSourceUnavailable Kind = "SOURCE_UNAVAILABLE"
	KindSourceTimeout     Kind = "SOURCE_TIMEOUT"
	KindSourceRejected    Kind = "SOURCE_REJECTED"
	KindDecodeError       Kind = "DECODE_ERROR"
	KindInternal          Kind = "INTERNAL"
)

// KindOf classifies an error into its wire kind. Unrecognized errors are
// reported as KindInternal so cause details never leak to callers.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrBadInput):
		return KindBadInput
	case errors.Is(err, ErrSourceTimeout):
		return KindSourceTimeout
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrSourceRejected):
		return KindSourceRejected
	case errors.Is(err, ErrDecode):
		return KindDecodeError
	default:
		if _, ok := AsParameterError(err); ok {
			return KindBadParameter
		}
		return KindInternal
	}
}

// HTTPStatus maps an error kind to the status code the API returns.
func HTTPStatus(k Kind) int {
	switch k {
	case KindBadInput, KindBadParameter:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindSourceUnavailable, KindSourceTimeout:
		return 503
	default:
		return 500
	}
}
