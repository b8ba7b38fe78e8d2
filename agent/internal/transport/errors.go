package transport

import (
	"errors"
	"fmt"

	"github.com/obsidianstack/beacon/pkg/types"
)

// Sentinel errors matched by errors.Is against a *SendError.
var (
	ErrRateLimited       = errors.New("transport: rate limited")
	ErrServerError       = errors.New("transport: rejected by server")
	ErrRequestFailure    = errors.New("transport: request failed")
	ErrTooManyRetries    = errors.New("transport: retries exhausted")
	ErrMalformedResponse = errors.New("transport: malformed response")
)

// SendError describes a terminal delivery failure.
type SendError struct {
	Reason types.DiscardReason
	// StatusCode is the last HTTP status received, 0 if none.
	StatusCode int
	Attempts   int
	Err        error
}

func (e *SendError) Error() string {
	msg := fmt.Sprintf("transport: %s after %d attempt(s)", e.Reason, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SendError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := sentinel(e.Reason); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func sentinel(r types.DiscardReason) error {
	switch r {
	case types.ReasonRateLimited:
		return ErrRateLimited
	case types.ReasonServerError:
		return ErrServerError
	case types.ReasonRequestFailure:
		return ErrRequestFailure
	case types.ReasonTooManyRetries:
		return ErrTooManyRetries
	case types.ReasonMalformedResponse:
		return ErrMalformedResponse
	}
	return nil
}

// Reason extracts the discard reason from err, or "" when err is not a
// *SendError.
func Reason(err error) types.DiscardReason {
	var se *SendError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}
