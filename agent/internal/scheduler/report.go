package scheduler

import (
	"errors"

	"github.com/obsidianstack/beacon/agent/internal/transport"
)

// retryable reports whether a failed client report should be merged back
// into the pending counts. Reports the server rejected or answered are not
// resent.
func retryable(err error) bool {
	return errors.Is(err, transport.ErrRateLimited) ||
		errors.Is(err, transport.ErrTooManyRetries) ||
		errors.Is(err, transport.ErrRequestFailure)
}
