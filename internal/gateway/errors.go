package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for upstream API failure modes.
var (
	// ErrUnauthorized means the API key was rejected (HTTP 403). Fatal to
	// further gateway calls until the credential is fixed.
	ErrUnauthorized = errors.New("gateway: invalid API key")

	// ErrInsufficientFunds means the upstream reported a balance-bound
	// failure for this call (HTTP 402). A normal condition, not an error in
	// the operational sense.
	ErrInsufficientFunds = errors.New("gateway: insufficient balance")

	// ErrNotFound means the referenced resource does not exist (HTTP 404).
	ErrNotFound = errors.New("gateway: resource not found")

	// ErrRateLimited means the upstream throttled the request (HTTP 429).
	ErrRateLimited = errors.New("gateway: rate limited")
)

// TransientError wraps connection and timeout failures. The outcome of the
// upstream call is unknown; callers retry only on the next scheduled cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway: transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
