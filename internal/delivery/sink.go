// Package delivery defines the outbound message contract and retry policy.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Reason classifies a failed delivery.
type Reason string

const (
	Blocked      Reason = "blocked"
	RateLimited  Reason = "rate_limited"
	NetworkError Reason = "network_error"
	Unknown      Reason = "unknown"
)

// Sink sends a message to a user.
type Sink interface {
	Send(ctx context.Context, userID int64, text string) error
}

// Failure is the error returned by a Sink.
type Failure struct {
	Reason     Reason
	RetryAfter time.Duration // zero when the sink gave no hint
	Err        error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "delivery " + string(f.Reason)
	}
	return fmt.Sprintf("delivery %s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify returns the failure reason of err. Errors that are not a
// *Failure count as Unknown.
func Classify(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return Unknown
}

// IsTransient reports whether a failed send may succeed when retried.
// Only a blocked recipient is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err) != Blocked
}

func retryAfter(err error) time.Duration {
	var f *Failure
	if errors.As(err, &f) {
		return f.RetryAfter
	}
	return 0
}
