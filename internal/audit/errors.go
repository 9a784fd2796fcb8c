package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RateLimitMarker is the error-marker string upstream clients embed when a
// quota response arrives without a usable status code.
const RateLimitMarker = "RATE_LIMITED"

// RateLimitError signals that an upstream collaborator rejected the call for
// exceeding its request quota. The backoff executor retries these; every
// other failure propagates immediately.
type RateLimitError struct {
	StatusCode int
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream returned status %d", RateLimitMarker, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", RateLimitMarker, e.Message)
}

// NewRateLimitError builds a RateLimitError for an HTTP 429-style response.
func NewRateLimitError(message string) *RateLimitError {
	return &RateLimitError{StatusCode: http.StatusTooManyRequests, Message: message}
}

// IsRateLimit reports whether the failure is a rate-limit signal: either a
// typed RateLimitError (status 429) or an error whose text carries the
// marker string.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.StatusCode == http.StatusTooManyRequests || rle.StatusCode == 0
	}
	return strings.Contains(err.Error(), RateLimitMarker)
}

// StageError wraps a collaborator failure with the stage it belongs to. It is
// recorded against the record and never aborts the run on its own.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
