package model

import (
	"errors"
	"fmt"
)

// ErrComputationSkipped signals that a persistence run was intentionally a
// no-op because the minimum re-run interval has not elapsed. It is a
// successful-but-skipped outcome, not a failure.
var ErrComputationSkipped = errors.New("computation skipped: minimum re-run interval not elapsed")

// ConfigurationError reports missing required credentials or configuration.
// It is fatal for the operation that needs the value and must surface to the
// caller rather than degrade silently.
type ConfigurationError struct {
	Key    string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s (%s)", e.Key, e.Detail)
}

// UpstreamBlockedError reports a provider response pattern indicating the
// request origin is being blocked (HTML body where JSON was expected).
// It propagates as a program-level failure and is never folded into a zero.
type UpstreamBlockedError struct {
	ProgramID string
	URL       string
}

func (e *UpstreamBlockedError) Error() string {
	return fmt.Sprintf("blocked region detected for program %s at %s", e.ProgramID, e.URL)
}

// UpstreamError reports a transient provider failure: non-success status or
// malformed payload. Retried up to the attempt ceiling, then degraded to a
// zero contribution for the one data source.
type UpstreamError struct {
	URL    string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
