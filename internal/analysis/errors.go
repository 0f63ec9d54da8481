package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/intervue/internal/resilience"
)

// ErrEmptyInput is returned by [Session.Analyze] when the transcript is empty
// or whitespace only. Nothing is recorded and the model is not called.
var ErrEmptyInput = errors.New("analysis: no text provided")

// ErrNoProvider is the cause of every upstream failure on a session that was
// built without a model provider, e.g. because no API key was configured.
var ErrNoProvider = errors.New("analysis: no model provider configured")

// errEmptyReply marks a completion that returned no usable content.
var errEmptyReply = errors.New("analysis: model returned an empty reply")

// Upstream failure kinds, reported in logs and the provider error metric.
const (
	KindUnconfigured = "unconfigured"
	KindTimeout      = "timeout"
	KindCanceled     = "canceled"
	KindCircuitOpen  = "circuit_open"
	KindEmptyReply   = "empty_reply"
	KindRequest      = "request"
)

// UpstreamModelError describes a failed model call. It never leaves
// [Session.Analyze]: the session answers with the contract's fallback analysis
// instead. It is exported so callers of lower-level helpers can inspect it
// with [errors.As].
type UpstreamModelError struct {
	// Provider names the backend (or failover chain) that was called.
	Provider string
	// Kind classifies the failure; one of the Kind* constants.
	Kind string
	// Err is the underlying cause.
	Err error
}

func (e *UpstreamModelError) Error() string {
	return fmt.Sprintf("analysis: upstream model %s (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *UpstreamModelError) Unwrap() error { return e.Err }

func newUpstreamError(provider string, err error) *UpstreamModelError {
	return &UpstreamModelError{Provider: provider, Kind: failureKind(err), Err: err}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrNoProvider):
		return KindUnconfigured
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, resilience.ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, errEmptyReply):
		return KindEmptyReply
	default:
		return KindRequest
	}
}
