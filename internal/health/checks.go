package health

import (
	"context"
	"errors"

	"github.com/MrWong99/intervue/internal/transcript"
)

// ErrProviderUnavailable is reported when every model backend's circuit
// breaker is open.
var ErrProviderUnavailable = errors.New("all model providers are unavailable")

// SinkCheck reports whether the transcript sink can accept entries.
func SinkCheck(c transcript.Checker) Checker {
	return Checker{Name: "transcript_sink", Check: c.Check}
}

// ProviderCheck reports whether at least one model backend accepts calls.
// Analysis still answers with fallback content when this fails, so the check
// marks degraded quality rather than a dead service.
func ProviderCheck(available func() bool) Checker {
	return Checker{
		Name: "llm_provider",
		Check: func(context.Context) error {
			if !available() {
				return ErrProviderUnavailable
			}
			return nil
		},
	}
}
