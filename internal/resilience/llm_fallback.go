package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/intervue/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] on top of a [FallbackGroup]: every
// configured model backend has its own circuit breaker, and a request moves on
// to the next backend when the current one fails or is tripped.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend, tried after those already added.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend and returns its response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Name returns the backend names joined in failover order, e.g.
// "groq,openai".
func (f *LLMFallback) Name() string {
	return strings.Join(f.group.Names(), ",")
}

// Available reports whether at least one backend would accept a call now,
// that is, whether any breaker is not open.
func (f *LLMFallback) Available() bool {
	for _, s := range f.group.States() {
		if s != StateOpen {
			return true
		}
	}
	return false
}

// States reports the breaker state of every backend.
func (f *LLMFallback) States() map[string]State {
	return f.group.States()
}
