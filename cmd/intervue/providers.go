package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/intervue/internal/app"
	"github.com/MrWong99/intervue/internal/config"
	"github.com/MrWong99/intervue/pkg/provider/llm"
	"github.com/MrWong99/intervue/pkg/provider/llm/anyllm"
	"github.com/MrWong99/intervue/pkg/provider/llm/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// Hosted and local backends reached through any-llm-go share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, providerName := range anyllm.SupportedProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// openai uses the official SDK so OpenAI-compatible servers can be
	// targeted with base_url and an organization can be set.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// A hosted provider without an API key is skipped: the service still starts
// and answers with example analyses.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := createLLM(reg, "llm", cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		return ps, nil
	}
	ps.LLM, ps.LLMName = primary, cfg.Providers.LLM.Name

	fallback, err := createLLM(reg, "llm_fallback", cfg.Providers.LLMFallback)
	if err != nil {
		return nil, err
	}
	if fallback != nil {
		ps.Fallback, ps.FallbackName = fallback, cfg.Providers.LLMFallback.Name
	}
	return ps, nil
}

func createLLM(reg *config.Registry, kind string, entry config.ProviderEntry) (llm.Provider, error) {
	if !entry.Configured() {
		return nil, nil
	}
	if entry.APIKey == "" && entry.NeedsAPIKey() {
		slog.Warn("no API key, provider disabled", "kind", kind, "name", entry.Name, "env", entry.APIKeyEnv())
		return nil, nil
	}
	p, err := reg.CreateLLM(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not implemented, skipping", "kind", kind, "name", entry.Name, "known", reg.LLMNames())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// integers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	if opts == nil {
		return 0, false
	}
	n, ok := opts[key].(int)
	return n, ok
}
