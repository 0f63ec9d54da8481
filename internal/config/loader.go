package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/intervue/internal/analysis"
)

// ValidProviderNames lists the LLM provider names known to [NewDefaultRegistry].
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"groq", "openai", "anthropic", "gemini", "mistral", "deepseek", "ollama", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment overrides applied. A missing file is
// not an error: the defaults and the environment are used instead.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults and environment", "path", path)
		cfg := Default()
		ApplyEnv(cfg, os.LookupEnv)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills secrets that the file left empty from the environment:
// each provider's API key from <NAME>_API_KEY, and the transcript database
// from INTERVUE_POSTGRES_DSN.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, e := range []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.LLMFallback} {
		if !e.Configured() || e.APIKey != "" {
			continue
		}
		if v, ok := lookup(e.APIKeyEnv()); ok {
			e.APIKey = v
		}
	}
	if cfg.Transcripts.PostgresDSN == "" {
		if v, ok := lookup("INTERVUE_POSTGRES_DSN"); ok {
			cfg.Transcripts.PostgresDSN = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	validateProviderName("providers.llm_fallback", cfg.Providers.LLMFallback.Name)
	if fb, p := cfg.Providers.LLMFallback, cfg.Providers.LLM; fb.Configured() && fb.Name == p.Name && fb.Model == p.Model && fb.BaseURL == p.BaseURL {
		slog.Warn("providers.llm_fallback is identical to providers.llm; failover will not help")
	}
	if cfg.Providers.LLM.Configured() && cfg.Providers.LLM.APIKey == "" && cfg.Providers.LLM.NeedsAPIKey() {
		slog.Warn("no API key for the LLM provider; every analysis will use the example fallback",
			"provider", cfg.Providers.LLM.Name,
			"env", cfg.Providers.LLM.APIKeyEnv(),
		)
	}

	if cfg.Analysis.Contract != "" {
		if _, err := analysis.ContractByName(cfg.Analysis.Contract); err != nil {
			errs = append(errs, fmt.Errorf("analysis.contract %q is invalid; valid values: %s, %s",
				cfg.Analysis.Contract, analysis.ContractInterview, analysis.ContractFollowUp))
		}
	}
	if cfg.Analysis.Window < 0 {
		errs = append(errs, fmt.Errorf("analysis.window %d must be positive", cfg.Analysis.Window))
	}
	if cfg.Analysis.Timeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.timeout %s must be positive", cfg.Analysis.Timeout))
	}
	if cfg.Relay.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("relay.read_limit %d must be positive", cfg.Relay.ReadLimit))
	}
	if cfg.Sessions.TTL() < 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_ttl %s must not be negative", cfg.Sessions.TTL()))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
