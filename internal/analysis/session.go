// Package analysis turns a candidate's transcribed answer into a structured
// critique.
//
// A [Session] owns one conversation: it records the answer, sends the
// contract's system prompt plus a bounded window of recent turns to the model,
// repairs the reply so every required section is present, splits it into
// sections and renders it to HTML. When the model cannot be reached the
// session answers with the contract's pre-written fallback analysis, pushed
// through the same repair and parsing steps, so callers always receive the
// same result shape.
package analysis

import (
	"context"
	"encoding/json"
	"html"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/intervue/internal/history"
	"github.com/MrWong99/intervue/internal/observe"
	"github.com/MrWong99/intervue/pkg/provider/llm"
)

// Sampling parameters sent with every completion request.
const (
	Temperature = 0.7
	MaxTokens   = 1024
)

// DefaultTimeout bounds a single model call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// ResetStatus is the confirmation text returned by [Session.Reset].
const ResetStatus = "Conversation history reset"

// previewRunes caps how much of a transcript is written to the log.
const previewRunes = 100

// Result is the structured outcome of one [Session.Analyze] call. It is built
// fresh per call and not modified afterwards.
type Result struct {
	// Transcript is the answer text as submitted.
	Transcript string

	// Analysis is the markdown analysis after section repair.
	Analysis string

	// AnalysisHTML is Analysis rendered to HTML.
	AnalysisHTML string

	// Sections maps normalized headings to their bodies.
	Sections map[string]string

	// Fields holds the contract's named sections (e.g. "next_question").
	Fields map[string]string

	// MissingSections lists headings the reply lacked and that were filled
	// with placeholders.
	MissingSections []string

	// Fallback is set when the model call failed and Analysis is the
	// contract's pre-written example.
	Fallback bool

	// Error explains why Fallback is set.
	Error string
}

// Flatten returns r as one flat object: "transcript", "analysis",
// "analysis_html" and "sections", every contract field at the top level,
// and "missing_sections", "fallback" and "error" only when set.
func (r *Result) Flatten() map[string]any {
	out := make(map[string]any, len(r.Fields)+7)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["transcript"] = r.Transcript
	out["analysis"] = r.Analysis
	out["analysis_html"] = r.AnalysisHTML
	out["sections"] = r.Sections
	if len(r.MissingSections) > 0 {
		out["missing_sections"] = r.MissingSections
	}
	if r.Fallback {
		out["fallback"] = true
		out["error"] = r.Error
	}
	return out
}

// MarshalJSON encodes the [Result.Flatten] form.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Flatten())
}

// Option configures a [Session].
type Option func(*Session)

// WithProvider sets the model backend and the name used for it in logs and
// metrics. Without a provider every call takes the fallback path.
func WithProvider(p llm.Provider, name string) Option {
	return func(s *Session) {
		s.provider = p
		s.providerName = name
	}
}

// WithContract selects the section contract. Default: [InterviewContract].
func WithContract(c Contract) Option {
	return func(s *Session) { s.contract = c }
}

// WithWindow sets how many recent turns are sent per request. Values below 1
// are ignored. Default: [history.DefaultWindow].
func WithWindow(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithTimeout bounds each model call. Values ≤ 0 are ignored.
// Default: [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithParser replaces the markdown section parser.
func WithParser(p SectionParser) Option {
	return func(s *Session) { s.parser = p }
}

// WithRenderer replaces the goldmark HTML renderer.
func WithRenderer(r Renderer) Option {
	return func(s *Session) { s.renderer = r }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one interview conversation.
//
// Calls to [Session.Analyze] and [Session.Reset] on the same Session are
// serialized for their whole duration, so a user turn is always followed by
// its own assistant turn before the next call starts. Distinct sessions run
// independently.
type Session struct {
	id string

	mu      sync.Mutex
	history *history.History

	provider     llm.Provider
	providerName string
	contract     Contract
	window       int
	timeout      time.Duration
	parser       SectionParser
	renderer     Renderer
	metrics      *observe.Metrics

	lastActive atomic.Int64
}

// NewSession creates an empty session identified by id.
func NewSession(id string, opts ...Option) *Session {
	s := &Session{
		id:           id,
		history:      history.New(),
		providerName: "none",
		contract:     InterviewContract,
		window:       history.DefaultWindow,
		timeout:      DefaultTimeout,
		parser:       MarkdownParser{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.renderer == nil {
		s.renderer = NewMarkdownRenderer()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.touch()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Contract returns the section contract the session enforces.
func (s *Session) Contract() Contract { return s.contract }

// History exposes the conversation log for inspection.
func (s *Session) History() *history.History { return s.history }

// LastActive reports when the session was last created, analyzed or reset.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch marks the session as active now.
func (s *Session) Touch() { s.touch() }

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

// Analyze records text as the candidate's answer and returns the structured
// analysis. The only error is [ErrEmptyInput]; model failures produce a
// fallback result with Fallback set instead.
func (s *Session) Analyze(ctx context.Context, text string) (*Result, error) {
	s.touch()
	if strings.TrimSpace(text) == "" {
		s.metrics.RecordAnalysis(ctx, s.contract.Name, observe.OutcomeRejected)
		return nil, ErrEmptyInput
	}

	ctx, span := observe.StartAnalysisSpan(ctx, s.id, s.contract.Name, s.providerName)
	defer span.End()
	log := observe.Logger(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.touch()

	log.Info("analyzing transcript", "transcript", preview(text))
	s.history.Append(history.UserTurn(text))

	reply, uerr := s.complete(ctx, s.buildRequest())
	if uerr != nil {
		log.Warn("model call failed, answering with fallback analysis",
			"provider", uerr.Provider, "kind", uerr.Kind, "err", uerr.Err)
		span.RecordError(uerr)
		span.SetStatus(codes.Error, uerr.Kind)
		s.metrics.RecordProviderError(ctx, uerr.Provider, uerr.Kind)

		span.SetAttributes(observe.AttrFallback.Bool(true))
		res := s.buildResult(ctx, text, s.contract.Fallback)
		res.Fallback = true
		res.Error = "model unavailable (" + uerr.Kind + "); showing an example analysis"
		s.metrics.RecordAnalysis(ctx, s.contract.Name, observe.OutcomeFallback)
		return res, nil
	}

	s.history.Append(history.AssistantTurn(reply))
	res := s.buildResult(ctx, text, reply)
	s.metrics.RecordAnalysis(ctx, s.contract.Name, observe.OutcomeOK)
	log.Debug("analysis complete", "sections", len(res.Sections), "history_len", s.history.Len())
	return res, nil
}

// Reset clears the conversation and returns [ResetStatus].
func (s *Session) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Reset()
	s.touch()
	return ResetStatus
}

// buildRequest assembles the system prompt and the history window. Runs of
// user turns, left behind by failed calls, are merged into one message so the
// model always sees strictly alternating roles. The history is not changed.
func (s *Session) buildRequest() llm.CompletionRequest {
	window := s.history.Window(s.window)
	msgs := make([]llm.Message, 0, len(window))
	for _, t := range window {
		if n := len(msgs); n > 0 && t.Role == llm.RoleUser && msgs[n-1].Role == llm.RoleUser {
			msgs[n-1].Content += "\n\n" + t.Content
			continue
		}
		msgs = append(msgs, t.Message())
	}
	return llm.CompletionRequest{
		SystemPrompt: s.contract.SystemPrompt,
		Messages:     msgs,
		Temperature:  Temperature,
		MaxTokens:    MaxTokens,
	}
}

// complete performs the model call. Exactly one of the results is set: the
// trimmed, non-empty reply, or the failure.
func (s *Session) complete(ctx context.Context, req llm.CompletionRequest) (string, *UpstreamModelError) {
	if s.provider == nil {
		return "", newUpstreamError(s.providerName, ErrNoProvider)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.provider.Complete(callCtx, req)
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", s.providerName)))
	if err != nil {
		return "", newUpstreamError(s.providerName, err)
	}
	if resp == nil {
		return "", newUpstreamError(s.providerName, errEmptyReply)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", newUpstreamError(s.providerName, errEmptyReply)
	}
	return reply, nil
}

// buildResult runs text through repair, parsing and rendering.
func (s *Session) buildResult(ctx context.Context, transcript, text string) *Result {
	validated, missing := EnsureSections(text, s.contract.Headings)
	if len(missing) > 0 {
		observe.Logger(ctx).Warn("reply missing required sections, added placeholders",
			"missing", missing)
		for _, h := range missing {
			s.metrics.RecordSectionRepair(ctx, h)
		}
	}

	sections := s.parser.Parse(validated)

	rendered, err := s.renderer.Render(validated)
	if err != nil {
		observe.Logger(ctx).Warn("failed to render analysis, serving escaped text",
			"err", err)
		rendered = "<pre>" + html.EscapeString(validated) + "</pre>"
	}

	return &Result{
		Transcript:      transcript,
		Analysis:        validated,
		AnalysisHTML:    rendered,
		Sections:        sections,
		Fields:          s.contract.DerivedFields(sections),
		MissingSections: missing,
	}
}

// preview shortens s to previewRunes runes for logging.
func preview(s string) string {
	n := 0
	for i := range s {
		if n == previewRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
