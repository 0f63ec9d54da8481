package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/intervue/internal/history"
	"github.com/MrWong99/intervue/internal/observe"
	"github.com/MrWong99/intervue/internal/resilience"
	"github.com/MrWong99/intervue/pkg/provider/llm"
	"github.com/MrWong99/intervue/pkg/provider/llm/mock"
)

const goodReply = `## Analysis of Previous Answer
- Covered SYN, SYN-ACK, ACK

## Evaluation
- Accurate

## Next Question
- What happens when the final ACK is lost?

## Expected Answer
- Server retransmits SYN-ACK`

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestSession(t *testing.T, p llm.Provider, opts ...Option) *Session {
	t.Helper()
	base := []Option{WithMetrics(testMetrics(t))}
	if p != nil {
		base = append(base, WithProvider(p, "mock"))
	}
	return NewSession("test", append(base, opts...)...)
}

func replying(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestAnalyze_Success(t *testing.T) {
	p := replying("\n  " + goodReply + "  \n")
	s := newTestSession(t, p)

	res, err := s.Analyze(context.Background(), "Explain TCP handshakes")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Fallback || res.Error != "" {
		t.Fatalf("unexpected fallback: %+v", res)
	}
	if res.Transcript != "Explain TCP handshakes" {
		t.Errorf("Transcript = %q", res.Transcript)
	}
	if res.Analysis != goodReply {
		t.Errorf("Analysis not the trimmed reply:\n%q", res.Analysis)
	}
	if res.MissingSections != nil {
		t.Errorf("MissingSections = %v", res.MissingSections)
	}
	if got := res.Fields["next_question"]; got != "- What happens when the final ACK is lost?" {
		t.Errorf("next_question = %q", got)
	}
	if got := res.Fields["previous_analysis"]; got != "- Covered SYN, SYN-ACK, ACK" {
		t.Errorf("previous_analysis = %q", got)
	}
	if !strings.Contains(res.AnalysisHTML, "<h2>Next Question</h2>") {
		t.Errorf("AnalysisHTML = %q", res.AnalysisHTML)
	}

	turns := s.History().All()
	if len(turns) != 2 {
		t.Fatalf("history len = %d, want 2", len(turns))
	}
	if turns[0] != history.UserTurn("Explain TCP handshakes") {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1] != history.AssistantTurn(goodReply) {
		t.Errorf("turn 1 = %+v", turns[1])
	}
}

func TestAnalyze_RequestParameters(t *testing.T) {
	p := replying(goodReply)
	s := newTestSession(t, p)

	if _, err := s.Analyze(context.Background(), "first answer"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != InterviewContract.SystemPrompt {
		t.Error("system prompt is not the interview contract prompt")
	}
	if req.Temperature != Temperature || req.MaxTokens != MaxTokens {
		t.Errorf("sampling = (%v, %d), want (%v, %d)", req.Temperature, req.MaxTokens, Temperature, MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0] != (llm.Message{Role: llm.RoleUser, Content: "first answer"}) {
		t.Errorf("messages = %+v", req.Messages)
	}
	if _, ok := calls[0].Ctx.Deadline(); !ok {
		t.Error("model call has no deadline")
	}
}

func TestAnalyze_WindowBoundsRequest(t *testing.T) {
	p := replying(goodReply)
	s := newTestSession(t, p)
	ctx := context.Background()

	for i := range 4 {
		if _, err := s.Analyze(ctx, "answer "+string(rune('A'+i))); err != nil {
			t.Fatalf("Analyze %d: %v", i, err)
		}
	}

	calls := p.Calls()
	last := calls[len(calls)-1].Req.Messages
	if len(last) != history.DefaultWindow {
		t.Fatalf("last request has %d messages, want %d", len(last), history.DefaultWindow)
	}
	if last[len(last)-1].Content != "answer D" {
		t.Errorf("window does not end with the current answer: %+v", last[len(last)-1])
	}
	if last[0].Role != llm.RoleUser || last[0].Content != "answer B" {
		t.Errorf("window starts at %+v, want user 'answer B'", last[0])
	}
	for i := 1; i < len(last); i++ {
		if last[i].Role == last[i-1].Role {
			t.Errorf("roles do not alternate at %d: %+v", i, last)
		}
	}
	if got := s.History().Len(); got != 8 {
		t.Errorf("full history len = %d, want 8", got)
	}
}

func TestAnalyze_CustomWindow(t *testing.T) {
	p := replying(goodReply)
	s := newTestSession(t, p, WithWindow(1))

	for _, a := range []string{"one", "two"} {
		if _, err := s.Analyze(context.Background(), a); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}
	msgs := p.Calls()[1].Req.Messages
	if len(msgs) != 1 || msgs[0].Content != "two" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestAnalyze_EmptyInputRejected(t *testing.T) {
	p := replying(goodReply)
	s := newTestSession(t, p)

	for _, in := range []string{"", "   ", "\n\t"} {
		res, err := s.Analyze(context.Background(), in)
		if !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Analyze(%q) err = %v, want ErrEmptyInput", in, err)
		}
		if res != nil {
			t.Errorf("Analyze(%q) returned a result", in)
		}
	}
	if n := len(p.Calls()); n != 0 {
		t.Errorf("provider called %d times for empty input", n)
	}
	if s.History().Len() != 0 {
		t.Errorf("history modified by empty input")
	}
}

func TestAnalyze_UpstreamFailureFallsBack(t *testing.T) {
	p := &mock.Provider{CompleteErr: errors.New("503 service unavailable")}
	s := newTestSession(t, p)

	res, err := s.Analyze(context.Background(), "Explain TCP handshakes")
	if err != nil {
		t.Fatalf("Analyze returned error on upstream failure: %v", err)
	}
	if !res.Fallback {
		t.Error("Fallback not set")
	}
	if !strings.Contains(res.Error, KindRequest) {
		t.Errorf("Error = %q, want it to name the failure kind", res.Error)
	}
	for _, key := range InterviewContract.HeadingKeys() {
		if res.Sections[key] == "" {
			t.Errorf("fallback result missing section %q", key)
		}
	}
	if res.Transcript != "Explain TCP handshakes" {
		t.Errorf("Transcript = %q", res.Transcript)
	}

	turns := s.History().All()
	if len(turns) != 1 || turns[0].Role != llm.RoleUser {
		t.Fatalf("history after failure = %+v, want only the user turn", turns)
	}
}

func TestAnalyze_FailureThenSuccessAlternates(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	p := &mock.Provider{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return nil, errors.New("boom")
			}
			return &llm.CompletionResponse{Content: goodReply}, nil
		},
	}
	s := newTestSession(t, p)
	ctx := context.Background()

	if _, err := s.Analyze(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	fail = true
	mu.Unlock()
	if res, _ := s.Analyze(ctx, "second"); !res.Fallback {
		t.Fatal("expected fallback for the failed call")
	}
	mu.Lock()
	fail = false
	mu.Unlock()
	res, err := s.Analyze(ctx, "third")
	if err != nil || res.Fallback {
		t.Fatalf("third call: res=%+v err=%v", res, err)
	}

	calls := p.Calls()
	msgs := calls[len(calls)-1].Req.Messages
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: goodReply},
		{Role: llm.RoleUser, Content: "second\n\nthird"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("messages = %+v, want %+v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], want[i])
		}
	}

	roles := []llm.Role{}
	for _, turn := range s.History().All() {
		roles = append(roles, turn.Role)
	}
	wantRoles := []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleUser, llm.RoleAssistant}
	if len(roles) != len(wantRoles) {
		t.Fatalf("history roles = %v, want %v", roles, wantRoles)
	}
	for i := range wantRoles {
		if roles[i] != wantRoles[i] {
			t.Errorf("history role %d = %s, want %s", i, roles[i], wantRoles[i])
		}
	}
}

func TestAnalyze_FailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
		opts     []Option
		kind     string
	}{
		{
			name:     "empty reply",
			provider: replying("   \n"),
			kind:     KindEmptyReply,
		},
		{
			name:     "nil response",
			provider: &mock.Provider{},
			kind:     KindEmptyReply,
		},
		{
			name:     "circuit open",
			provider: &mock.Provider{CompleteErr: resilience.ErrCircuitOpen},
			kind:     KindCircuitOpen,
		},
		{
			name: "timeout",
			provider: &mock.Provider{
				CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				},
			},
			opts: []Option{WithTimeout(20 * time.Millisecond)},
			kind: KindTimeout,
		},
		{
			name: "no provider",
			kind: KindUnconfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, tt.provider, tt.opts...)
			res, err := s.Analyze(context.Background(), "answer")
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if !res.Fallback {
				t.Fatal("Fallback not set")
			}
			if !strings.Contains(res.Error, tt.kind) {
				t.Errorf("Error = %q, want kind %q", res.Error, tt.kind)
			}
			if s.History().Len() != 1 {
				t.Errorf("history len = %d, want 1", s.History().Len())
			}
		})
	}
}

func TestAnalyze_RepairsMissingSections(t *testing.T) {
	p := replying("## Evaluation\n- Good\n\n## Next Question\n- Why?")
	s := newTestSession(t, p)

	res, err := s.Analyze(context.Background(), "answer")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Analysis of Previous Answer", "Expected Answer"}
	if len(res.MissingSections) != len(want) {
		t.Fatalf("MissingSections = %v, want %v", res.MissingSections, want)
	}
	for i := range want {
		if res.MissingSections[i] != want[i] {
			t.Errorf("MissingSections[%d] = %q, want %q", i, res.MissingSections[i], want[i])
		}
	}
	if got := res.Fields["expected_answer"]; got != "- No expected answer provided" {
		t.Errorf("expected_answer = %q", got)
	}
	if !strings.HasPrefix(res.Analysis, "## Evaluation\n- Good") {
		t.Errorf("original reply is not a prefix of the analysis: %q", res.Analysis)
	}

	// History keeps the reply as the model sent it.
	if got := s.History().All()[1].Content; strings.Contains(got, "No expected answer provided") {
		t.Errorf("placeholder leaked into history: %q", got)
	}
}

func TestAnalyze_FollowUpContract(t *testing.T) {
	p := replying("## Analysis\n- a\n\n## Evaluation\n- b\n\n## Follow-up Questions\n- c")
	s := newTestSession(t, p, WithContract(FollowUpContract))

	res, err := s.Analyze(context.Background(), "answer")
	if err != nil {
		t.Fatal(err)
	}
	if res.Fields["follow_up_questions"] != "- c" || res.Fields["previous_analysis"] != "- a" {
		t.Errorf("Fields = %v", res.Fields)
	}
	if p.Calls()[0].Req.SystemPrompt != FollowUpContract.SystemPrompt {
		t.Error("follow-up session sent the wrong system prompt")
	}
}

type failingRenderer struct{}

func (failingRenderer) Render(string) (string, error) { return "", errors.New("render failed") }

func TestAnalyze_RenderFailureEscapes(t *testing.T) {
	s := newTestSession(t, replying("## Evaluation\n- a < b"), WithRenderer(failingRenderer{}))
	res, err := s.Analyze(context.Background(), "answer")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.AnalysisHTML, "<pre>") || !strings.Contains(res.AnalysisHTML, "a &lt; b") {
		t.Errorf("AnalysisHTML = %q", res.AnalysisHTML)
	}
}

func TestAnalyze_ConcurrentCallsSerialized(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
	)
	p := &mock.Provider{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			mu.Lock()
			inFlight++
			if inFlight > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return &llm.CompletionResponse{Content: goodReply}, nil
		},
	}
	s := newTestSession(t, p)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Analyze(context.Background(), "answer")
		}()
	}
	wg.Wait()

	if overlap {
		t.Error("model calls on one session overlapped")
	}
	turns := s.History().All()
	if len(turns) != 20 {
		t.Fatalf("history len = %d, want 20", len(turns))
	}
	for i, turn := range turns {
		want := llm.RoleUser
		if i%2 == 1 {
			want = llm.RoleAssistant
		}
		if turn.Role != want {
			t.Fatalf("turn %d role = %s, want %s", i, turn.Role, want)
		}
	}
}

func TestReset(t *testing.T) {
	p := replying(goodReply)
	s := newTestSession(t, p)
	ctx := context.Background()

	for range 3 {
		if _, err := s.Analyze(ctx, "answer"); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.Reset(); got != ResetStatus {
		t.Errorf("Reset() = %q, want %q", got, ResetStatus)
	}
	if s.History().Len() != 0 {
		t.Fatalf("history len after reset = %d", s.History().Len())
	}

	if _, err := s.Analyze(ctx, "fresh start"); err != nil {
		t.Fatal(err)
	}
	calls := p.Calls()
	msgs := calls[len(calls)-1].Req.Messages
	if len(msgs) != 1 || msgs[0].Content != "fresh start" {
		t.Errorf("first request after reset = %+v", msgs)
	}
}

func TestLastActiveAdvances(t *testing.T) {
	s := newTestSession(t, replying(goodReply))
	before := s.LastActive()
	time.Sleep(time.Millisecond)
	if _, err := s.Analyze(context.Background(), "answer"); err != nil {
		t.Fatal(err)
	}
	if !s.LastActive().After(before) {
		t.Error("LastActive did not advance after Analyze")
	}
}

func TestPreview(t *testing.T) {
	short := "short answer"
	if got := preview(short); got != short {
		t.Errorf("preview(%q) = %q", short, got)
	}
	long := strings.Repeat("ü", 150)
	got := preview(long)
	if want := strings.Repeat("ü", 100) + "..."; got != want {
		t.Errorf("preview truncated to %d bytes, want 100 runes + ellipsis", len(got))
	}
}

func TestResult_MarshalJSONFlattensFields(t *testing.T) {
	s := newTestSession(t, replying("## Analysis of Previous Answer\n- ok\n\n## Evaluation\n- fine"))
	res, err := s.Analyze(context.Background(), "answer")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	want := map[string]any{
		"transcript":        "answer",
		"previous_analysis": "- ok",
		"evaluation":        "- fine",
		"next_question":     "- No next question provided",
		"expected_answer":   "- No expected answer provided",
	}
	for k, v := range want {
		if out[k] != v {
			t.Errorf("%s = %v, want %q", k, out[k], v)
		}
	}
	if _, ok := out["sections"].(map[string]any); !ok {
		t.Errorf("sections = %T, want object", out["sections"])
	}
	if missing, _ := out["missing_sections"].([]any); len(missing) != 2 {
		t.Errorf("missing_sections = %v, want two headings", out["missing_sections"])
	}
	for _, k := range []string{"fallback", "error"} {
		if _, ok := out[k]; ok {
			t.Errorf("%s present on a successful analysis", k)
		}
	}
}

func TestAnalyze_SpanCarriesSession(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	p := &mock.Provider{CompleteErr: errors.New("503")}
	s := NewSession("interview-3",
		WithMetrics(testMetrics(t)),
		WithProvider(p, "groq"),
		WithContract(FollowUpContract),
	)
	if _, err := s.Analyze(context.Background(), "answer"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	got := make(map[string]string)
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		string(observe.AttrSessionID): "interview-3",
		string(observe.AttrContract):  ContractFollowUp,
		string(observe.AttrProvider):  "groq",
		string(observe.AttrFallback):  "true",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want error", spans[0].Status.Code)
	}
}
