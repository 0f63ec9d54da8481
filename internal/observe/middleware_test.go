package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumentedMux wraps a small copy of the API route layout in Middleware.
func instrumentedMux(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := installTracer(t)
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", func(w http.ResponseWriter, r *http.Request) {
		id := SessionID(r.Context())
		if id == "" {
			id = "default"
		}
		w.Header().Set(SessionHeader, id)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ws/transcription", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	})
	return Middleware(m)(mux), reader, exp
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	h, reader, exp := instrumentedMux(t)

	req := httptest.NewRequest("POST", "/analyze", strings.NewReader(`{"text":"a"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	s := onlySpan(t, exp)
	if s.Name() != "HTTP POST /analyze" {
		t.Errorf("span name = %q, want %q", s.Name(), "HTTP POST /analyze")
	}
	if got, _ := spanAttr(s, "http.route"); got != "POST /analyze" {
		t.Errorf("http.route = %q", got)
	}
	if got, _ := spanAttr(s, AttrSessionID); got != "default" {
		t.Errorf("session attribute = %q, want the id echoed by the handler", got)
	}
	if cid := rec.Header().Get("X-Correlation-ID"); cid != s.SpanContext().TraceID().String() {
		t.Errorf("X-Correlation-ID = %q, want the span's trace id", cid)
	}

	met := findMetric(collect(t, reader), "intervue.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("duration data = %+v", met.Data)
	}
	attrs := hist.DataPoints[0].Attributes
	if v, _ := attrs.Value("route"); v.AsString() != "POST /analyze" {
		t.Errorf("route attribute = %q", v.AsString())
	}
	if v, _ := attrs.Value("status"); v.AsInt64() != http.StatusOK {
		t.Errorf("status attribute = %d", v.AsInt64())
	}
}

func TestMiddleware_SessionFromRequestHeader(t *testing.T) {
	h, _, exp := instrumentedMux(t)

	req := httptest.NewRequest("POST", "/analyze", nil)
	req.Header.Set(SessionHeader, "interview-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(SessionHeader); got != "interview-9" {
		t.Errorf("handler saw session %q, want interview-9", got)
	}
	if got, _ := spanAttr(onlySpan(t, exp), AttrSessionID); got != "interview-9" {
		t.Errorf("session attribute = %q, want interview-9", got)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	h, _, exp := instrumentedMux(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sessions/abc123", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	s := onlySpan(t, exp)
	if got, _ := spanAttr(s, "http.route"); got != unmatchedRoute {
		t.Errorf("http.route = %q, want %q", got, unmatchedRoute)
	}
	if got, _ := spanAttr(s, "http.response.status_code"); got != "404" {
		t.Errorf("status code attribute = %q, want 404", got)
	}
	if _, ok := spanAttr(s, AttrSessionID); ok {
		t.Error("unexpected session attribute without a session header")
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h, _, exp := instrumentedMux(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest("POST", "/analyze", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	s := onlySpan(t, exp)
	if got := s.Parent().SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span = %q, want the caller's span", got)
	}
}

func TestMiddleware_WebSocketUpgradeRecords101(t *testing.T) {
	h, _, exp := instrumentedMux(t)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/transcription", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	// Read answers the server's close frame so its handler can return.
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("Read: %v, want normal closure", err)
	}

	var spans []sdktrace.ReadOnlySpan
	deadline := time.Now().Add(2 * time.Second)
	for len(spans) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("upgrade request span was never ended")
		}
		time.Sleep(5 * time.Millisecond)
		spans = exp.GetSpans().Snapshots()
	}

	s := spans[0]
	if got, _ := spanAttr(s, "http.response.status_code"); got != "101" {
		t.Errorf("status code attribute = %q, want 101", got)
	}
	if got, _ := spanAttr(s, attribute.Key("http.route")); got != "GET /ws/transcription" {
		t.Errorf("http.route = %q", got)
	}
}
