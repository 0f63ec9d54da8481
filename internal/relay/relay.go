// Package relay implements the live transcript channel.
//
// Speech-to-text clients open a WebSocket to the relay and send one JSON
// object per recognized fragment:
//
//	{"transcript": "so a TCP handshake starts with a SYN"}
//
// Each valid fragment is written to the transcript [transcript.Sink] and
// echoed back on the same connection, stamped with the receive time:
//
//	{"type": "transcription", "data": {"transcript": "...", "timestamp": "2026-10-19 14:30:00"}}
//
// Malformed messages are logged and dropped; the connection stays open. The
// relay never broadcasts to other connections and never triggers analysis.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/intervue/internal/observe"
	"github.com/MrWong99/intervue/internal/transcript"
)

// DefaultReadLimit caps the size of one inbound message.
const DefaultReadLimit = 64 << 10

// MessageTypeTranscription is the type tag of echoed fragments.
const MessageTypeTranscription = "transcription"

// writeTimeout bounds a single echo write.
const writeTimeout = 5 * time.Second

// MalformedInputError reports an inbound message that is not a JSON object
// with a string "transcript" field.
type MalformedInputError struct {
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay: malformed input: %s: %v", e.Reason, e.Err)
	}
	return "relay: malformed input: " + e.Reason
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Payload is the data part of an echoed fragment.
type Payload struct {
	Transcript string `json:"transcript"`
	Timestamp  string `json:"timestamp"`
}

// Message is the envelope written back to the client.
type Message struct {
	Type string  `json:"type"`
	Data Payload `json:"data"`
}

type inbound struct {
	Transcript *string `json:"transcript"`
}

// Decode extracts the transcript text from one inbound message.
func Decode(data []byte) (string, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return "", &MalformedInputError{Reason: "invalid JSON", Err: err}
	}
	if in.Transcript == nil {
		return "", &MalformedInputError{Reason: `missing "transcript" field`}
	}
	return *in.Transcript, nil
}

// Option configures a [Relay].
type Option func(*Relay)

// WithReadLimit sets the maximum inbound message size in bytes. A message
// above the limit closes the connection. Values ≤ 0 are ignored.
func WithReadLimit(n int64) Option {
	return func(r *Relay) {
		if n > 0 {
			r.readLimit = n
		}
	}
}

// WithOriginPatterns restricts which browser origins may connect. A "*"
// entry accepts any origin. Default: same-origin only.
func WithOriginPatterns(patterns []string) Option {
	return func(r *Relay) { r.originPatterns = patterns }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// Relay is an [http.Handler] serving the transcript WebSocket.
type Relay struct {
	sink           transcript.Sink
	metrics        *observe.Metrics
	readLimit      int64
	originPatterns []string
	now            func() time.Time
	closing        atomic.Bool

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

var _ http.Handler = (*Relay)(nil)

// New creates a Relay that records fragments to sink.
func New(sink transcript.Sink, opts ...Option) *Relay {
	r := &Relay{
		sink:      sink,
		readLimit: DefaultReadLimit,
		now:       time.Now,
		conns:     make(map[string]*websocket.Conn),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Active returns the number of open connections.
func (r *Relay) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close tells every open connection that the server is going away. Handlers
// return once their connection is closed.
func (r *Relay) Close() {
	r.closing.Store(true)

	r.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ServeHTTP upgrades the request and runs the connection until the client
// leaves. The optional session_id query parameter tags recorded entries.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: r.originPatterns}
	if slices.Contains(r.originPatterns, "*") {
		opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	conn, err := websocket.Accept(w, req, opts)
	if err != nil {
		observe.Logger(req.Context()).Warn("relay: websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(r.readLimit)

	connID := uuid.NewString()
	sessionID := req.URL.Query().Get("session_id")
	ctx, span := observe.StartRelaySpan(req.Context(), connID, sessionID)
	defer span.End()
	log := observe.Logger(ctx)

	r.add(ctx, connID, conn)
	defer r.remove(ctx, connID)
	log.Info("transcript connection opened", "remote", req.RemoteAddr)

	if err := r.serve(ctx, conn, connID, sessionID); err != nil {
		log.Warn("transcript connection failed", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "relay error")
		conn.Close(websocket.StatusInternalError, "relay error")
		return
	}
	log.Info("transcript connection closed")
	conn.Close(websocket.StatusNormalClosure, "")
}

func (r *Relay) add(ctx context.Context, id string, c *websocket.Conn) {
	r.mu.Lock()
	r.conns[id] = c
	r.mu.Unlock()
	r.metrics.ActiveConnections.Add(ctx, 1)
}

func (r *Relay) remove(ctx context.Context, id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
	r.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
}

// serve reads fragments until the peer disconnects. It returns nil for an
// orderly close and an error for anything unrecoverable.
func (r *Relay) serve(ctx context.Context, conn *websocket.Conn, connID, sessionID string) error {
	log := observe.Logger(ctx)
	span := trace.SpanFromContext(ctx)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if r.isDisconnect(ctx, err) {
				return nil
			}
			return fmt.Errorf("relay: read: %w", err)
		}

		var text string
		if typ != websocket.MessageText {
			err = &MalformedInputError{Reason: "binary message"}
		} else {
			text, err = Decode(data)
		}
		if err != nil {
			log.Warn("dropping malformed transcript message", "err", err, "bytes", len(data))
			span.AddEvent("transcript.dropped", trace.WithAttributes(attribute.Int("bytes", len(data))))
			r.metrics.RecordRelayMessage(ctx, observe.RelayDropped)
			continue
		}

		now := r.now()
		entry := transcript.Entry{
			SessionID:    sessionID,
			ConnectionID: connID,
			Text:         text,
			Timestamp:    now,
		}
		if err := r.sink.Append(ctx, entry); err != nil {
			log.Error("failed to record transcript", "err", err)
		}
		log.Info("transcription received", "transcript", text)

		if err := r.echo(ctx, conn, Message{
			Type: MessageTypeTranscription,
			Data: Payload{Transcript: text, Timestamp: transcript.FormatTimestamp(now)},
		}); err != nil {
			return err
		}
		span.AddEvent("transcript.echoed", trace.WithAttributes(attribute.Int("bytes", len(text))))
		r.metrics.RecordRelayMessage(ctx, observe.RelayEchoed)
	}
}

func (r *Relay) echo(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("relay: marshal echo: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay: write echo: %w", err)
	}
	return nil
}

// isDisconnect reports whether err marks the end of a healthy connection:
// a close frame from the peer, the request context ending, or [Relay.Close].
func (r *Relay) isDisconnect(ctx context.Context, err error) bool {
	if r.closing.Load() || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}
