// Package session keeps one [analysis.Session] per caller-supplied id.
//
// Clients identify their interview with a session id; requests without one
// share [DefaultID]. Sessions are created on first use and dropped again by
// [Manager.Prune] once they have been idle for long enough.
package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/intervue/internal/analysis"
	"github.com/MrWong99/intervue/internal/observe"
)

// DefaultID is used when a caller supplies no session id.
const DefaultID = "default"

// maxIDLen caps client-supplied ids.
const maxIDLen = 128

// Factory builds a fresh session for id.
type Factory func(id string) *analysis.Session

// Manager owns the live sessions. All methods are safe for concurrent use.
type Manager struct {
	newSession Factory
	metrics    *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*analysis.Session
}

// NewManager creates an empty Manager. A nil metrics uses
// [observe.DefaultMetrics].
func NewManager(factory Factory, metrics *observe.Metrics) *Manager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		newSession: factory,
		metrics:    metrics,
		sessions:   make(map[string]*analysis.Session),
	}
}

// NormalizeID trims id, substitutes [DefaultID] for an empty id and
// truncates overly long ids.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultID
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return id
}

// Get returns the session for id, creating it on first use. The session is
// marked active before it is handed out.
func (m *Manager) Get(id string) *analysis.Session {
	id = NormalizeID(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.Touch()
		return s
	}
	s := m.newSession(id)
	m.sessions[id] = s
	m.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Debug("session created", "session_id", id)
	return s
}

// Lookup returns the session for id without creating one.
func (m *Manager) Lookup(id string) (*analysis.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[NormalizeID(id)]
	return s, ok
}

// Reset clears the history of the session for id and returns the status
// text. Resetting an id that has no session yet is a no-op that still
// confirms, so clients can always reset before starting.
func (m *Manager) Reset(id string) string {
	if s, ok := m.Lookup(id); ok {
		return s.Reset()
	}
	return analysis.ResetStatus
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// IDs returns the live session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Prune drops every session whose last activity is older than idle and
// returns how many were removed. Sessions handed out by [Manager.Get] or
// analyzed within the idle window are kept.
func (m *Manager) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.metrics.ActiveSessions.Add(context.Background(), int64(-removed))
		slog.Info("pruned idle sessions", "removed", removed, "remaining", len(m.sessions))
	}
	return removed
}

// RunPruner calls [Manager.Prune] every interval until ctx is cancelled.
// It returns nil on cancellation. A non-positive idle disables pruning and
// RunPruner just waits for ctx.
func (m *Manager) RunPruner(ctx context.Context, interval, idle time.Duration) error {
	if idle <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = max(idle/4, time.Second)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Prune(idle)
		}
	}
}
