// Package history keeps the ordered conversation log of one interview session.
//
// A [History] is append-only: turns are never edited or removed individually,
// only [History.Reset] empties it. Requests to the model do not carry the whole
// log but a bounded suffix obtained through [History.Window]; the full log stays
// available through [History.All] for auditing.
package history

import (
	"sync"

	"github.com/MrWong99/intervue/pkg/provider/llm"
)

// DefaultWindow is the number of most recent turns sent to the model when no
// other window size is configured.
const DefaultWindow = 5

// Turn is one message in the conversation. Turns are values; once appended
// they are never mutated.
type Turn struct {
	Role    llm.Role
	Content string
}

// UserTurn returns a Turn attributed to the candidate.
func UserTurn(content string) Turn { return Turn{Role: llm.RoleUser, Content: content} }

// AssistantTurn returns a Turn attributed to the model.
func AssistantTurn(content string) Turn { return Turn{Role: llm.RoleAssistant, Content: content} }

// Message converts t into the provider message type.
func (t Turn) Message() llm.Message {
	return llm.Message{Role: t.Role, Content: t.Content}
}

// History is an append-only ordered log of turns.
//
// All methods are safe for concurrent use.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

// New returns an empty History.
func New() *History {
	return &History{turns: make([]Turn, 0, 16)}
}

// Append adds t to the end of the log.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
}

// Window returns the last n turns in their original order, or fewer when the
// log is shorter. The result is a copy; mutating it does not affect h.
func (h *History) Window(n int) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || len(h.turns) == 0 {
		return []Turn{}
	}
	start := max(len(h.turns)-n, 0)
	out := make([]Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	return out
}

// All returns a copy of the full log.
func (h *History) All() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns recorded.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Reset empties the log.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = h.turns[:0]
}
