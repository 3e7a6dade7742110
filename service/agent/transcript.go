package agent

import (
	"sync"
	"time"

	"github.com/brojonat/pathos/client"
	"github.com/google/uuid"
)

// Transcript roles. System entries are local notices that are never sent
// to the model.
const (
	RoleUser      = client.RoleUser
	RoleAssistant = client.RoleAssistant
	RoleSystem    = "system"
)

// Entry is one line of the conversation.
type Entry struct {
	ID      uuid.UUID
	Role    string
	Content string
	Action  string // action dispatched for this turn, if any
	At      time.Time
}

// Transcript is the ordered conversation of one session.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds an entry and returns it with its ID and timestamp set.
func (t *Transcript) Append(role, content, action string) Entry {
	e := Entry{
		ID:      uuid.New(),
		Role:    role,
		Content: content,
		Action:  action,
		At:      time.Now(),
	}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e
}

// Entries returns a copy of the conversation.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RelayMessages returns the history in the shape the relay expects. System
// notices are dropped, as are assistant lines before the first user turn,
// since the model API requires the conversation to open with the user.
func (t *Transcript) RelayMessages() []client.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]client.Message, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Role == RoleSystem || e.Content == "" {
			continue
		}
		if len(out) == 0 && e.Role != RoleUser {
			continue
		}
		out = append(out, client.Message{Role: e.Role, Content: e.Content})
	}
	return out
}
