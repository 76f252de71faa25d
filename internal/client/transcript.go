// Package client consumes the relay's text stream and keeps the
// conversation transcript a chat UI renders.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/sportsgpt/chat-relay/internal/model"
)

// Transcript is the ordered, in-memory message list of one conversation.
// Messages are addressed by id, so concurrent turns never write into each
// other's messages. It is safe for concurrent use.
type Transcript struct {
	mu       sync.Mutex
	messages []model.Message
	counter  uint64
	now      func() time.Time
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// newID returns "msg-<unix millis>-<counter>". The counter never resets, so
// ids stay unique within a process even inside one millisecond.
func (t *Transcript) newID() string {
	t.counter++
	return fmt.Sprintf("msg-%d-%d", t.now().UnixMilli(), t.counter)
}

// Append adds a message and returns it with its new id. User and system
// messages are settled on creation; assistant messages start open.
func (t *Transcript) Append(role model.Role, content string) model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := model.Message{
		ID:      t.newID(),
		Role:    role,
		Content: content,
		Settled: role != model.RoleAssistant,
	}
	t.messages = append(t.messages, msg)
	return msg
}

// AppendContent extends an open message. It reports false when id is gone
// or already settled.
func (t *Transcript) AppendContent(id, fragment string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.index(id)
	if i < 0 || t.messages[i].Settled {
		return false
	}
	t.messages[i].Content += fragment
	return true
}

// Content returns the current content of id.
func (t *Transcript) Content(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.index(id); i >= 0 {
		return t.messages[i].Content
	}
	return ""
}

// Settle freezes id.
func (t *Transcript) Settle(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.index(id); i >= 0 {
		t.messages[i].Settled = true
	}
}

// Remove deletes the given messages, keeping the order of the rest.
func (t *Transcript) Remove(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := t.messages[:0]
	for _, m := range t.messages {
		if _, ok := drop[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	clear(t.messages[len(kept):])
	t.messages = kept
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Message(nil), t.messages...)
}

// ContextThrough returns the settled messages up to and including id, the
// history sent with the turn that created id. Open assistant messages of
// other in-flight turns are left out.
func (t *Transcript) ContextThrough(id string) []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []model.Message
	for _, m := range t.messages {
		if m.Settled {
			out = append(out, m)
		}
		if m.ID == id {
			break
		}
	}
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Reset discards every message. Ids keep counting up.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}

func (t *Transcript) index(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}
