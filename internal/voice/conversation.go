package voice

import (
	"sync"
	"time"

	"github.com/chadiek/voice-mode/internal/chat"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Conversation is the append-only history sent to the chat collaborator each turn.
// Only the session loop appends; readers may take snapshots from any goroutine.
type Conversation struct {
	mu   sync.RWMutex
	msgs []Message
}

func (c *Conversation) append(role Role, text string, at time.Time) {
	c.mu.Lock()
	c.msgs = append(c.msgs, Message{Role: role, Text: text, At: at})
	c.mu.Unlock()
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}

func (c *Conversation) chatMessages() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]chat.Message, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = chat.Message{Role: string(m.Role), Content: m.Text}
	}
	return out
}
