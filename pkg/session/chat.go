// Package session holds the per-workspace conversation log and editor
// document that the coordinator mutates.
package session

import (
	"sync"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/kidcode-ai/kidcode/pkg/models"
)

// Handle identifies one appended message so it can be removed later.
type Handle uint64

type entry struct {
	handle Handle
	msg    models.Message
}

// Chat is an ordered, append-only message log. Messages leave it only
// through Remove, ClearLastExchange or Clear.
type Chat struct {
	mu        sync.RWMutex
	contextID string
	entries   []entry
	next      Handle
	chars     int
	prompts   int
}

// NewChat returns an empty log with a fresh context ID.
func NewChat() *Chat {
	return &Chat{contextID: uuid.NewString()}
}

// Append adds msg to the end of the log.
func (c *Chat) Append(msg models.Message) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.entries = append(c.entries, entry{handle: c.next, msg: msg})
	c.chars += utf16Len(msg.Content)
	if msg.Role == models.RoleUser {
		c.prompts++
	}
	return c.next
}

// Remove deletes the message appended under h. It reports false if the
// message is already gone.
func (c *Chat) Remove(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.handle == h {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// ClearLastExchange drops the most recent user message and everything after
// it. It returns the number of messages removed.
func (c *Chat) ClearLastExchange() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].msg.Role == models.RoleUser {
			n := len(c.entries) - i
			c.entries = c.entries[:i]
			return n
		}
	}
	return 0
}

// Messages returns a copy of the log.
func (c *Chat) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of messages in the log.
func (c *Chat) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ContextID changes every time the log is cleared.
func (c *Chat) ContextID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contextID
}

// TotalCharacters counts every character ever appended since the last
// Clear, including removed messages.
func (c *Chat) TotalCharacters() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chars
}

// PromptCount is the number of user messages appended since the last Clear.
func (c *Chat) PromptCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prompts
}

// Clear empties the log and starts a new context.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.chars = 0
	c.prompts = 0
	c.contextID = uuid.NewString()
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
