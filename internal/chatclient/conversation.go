package chatclient

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/medigem-relay/internal/models"
)

// Conversation is the in-memory history of one chat session. It is owned by the consumer, sent in full
// with every turn and never persisted. It is safe to read a Conversation from a UI goroutine while a
// turn is streaming into it.
type Conversation struct {
	mu       sync.RWMutex
	messages []models.Message

	// turn is held for the duration of a turn so two turns never interleave.
	turn sync.Mutex
}

// NewConversation returns a conversation seeded with msgs.
func NewConversation(msgs ...models.Message) *Conversation {
	return &Conversation{messages: slices.Clone(msgs)}
}

// Messages returns a snapshot of the history in chronological order.
func (c *Conversation) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

// Len returns the number of messages in the history.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *Conversation) append(msg models.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return len(c.messages) - 1
}

// extend appends delta to the content of the message at idx, which must be the last message.
func (c *Conversation) extend(idx int, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx != len(c.messages)-1 {
		panic("chatclient: only the in-progress message can grow")
	}
	c.messages[idx].Content += delta
}
