package conversation

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateID    = errors.New("duplicate message id")
	ErrUnknownMessage = errors.New("unknown message")
	ErrStatusSettled  = errors.New("message status already settled")
)

// Conversation is the ordered message list of one widget instance.
// It is only mutated by the send/receive flow; readers on other goroutines
// (renderers, the embed server) go through the snapshot accessors.
type Conversation struct {
	id string

	mu       sync.RWMutex
	messages []Message
	index    map[string]int
}

func New(id string) *Conversation {
	if id == "" {
		id = NewConversationID()
	}
	return &Conversation{
		id:    id,
		index: map[string]int{},
	}
}

func (c *Conversation) ID() string {
	return c.id
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Get(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return Message{}, false
	}
	return c.messages[i], true
}

// Last returns the most recent message from sender.
func (c *Conversation) Last(sender Sender) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Sender == sender {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

func (c *Conversation) Append(m Message) error {
	if m.ID == "" {
		return errors.New("message id is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[m.ID]; ok {
		return errors.Wrapf(ErrDuplicateID, "append %q", m.ID)
	}
	c.index[m.ID] = len(c.messages)
	c.messages = append(c.messages, m)
	return nil
}

// SetStatus settles a sending user message. A message settles exactly once.
func (c *Conversation) SetStatus(id string, status Status) (Message, error) {
	if status != StatusSent && status != StatusError {
		return Message{}, errors.Errorf("invalid target status %q", status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return Message{}, errors.Wrapf(ErrUnknownMessage, "set status on %q", id)
	}
	m := c.messages[i]
	if m.Sender != SenderUser || m.Status != StatusSending {
		return Message{}, errors.Wrapf(ErrStatusSettled, "set status on %q (%s)", id, m.Status)
	}
	m.Status = status
	c.messages[i] = m
	return m, nil
}
