package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/pkg/errors"
)

// Topic carries every widget event.
const Topic = "widget"

const (
	metadataConvID = "conv_id"
	metadataType   = "event_type"
)

func knownType(t conversation.EventType) bool {
	switch t {
	case conversation.EventMessageAppended,
		conversation.EventMessageStatus,
		conversation.EventTyping,
		conversation.EventRecording:
		return true
	}
	return false
}

// NewEventFromJSON decodes and validates a widget event envelope.
func NewEventFromJSON(b []byte) (conversation.Event, error) {
	var e conversation.Event
	if err := json.Unmarshal(b, &e); err != nil {
		return conversation.Event{}, errors.Wrap(err, "decode widget event")
	}
	if !knownType(e.Type) {
		return conversation.Event{}, errors.Errorf("unknown widget event type %q", e.Type)
	}
	switch e.Type {
	case conversation.EventMessageAppended, conversation.EventMessageStatus:
		if e.Message == nil {
			return conversation.Event{}, errors.Errorf("%s event without message", e.Type)
		}
	}
	return e, nil
}

// NewMessage wraps e in a watermill message.
func NewMessage(e conversation.Event) (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encode widget event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataConvID, e.ConvID)
	msg.Metadata.Set(metadataType, string(e.Type))
	return msg, nil
}

// ConvID returns the conversation a message belongs to, from its metadata or,
// failing that, its payload.
func ConvID(msg *message.Message) string {
	if id := msg.Metadata.Get(metadataConvID); id != "" {
		return id
	}
	var head struct {
		ConvID string `json:"conv_id"`
	}
	if err := json.Unmarshal(msg.Payload, &head); err != nil {
		return ""
	}
	return head.ConvID
}

// ForConversation wraps f so that it only sees events of convID. Other
// widgets' events on a shared stream are acked and dropped.
func ForConversation(convID string, f func(*message.Message) error) func(*message.Message) error {
	return func(msg *message.Message) error {
		if ConvID(msg) != convID {
			msg.Ack()
			return nil
		}
		return f(msg)
	}
}
