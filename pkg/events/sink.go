package events

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/pkg/errors"
)

// WatermillSink publishes widget events to a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ conversation.EventSink = &WatermillSink{}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	if topic == "" {
		topic = Topic
	}
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (w *WatermillSink) PublishEvent(e conversation.Event) error {
	msg, err := NewMessage(e)
	if err != nil {
		return err
	}
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s event", e.Type)
	}
	return nil
}
