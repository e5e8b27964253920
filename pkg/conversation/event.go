package conversation

// EventType names a widget state change.
type EventType string

const (
	EventMessageAppended EventType = "message-appended"
	EventMessageStatus   EventType = "message-status"
	EventTyping          EventType = "typing"
	EventRecording       EventType = "recording"
)

// Event is published after every widget mutation. Renderers treat it as a
// hint and re-read the widget, archivers store Message as-is.
type Event struct {
	Type      EventType `json:"type"`
	ConvID    string    `json:"conv_id"`
	Message   *Message  `json:"message,omitempty"`
	Typing    bool      `json:"typing,omitempty"`
	Recording bool      `json:"recording,omitempty"`
}

// EventSink receives widget events.
type EventSink interface {
	PublishEvent(Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event) error

func (f SinkFunc) PublishEvent(e Event) error {
	return f(e)
}

type nopSink struct{}

func (nopSink) PublishEvent(Event) error { return nil }

// MultiSink fans an event out to several sinks and returns the first error.
type MultiSink []EventSink

func (m MultiSink) PublishEvent(e Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PublishEvent(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
