package conversation

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a bubble.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Status tracks delivery of a user message. Bot messages carry StatusNone.
type Status string

const (
	StatusNone    Status = ""
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Message is one rendered chat bubble.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status,omitempty"`
}

// Settled reports whether a user message has left the sending state.
func (m Message) Settled() bool {
	return m.Status == StatusSent || m.Status == StatusError
}

const (
	GreetingID      = "1"
	DefaultGreeting = "Hola! Soy tu coach deportivo de Netia. En qué puedo ayudarte hoy?"

	// user-facing texts; these are part of the widget contract
	WebhookErrorText     = "Error al conectar con el webhook."
	MicUnavailableText   = "No pude acceder al micrófono. Revisá los permisos del navegador."
	AudioProcessingText  = "No pude procesar el audio."
	AudioSentPlaceholder = "🎤 Audio enviado"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewConversationID returns conv_<unix-millis>_<9 base36 chars>.
func NewConversationID() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return fmt.Sprintf("conv_%d_%s", time.Now().UnixMilli(), suffix)
}

func newMessageID() string {
	return uuid.NewString()
}

// errorBubbleID derives the id of the bot bubble reporting a failed send.
func errorBubbleID(userID string) string {
	return userID + "e"
}
