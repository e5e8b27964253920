package ui

import (
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/rs/zerolog/log"
)

// StepForwardFunc forwards widget events from the router into the program p.
func StepForwardFunc(p *tea.Program) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("payload", string(msg.Payload)).Msg("Failed to parse widget event")
			return err
		}
		log.Trace().Str("event", string(e.Type)).Str("conv_id", e.ConvID).Msg("Dispatching event to UI")
		p.Send(WidgetEventMsg{Event: e})
		return nil
	}
}
