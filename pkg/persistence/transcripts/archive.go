package transcripts

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/rs/zerolog/log"
)

const archiveTimeout = 5 * time.Second

// Archive records a single widget event. Events that do not carry a
// message are ignored.
func Archive(ctx context.Context, store Store, e conversation.Event) error {
	return archive(ctx, store, e, time.Now().UnixMilli())
}

func archive(ctx context.Context, store Store, e conversation.Event, nowMs int64) error {
	if e.Message == nil {
		return nil
	}
	// a status change happens now, not when the message was first shown
	activity := messageTimeMs(*e.Message, nowMs)
	if e.Type == conversation.EventMessageStatus {
		activity = nowMs
	}
	record := ConversationRecord{
		ConvID:         e.ConvID,
		LastActivityMs: activity,
	}
	if e.Type == conversation.EventMessageStatus && e.Message.Status == conversation.StatusError {
		record.LastError = conversation.WebhookErrorText
	}
	if err := store.UpsertConversation(ctx, record); err != nil {
		return err
	}
	return store.UpsertMessage(ctx, e.ConvID, *e.Message)
}

// StepArchiveFunc returns a watermill handler that archives widget events.
// Archiving is best effort: failures are logged and the event is acked.
func StepArchiveFunc(store Store) func(*message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("component", "transcripts").Str("payload", string(msg.Payload)).Msg("failed to parse widget event")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := Archive(ctx, store, e); err != nil {
			log.Warn().Err(err).
				Str("component", "transcripts").
				Str("conv_id", e.ConvID).
				Str("event", string(e.Type)).
				Msg("archive widget event")
		}
		return nil
	}
}
