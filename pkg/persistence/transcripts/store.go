package transcripts

import (
	"context"
	"strings"

	"github.com/go-go-golems/embedchat/pkg/conversation"
)

// ConversationRecord is the per-conversation summary of the archive.
type ConversationRecord struct {
	ConvID         string `json:"conv_id" yaml:"conv_id"`
	Title          string `json:"title,omitempty" yaml:"title,omitempty"`
	CreatedAtMs    int64  `json:"created_at_ms" yaml:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms" yaml:"last_activity_ms"`
	MessageCount   int    `json:"message_count" yaml:"message_count"`
	LastError      string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// MessageRecord is one archived bubble. Seq is the arrival order within the
// conversation and never changes once assigned.
type MessageRecord struct {
	ConvID      string              `json:"conv_id" yaml:"conv_id"`
	Seq         int64               `json:"seq" yaml:"seq"`
	MessageID   string              `json:"message_id" yaml:"message_id"`
	Sender      conversation.Sender `json:"sender" yaml:"sender"`
	Content     string              `json:"content" yaml:"content"`
	Status      conversation.Status `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAtMs int64               `json:"created_at_ms" yaml:"created_at_ms"`
	UpdatedAtMs int64               `json:"updated_at_ms" yaml:"updated_at_ms"`
}

// Store archives what widgets showed. It is an audit trail only; widgets
// never load their conversation back from it.
type Store interface {
	UpsertMessage(ctx context.Context, convID string, m conversation.Message) error
	ListMessages(ctx context.Context, convID string) ([]MessageRecord, error)
	UpsertConversation(ctx context.Context, record ConversationRecord) error
	GetConversation(ctx context.Context, convID string) (ConversationRecord, bool, error)
	ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error)
	Close() error
}

func normalizeConversationRecord(record ConversationRecord, now int64) ConversationRecord {
	record.ConvID = strings.TrimSpace(record.ConvID)
	record.Title = strings.TrimSpace(record.Title)
	record.LastError = strings.TrimSpace(record.LastError)
	if record.CreatedAtMs <= 0 {
		record.CreatedAtMs = now
	}
	if record.LastActivityMs <= 0 {
		record.LastActivityMs = record.CreatedAtMs
	}
	return record
}

func mergeConversationRecord(existing, incoming ConversationRecord, now int64) ConversationRecord {
	incoming = normalizeConversationRecord(incoming, now)
	if existing.ConvID == "" {
		return incoming
	}
	if existing.CreatedAtMs > 0 && existing.CreatedAtMs < incoming.CreatedAtMs {
		incoming.CreatedAtMs = existing.CreatedAtMs
	}
	if incoming.LastActivityMs < existing.LastActivityMs {
		incoming.LastActivityMs = existing.LastActivityMs
	}
	if incoming.Title == "" {
		incoming.Title = existing.Title
	}
	if incoming.LastError == "" {
		incoming.LastError = existing.LastError
	}
	return incoming
}

func messageTimeMs(m conversation.Message, now int64) int64 {
	if m.Timestamp.IsZero() {
		return now
	}
	return m.Timestamp.UnixMilli()
}
