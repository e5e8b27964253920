package transcripts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storesUnderTest(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newSQLiteStore(t),
		"memory": NewInMemoryStore(0),
	}
}

func TestStoreUpsertMessageKeepsArrivalOrder(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ts := time.UnixMilli(1_700_000_000_000)

			require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{ID: "1", Content: "hola", Sender: conversation.SenderBot, Timestamp: ts}))
			require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{ID: "u1", Content: "hi", Sender: conversation.SenderUser, Status: conversation.StatusSending, Timestamp: ts}))
			require.NoError(t, s.UpsertMessage(ctx, "c2", conversation.Message{ID: "x", Content: "other", Sender: conversation.SenderUser}))
			require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{ID: "u1", Content: "hi", Sender: conversation.SenderUser, Status: conversation.StatusSent, Timestamp: ts}))

			msgs, err := s.ListMessages(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			require.Equal(t, "1", msgs[0].MessageID)
			require.Equal(t, int64(1), msgs[0].Seq)
			require.Equal(t, ts.UnixMilli(), msgs[0].CreatedAtMs)
			require.Equal(t, "u1", msgs[1].MessageID)
			require.Equal(t, int64(2), msgs[1].Seq)
			require.Equal(t, conversation.StatusSent, msgs[1].Status)
			require.Equal(t, conversation.SenderUser, msgs[1].Sender)

			require.Error(t, s.UpsertMessage(ctx, "", conversation.Message{ID: "z"}))
			require.Error(t, s.UpsertMessage(ctx, "c1", conversation.Message{}))

			none, err := s.ListMessages(ctx, "missing")
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestStoreConversations(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "a", Title: "Coach", CreatedAtMs: 100, LastActivityMs: 100}))
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "b", CreatedAtMs: 200, LastActivityMs: 300}))
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "a", CreatedAtMs: 150, LastActivityMs: 500, LastError: "boom"}))
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "a", CreatedAtMs: 150, LastActivityMs: 400}))
			require.NoError(t, s.UpsertMessage(ctx, "a", conversation.Message{ID: "m", Sender: conversation.SenderBot}))
			require.Error(t, s.UpsertConversation(ctx, ConversationRecord{}))

			rec, ok, err := s.GetConversation(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "Coach", rec.Title)
			require.Equal(t, int64(100), rec.CreatedAtMs)
			require.Equal(t, int64(500), rec.LastActivityMs)
			require.Equal(t, "boom", rec.LastError)
			require.Equal(t, 1, rec.MessageCount)

			_, ok, err = s.GetConversation(ctx, "nope")
			require.NoError(t, err)
			require.False(t, ok)

			list, err := s.ListConversations(ctx, 10, 0)
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "a", list[0].ConvID)
			require.Equal(t, "b", list[1].ConvID)

			list, err = s.ListConversations(ctx, 10, 350)
			require.NoError(t, err)
			require.Len(t, list, 1)

			list, err = s.ListConversations(ctx, 1, 0)
			require.NoError(t, err)
			require.Len(t, list, 1)
		})
	}
}

func TestInMemoryStoreTrimsOldest(t *testing.T) {
	s := NewInMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{ID: id, Sender: conversation.SenderBot}))
	}
	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "b", msgs[0].MessageID)
	require.Equal(t, int64(3), msgs[1].Seq)
}

func TestStepArchiveFunc(t *testing.T) {
	before := time.Now().UnixMilli()
	s := NewInMemoryStore(0)
	h := StepArchiveFunc(s)
	ts := time.UnixMilli(1_700_000_000_000)

	user := conversation.Message{ID: "u1", Content: "hi", Sender: conversation.SenderUser, Status: conversation.StatusSending, Timestamp: ts}
	for _, e := range []conversation.Event{
		{Type: conversation.EventMessageAppended, ConvID: "c1", Message: &user},
		{Type: conversation.EventTyping, ConvID: "c1", Typing: true},
		{Type: conversation.EventMessageStatus, ConvID: "c1", Message: &conversation.Message{ID: "u1", Content: "hi", Sender: conversation.SenderUser, Status: conversation.StatusError, Timestamp: ts}},
		{Type: conversation.EventMessageAppended, ConvID: "c1", Message: &conversation.Message{ID: "u1e", Content: conversation.WebhookErrorText, Sender: conversation.SenderBot, Timestamp: ts}},
	} {
		msg, err := events.NewMessage(e)
		require.NoError(t, err)
		require.NoError(t, h(msg))
	}

	msgs, err := s.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, conversation.StatusError, msgs[0].Status)
	require.Equal(t, "u1e", msgs[1].MessageID)

	rec, ok, err := s.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, conversation.WebhookErrorText, rec.LastError)
	require.GreaterOrEqual(t, rec.LastActivityMs, before)
}

func TestArchiveStatusChangeUsesCurrentTime(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(0)
	sent := time.UnixMilli(1_700_000_000_000)
	failedAt := sent.Add(90 * time.Second).UnixMilli()

	user := conversation.Message{ID: "u1", Content: "hi", Sender: conversation.SenderUser, Status: conversation.StatusSending, Timestamp: sent}
	require.NoError(t, archive(ctx, s, conversation.Event{Type: conversation.EventMessageAppended, ConvID: "c1", Message: &user}, sent.UnixMilli()))

	user.Status = conversation.StatusError
	require.NoError(t, archive(ctx, s, conversation.Event{Type: conversation.EventMessageStatus, ConvID: "c1", Message: &user}, failedAt))

	rec, ok, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, failedAt, rec.LastActivityMs)
}
