package transcripts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/pkg/errors"
)

// InMemoryStore keeps the archive for the lifetime of the process.
// It mirrors the ordering semantics of the SQLite store.
type InMemoryStore struct {
	mu            sync.Mutex
	maxPerConv    int
	messages      map[string][]MessageRecord
	conversations map[string]ConversationRecord
}

var _ Store = &InMemoryStore{}

// NewInMemoryStore keeps at most maxPerConv messages per conversation,
// dropping the oldest first.
func NewInMemoryStore(maxPerConv int) *InMemoryStore {
	if maxPerConv <= 0 {
		maxPerConv = 5000
	}
	return &InMemoryStore{
		maxPerConv:    maxPerConv,
		messages:      map[string][]MessageRecord{},
		conversations: map[string]ConversationRecord{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) UpsertMessage(_ context.Context, convID string, m conversation.Message) error {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("in-memory transcript store: convID is empty")
	}
	if m.ID == "" {
		return errors.New("in-memory transcript store: message id is empty")
	}
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[convID]
	for i := range msgs {
		if msgs[i].MessageID == m.ID {
			msgs[i].Content = m.Content
			msgs[i].Status = m.Status
			msgs[i].UpdatedAtMs = now
			return nil
		}
	}
	var seq int64 = 1
	if n := len(msgs); n > 0 {
		seq = msgs[n-1].Seq + 1
	}
	msgs = append(msgs, MessageRecord{
		ConvID:      convID,
		Seq:         seq,
		MessageID:   m.ID,
		Sender:      m.Sender,
		Content:     m.Content,
		Status:      m.Status,
		CreatedAtMs: messageTimeMs(m, now),
		UpdatedAtMs: now,
	})
	if len(msgs) > s.maxPerConv {
		msgs = msgs[len(msgs)-s.maxPerConv:]
	}
	s.messages[convID] = msgs
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, convID string) ([]MessageRecord, error) {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("in-memory transcript store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[convID]
	if len(msgs) == 0 {
		return nil, nil
	}
	out := make([]MessageRecord, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) UpsertConversation(_ context.Context, record ConversationRecord) error {
	now := time.Now().UnixMilli()
	record = normalizeConversationRecord(record, now)
	if record.ConvID == "" {
		return errors.New("in-memory transcript store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[record.ConvID] = mergeConversationRecord(s.conversations[record.ConvID], record, now)
	return nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, convID string) (ConversationRecord, bool, error) {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return ConversationRecord{}, false, errors.New("in-memory transcript store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.conversations[convID]
	if !ok {
		return ConversationRecord{}, false, nil
	}
	record.MessageCount = len(s.messages[convID])
	return record, true, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]ConversationRecord, 0, len(s.conversations))
	for _, record := range s.conversations {
		if sinceMs > 0 && record.LastActivityMs < sinceMs {
			continue
		}
		record.MessageCount = len(s.messages[record.ConvID])
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivityMs == records[j].LastActivityMs {
			return records[i].ConvID < records[j].ConvID
		}
		return records[i].LastActivityMs > records[j].LastActivityMs
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
