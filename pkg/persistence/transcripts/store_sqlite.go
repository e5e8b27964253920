package transcripts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/embedchat/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_conversations (
		  conv_id TEXT PRIMARY KEY,
		  title TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL,
		  last_error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_conversations_by_last_activity
		  ON transcript_conversations(last_activity_ms DESC, conv_id ASC);`,
		`CREATE TABLE IF NOT EXISTS transcript_messages (
		  conv_id TEXT NOT NULL,
		  message_id TEXT NOT NULL,
		  seq INTEGER NOT NULL,
		  sender TEXT NOT NULL,
		  content TEXT NOT NULL,
		  status TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (conv_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_messages_by_seq
		  ON transcript_messages(conv_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertMessage(ctx context.Context, convID string, m conversation.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("sqlite transcript store: convID is empty")
	}
	if m.ID == "" {
		return errors.New("sqlite transcript store: message id is empty")
	}
	now := time.Now().UnixMilli()
	createdAt := messageTimeMs(m, now)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_messages (
			conv_id, message_id, seq, sender, content, status, created_at_ms, updated_at_ms
		) VALUES (
			?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM transcript_messages WHERE conv_id = ?),
			?, ?, ?, ?, ?
		)
		ON CONFLICT(conv_id, message_id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status,
			updated_at_ms = excluded.updated_at_ms
	`, convID, m.ID, convID, string(m.Sender), m.Content, string(m.Status), createdAt, now)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert message")
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, convID string) ([]MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("sqlite transcript store: convID is empty")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conv_id, seq, message_id, sender, content, status, created_at_ms, updated_at_ms
		FROM transcript_messages
		WHERE conv_id = ?
		ORDER BY seq ASC
	`, convID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list messages")
	}
	defer func() { _ = rows.Close() }()

	var out []MessageRecord
	for rows.Next() {
		var (
			rec            MessageRecord
			sender, status string
		)
		if err := rows.Scan(&rec.ConvID, &rec.Seq, &rec.MessageID, &sender, &rec.Content, &status, &rec.CreatedAtMs, &rec.UpdatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan message")
		}
		rec.Sender = conversation.Sender(sender)
		rec.Status = conversation.Status(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate messages")
	}
	return out, nil
}

func (s *SQLiteStore) UpsertConversation(ctx context.Context, record ConversationRecord) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	record = normalizeConversationRecord(record, time.Now().UnixMilli())
	if record.ConvID == "" {
		return errors.New("sqlite transcript store: convID is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_conversations (conv_id, title, created_at_ms, last_activity_ms, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
			title = CASE
				WHEN excluded.title <> '' THEN excluded.title
				ELSE transcript_conversations.title
			END,
			created_at_ms = CASE
				WHEN transcript_conversations.created_at_ms > 0
				 AND transcript_conversations.created_at_ms < excluded.created_at_ms
				THEN transcript_conversations.created_at_ms
				ELSE excluded.created_at_ms
			END,
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > transcript_conversations.last_activity_ms THEN excluded.last_activity_ms
				ELSE transcript_conversations.last_activity_ms
			END,
			last_error = CASE
				WHEN excluded.last_error <> '' THEN excluded.last_error
				ELSE transcript_conversations.last_error
			END
	`, record.ConvID, record.Title, record.CreatedAtMs, record.LastActivityMs, record.LastError)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert conversation")
	}
	return nil
}

const selectConversation = `
	SELECT c.conv_id, c.title, c.created_at_ms, c.last_activity_ms, c.last_error,
	       (SELECT COUNT(*) FROM transcript_messages m WHERE m.conv_id = c.conv_id)
	FROM transcript_conversations c
`

func scanConversation(sc interface{ Scan(...any) error }) (ConversationRecord, error) {
	var rec ConversationRecord
	err := sc.Scan(&rec.ConvID, &rec.Title, &rec.CreatedAtMs, &rec.LastActivityMs, &rec.LastError, &rec.MessageCount)
	return rec, err
}

func (s *SQLiteStore) GetConversation(ctx context.Context, convID string) (ConversationRecord, bool, error) {
	if s == nil || s.db == nil {
		return ConversationRecord{}, false, errors.New("sqlite transcript store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return ConversationRecord{}, false, errors.New("sqlite transcript store: convID is empty")
	}
	rec, err := scanConversation(s.db.QueryRowContext(ctx, selectConversation+` WHERE c.conv_id = ?`, convID))
	if errors.Is(err, sql.ErrNoRows) {
		return ConversationRecord{}, false, nil
	}
	if err != nil {
		return ConversationRecord{}, false, errors.Wrap(err, "sqlite transcript store: get conversation")
	}
	return rec, true, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if limit <= 0 {
		limit = 200
	}
	query := selectConversation
	args := make([]any, 0, 2)
	if sinceMs > 0 {
		query += ` WHERE c.last_activity_ms >= ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY c.last_activity_ms DESC, c.conv_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	records := make([]ConversationRecord, 0, limit)
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan conversation")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate conversations")
	}
	return records, nil
}
