// Package transcript persists widget conversations, their transcript lines
// and visitor preferences in SQLite.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"popoutchat/internal/domain"
)

// SQLiteStore implements domain.TranscriptStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.TranscriptStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

// DB exposes the handle for health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, visitor_id, route, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		conv.ID, conv.VisitorID, conv.Route, conv.Status, conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, visitor_id, route, status, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.VisitorID, &conv.Route, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the most recently active conversations, limited
// to one visitor when visitorID is set.
func (s *SQLiteStore) ListConversations(ctx context.Context, visitorID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, visitor_id, route, status, created_at, updated_at FROM conversations
		 WHERE ? = '' OR visitor_id = ?
		 ORDER BY updated_at DESC LIMIT ?`, visitorID, visitorID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.VisitorID, &c.Route, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// AppendMessage is the display sink: it records one transcript line,
// creating the conversation row if the session has none yet.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg domain.DisplayMessage) error {
	if msg.SessionID == "" {
		return fmt.Errorf("append message: empty session id")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`,
		msg.SessionID, msg.Timestamp, msg.Timestamp,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender, content, kind, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.SessionID, string(msg.Sender), msg.Content, string(msg.Kind), int64(msg.Seq), msg.Timestamp,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.Timestamp, msg.SessionID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMessages returns the last limit lines of a conversation, oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, convID string, limit int) ([]domain.MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, content, kind, seq, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT ?`, convID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.MessageRecord
	for rows.Next() {
		var m domain.MessageRecord
		var sender, kind string
		var seq int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Content, &kind, &seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender = domain.Sender(sender)
		m.Kind = domain.ResultKind(kind)
		m.Seq = uint64(seq)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SavePreferences stores the visitor's branding and style choices.
func (s *SQLiteStore) SavePreferences(ctx context.Context, prefs domain.Preferences) error {
	branding, err := json.Marshal(nonNil(prefs.Branding))
	if err != nil {
		return fmt.Errorf("encode branding: %w", err)
	}
	style, err := json.Marshal(nonNil(prefs.Style))
	if err != nil {
		return fmt.Errorf("encode style: %w", err)
	}
	if prefs.UpdatedAt.IsZero() {
		prefs.UpdatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO preferences (visitor_id, storage_key, branding, style, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(visitor_id, storage_key) DO UPDATE SET
		   branding = excluded.branding, style = excluded.style, updated_at = excluded.updated_at`,
		prefs.VisitorID, prefs.StorageKey, string(branding), string(style), prefs.UpdatedAt,
	)
	return err
}

// LoadPreferences returns nil, nil when the visitor has none stored.
func (s *SQLiteStore) LoadPreferences(ctx context.Context, visitorID, storageKey string) (*domain.Preferences, error) {
	var branding, style string
	prefs := domain.Preferences{VisitorID: visitorID, StorageKey: storageKey}
	err := s.db.QueryRowContext(ctx,
		`SELECT branding, style, updated_at FROM preferences WHERE visitor_id = ? AND storage_key = ?`,
		visitorID, storageKey,
	).Scan(&branding, &style, &prefs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(branding), &prefs.Branding); err != nil {
		return nil, fmt.Errorf("decode branding: %w", err)
	}
	if err := json.Unmarshal([]byte(style), &prefs.Style); err != nil {
		return nil, fmt.Errorf("decode style: %w", err)
	}
	return &prefs, nil
}

// PurgeOlderThan deletes conversations idle for longer than the retention
// window together with their messages. It returns the number of
// conversations removed.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE updated_at < ?)`, cutoff,
	); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 && s.logger != nil {
		s.logger.Info("purged idle conversations", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
