// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides transcript persistence with automatic schema creation

package store

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

	"github.com/2389/coven-console/internal/chat"
	"github.com/2389/coven-console/internal/protocol"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			message_id TEXT,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			parent_tool_use_id TEXT,
			UNIQUE(session_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveMessage inserts a message, or replaces an existing one in place while
// keeping its position in the transcript.
func (s *SQLiteStore) SaveMessage(ctx context.Context, sessionID string, m *chat.ChatMessage) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("encoding content: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, message_id, type, content, timestamp, parent_tool_use_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, id) DO UPDATE SET
			message_id = excluded.message_id,
			type = excluded.type,
			content = excluded.content,
			parent_tool_use_id = excluded.parent_tool_use_id
	`, m.ID, sessionID, m.MessageID, string(m.Type), string(content), m.Timestamp.UTC(), m.ParentToolUseID)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// ReplaceMessages atomically swaps a session's transcript.
func (s *SQLiteStore) ReplaceMessages(ctx context.Context, sessionID string, msgs []*chat.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	for _, m := range msgs {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return fmt.Errorf("encoding content: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, message_id, type, content, timestamp, parent_tool_use_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, sessionID, m.MessageID, string(m.Type), string(content), m.Timestamp.UTC(), m.ParentToolUseID); err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// ListMessages returns the session's full transcript in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*chat.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, type, content, timestamp, parent_tool_use_id
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.ChatMessage
	for rows.Next() {
		var (
			m         chat.ChatMessage
			msgType   string
			content   string
			timestamp time.Time
			messageID sql.NullString
			parentID  sql.NullString
		)
		if err := rows.Scan(&m.ID, &messageID, &msgType, &content, &timestamp, &parentID); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		var c protocol.Content
		if err := json.Unmarshal([]byte(content), &c); err != nil {
			return nil, fmt.Errorf("decoding content for %s: %w", m.ID, err)
		}

		m.MessageID = messageID.String
		m.Type = chat.MessageType(msgType)
		m.Content = c
		m.Timestamp = timestamp
		m.ParentToolUseID = parentID.String
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// Sessions lists session ids with stored messages, most recently written first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM messages
		GROUP BY session_id
		ORDER BY MAX(seq) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession drops a session's transcript.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
