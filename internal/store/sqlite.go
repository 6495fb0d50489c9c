// ABOUTME: SQLite implementation of the conversation cache using modernc.org/sqlite
// ABOUTME: Pure-Go driver with automatic schema creation, keyed by conversation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/peerly/mentorsync/internal/timeline"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a cache at the given path. The schema is created
// automatically, along with any missing parent directories.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// WAL keeps reads cheap while the realtime goroutine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("conversation cache initialized", "path", path)
	return s, nil
}

// createSchema creates the cache tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cached_messages (
			id TEXT PRIMARY KEY,
			counterparty_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cached_messages_conversation
			ON cached_messages(counterparty_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveMessages upserts durable messages. Cached messages are immutable, so
// id conflicts are ignored rather than overwritten.
func (s *SQLiteStore) SaveMessages(ctx context.Context, counterpartyID string, msgs []timeline.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cached_messages (id, counterparty_id, sender_id, recipient_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.State != timeline.DeliverySent {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, counterpartyID, m.SenderID, m.RecipientID, m.Body, m.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	s.logger.Debug("cached messages", "counterparty_id", counterpartyID, "count", len(msgs))
	return nil
}

// GetMessages returns the newest cached messages in ascending order.
func (s *SQLiteStore) GetMessages(ctx context.Context, counterpartyID string, limit int) ([]timeline.Message, error) {
	query := `
		SELECT id, sender_id, recipient_id, body, created_at
		FROM cached_messages
		WHERE counterparty_id = ?
		ORDER BY created_at ASC, id ASC
	`
	args := []any{counterpartyID}

	if limit > 0 {
		// Newest N, still presented oldest-first.
		query = `
			SELECT id, sender_id, recipient_id, body, created_at FROM (
				SELECT id, sender_id, recipient_id, body, created_at
				FROM cached_messages
				WHERE counterparty_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			) ORDER BY created_at ASC, id ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	defer rows.Close()

	var msgs []timeline.Message
	for rows.Next() {
		var m timeline.Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		m.State = timeline.DeliverySent
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteConversation drops a conversation's cached messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, counterpartyID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cached_messages WHERE counterparty_id = ?", counterpartyID)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", counterpartyID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
