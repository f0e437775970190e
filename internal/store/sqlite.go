// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides pending-message persistence with automatic schema creation.

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

	"github.com/2389/hub-relay/internal/peer"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
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

// createSchema creates the database tables if they don't exist.
// Timestamps are stored as epoch milliseconds.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pending_messages (
			key TEXT PRIMARY KEY,
			from_who TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_tried INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pending_last_tried
			ON pending_messages(last_tried);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Put inserts or replaces the record for msg.Key.
func (s *SQLiteStore) Put(ctx context.Context, msg *PendingMessage) error {
	data, err := json.Marshal(msg.Envelope)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_messages (key, from_who, data, created_at, last_tried)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			from_who = excluded.from_who,
			data = excluded.data,
			last_tried = excluded.last_tried
	`, msg.Key, string(msg.FromWho), string(data), msg.CreatedAt.UnixMilli(), msg.LastTried.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting pending message: %w", err)
	}
	return nil
}

// Get retrieves a record by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*PendingMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, from_who, data, created_at, last_tried
		FROM pending_messages WHERE key = ?
	`, key)

	msg, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pending message: %w", err)
	}
	return msg, nil
}

// Delete removes a record by key. Absent keys are a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_messages WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting pending message: %w", err)
	}
	return nil
}

// Touch refreshes the last-attempt timestamp for key.
func (s *SQLiteStore) Touch(ctx context.Context, key string, lastTried time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_messages SET last_tried = ? WHERE key = ?
	`, lastTried.UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("updating pending message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDue returns records whose last attempt is at or before cutoff.
func (s *SQLiteStore) ListDue(ctx context.Context, cutoff time.Time) ([]*PendingMessage, error) {
	return s.list(ctx, `
		SELECT key, from_who, data, created_at, last_tried
		FROM pending_messages
		WHERE last_tried <= ?
		ORDER BY last_tried ASC
	`, cutoff.UnixMilli())
}

// List returns all records, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*PendingMessage, error) {
	return s.list(ctx, `
		SELECT key, from_who, data, created_at, last_tried
		FROM pending_messages
		ORDER BY last_tried ASC
	`)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*PendingMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending messages: %w", err)
	}
	defer rows.Close()

	var messages []*PendingMessage
	for rows.Next() {
		msg, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending messages: %w", err)
	}
	return messages, nil
}

// scanner abstracts sql.Row and sql.Rows for scanPending.
type scanner interface {
	Scan(dest ...any) error
}

func scanPending(row scanner) (*PendingMessage, error) {
	var (
		msg       PendingMessage
		fromWho   string
		data      string
		createdAt int64
		lastTried int64
	)
	if err := row.Scan(&msg.Key, &fromWho, &data, &createdAt, &lastTried); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &msg.Envelope); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	msg.FromWho = peer.Identity(fromWho)
	msg.CreatedAt = time.UnixMilli(createdAt)
	msg.LastTried = time.UnixMilli(lastTried)
	return &msg, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
