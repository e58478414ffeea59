package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/novolei/HChat-sub000/internal/models"
)

// SQLiteStore persists pending messages in a local SQLite database so queued
// messages survive process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the pending-message database.
// If dbPath is empty, defaults to "./data/pending.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/pending.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_messages (
		id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		sender TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '[]',
		reply_to TEXT,
		ts INTEGER NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_messages(status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, msg *models.ChatMessage) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return err
	}
	var replyTo []byte
	if msg.ReplyTo != nil {
		if replyTo, err = json.Marshal(msg.ReplyTo); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_messages
			(id, room, sender, body, attachments, reply_to, ts, status, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.Channel, msg.Sender, msg.Text, string(attachments),
		nullString(replyTo), msg.Timestamp, string(msg.Status), msg.RetryCount)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room, sender, body, attachments, reply_to, ts, status, retry_count
		FROM pending_messages WHERE id = ?
	`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *SQLiteStore) Update(ctx context.Context, msg *models.ChatMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_messages SET status = ?, retry_count = ? WHERE id = ?
	`, string(msg.Status), msg.RetryCount, msg.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_messages WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]*models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room, sender, body, attachments, reply_to, ts, status, retry_count
		FROM pending_messages
		WHERE status IN (?, ?)
		ORDER BY created_at, id
	`, string(models.StatusSending), string(models.StatusSent))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*models.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, msg)
	}
	return pending, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_messages WHERE status IN (?, ?)
	`, string(models.StatusSending), string(models.StatusSent)).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	var attachments string
	var replyTo sql.NullString
	var status string
	err := row.Scan(&msg.ID, &msg.Channel, &msg.Sender, &msg.Text,
		&attachments, &replyTo, &msg.Timestamp, &status, &msg.RetryCount)
	if err != nil {
		return nil, err
	}

	msg.Status = models.DeliveryStatus(status)
	if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
		return nil, err
	}
	if replyTo.Valid {
		ref := &models.ReplyRef{}
		if err := json.Unmarshal([]byte(replyTo.String), ref); err != nil {
			return nil, err
		}
		msg.ReplyTo = ref
	}
	return msg, nil
}

func nullString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
