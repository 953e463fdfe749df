package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/cellmate/framework"
)

// BatchRun is one entry of the batch run log.
type BatchRun struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	Range       string    `json:"range"`
	Status      string    `json:"status"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// SQLiteStore persists chat history and the batch run log in one database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens/creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS history_conversation ON history(conversation_id, id);
	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		instruction TEXT,
		range_ref TEXT,
		status TEXT NOT NULL,
		total INTEGER,
		succeeded INTEGER,
		failed INTEGER,
		skipped INTEGER,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts entry and drops everything but the newest
// MaxHistoryEntries of its conversation.
func (s *SQLiteStore) Append(ctx context.Context, entry framework.Interaction) error {
	if err := checkAppend(ctx, entry); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		entry.ConversationID, string(entry.Role), entry.Content, entry.Timestamp,
	); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
	DELETE FROM history WHERE conversation_id = ? AND id NOT IN (
		SELECT id FROM history WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
	)`, entry.ConversationID, entry.ConversationID, MaxHistoryEntries); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return tx.Commit()
}

// Recent returns the newest limit entries, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, conversationID string, limit int) ([]framework.Interaction, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.query(ctx, `
	SELECT id, conversation_id, role, content, created_at FROM (
		SELECT * FROM history WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`, conversationID, limit)
}

// List returns the whole stored conversation, oldest first.
func (s *SQLiteStore) List(ctx context.Context, conversationID string) ([]framework.Interaction, error) {
	return s.query(ctx, `
	SELECT id, conversation_id, role, content, created_at
	FROM history WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
}

// Clear deletes a conversation.
func (s *SQLiteStore) Clear(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE conversation_id = ?`, conversationID)
	return err
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]framework.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []framework.Interaction
	for rows.Next() {
		var entry framework.Interaction
		var role string
		if err := rows.Scan(&entry.ID, &entry.ConversationID, &role, &entry.Content, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Role = framework.Role(role)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RecordBatch upserts a batch run log entry.
func (s *SQLiteStore) RecordBatch(ctx context.Context, run BatchRun) error {
	if run.ID == "" {
		return errors.New("batch run id required")
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO batch_runs (
		id, instruction, range_ref, status, total, succeeded, failed, skipped, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status=excluded.status,
		total=excluded.total,
		succeeded=excluded.succeeded,
		failed=excluded.failed,
		skipped=excluded.skipped,
		finished_at=excluded.finished_at
	`, run.ID, run.Instruction, run.Range, run.Status, run.Total, run.Succeeded, run.Failed, run.Skipped, run.StartedAt, run.FinishedAt)
	return err
}

// Batches lists logged batch runs, newest first.
func (s *SQLiteStore) Batches(ctx context.Context, limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, instruction, range_ref, status, total, succeeded, failed, skipped, started_at, finished_at
	FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchRun
	for rows.Next() {
		var run BatchRun
		if err := rows.Scan(&run.ID, &run.Instruction, &run.Range, &run.Status, &run.Total,
			&run.Succeeded, &run.Failed, &run.Skipped, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
