// Package store persists narrative executions and routes act output into
// queryable SQLite tables. One database file holds both the execution
// history and the dynamically created content tables.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"stagehand/internal/engine"
	"stagehand/internal/logging"
)

// SQLStore implements engine.ContentStore on SQLite. Safe for concurrent
// use; carousel iterations share the pooled connections.
type SQLStore struct {
	db     *sql.DB
	dbPath string

	// mu serializes schema changes; row inserts rely on the pool.
	mu sync.Mutex
}

// Open initializes the SQLite database at the given path. maxOpenConns
// bounds the pool shared by concurrent carousel iterations.
func Open(path string, maxOpenConns int) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	s := &SQLStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Store opened: %s (max_open_conns=%d)", path, maxOpenConns)
	return s, nil
}

// initialize creates the execution history tables.
func (s *SQLStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		narrative TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_executions_narrative ON executions(narrative);

	CREATE TABLE IF NOT EXISTS act_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL REFERENCES executions(id),
		position INTEGER NOT NULL,
		act_name TEXT NOT NULL,
		prompt TEXT,
		response TEXT,
		model TEXT,
		finish_reason TEXT,
		prompt_tokens INTEGER DEFAULT 0,
		completion_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER DEFAULT 0,
		error TEXT,
		carousel_json TEXT,
		started_at DATETIME,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_acts_execution ON act_executions(execution_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// DB exposes the underlying pool so the table registry can query content
// tables over the same database.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Persist writes the full execution record in one transaction. Re-persisting
// the same execution ID replaces the previous record.
func (s *SQLStore) Persist(ctx context.Context, exec *engine.NarrativeExecution) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Persist")
	defer timer.Stop()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO executions (id, narrative, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.Narrative, string(exec.Status), exec.Err, exec.StartedAt, exec.FinishedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert execution: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM act_executions WHERE execution_id = ?`, exec.ID); err != nil {
		return "", fmt.Errorf("failed to clear prior act rows: %w", err)
	}

	for i, act := range exec.Acts {
		var carouselJSON any
		if act.Carousel != nil {
			data, err := json.Marshal(act.Carousel)
			if err != nil {
				return "", fmt.Errorf("failed to marshal carousel result for act %q: %w", act.ActName, err)
			}
			carouselJSON = string(data)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO act_executions
				(execution_id, position, act_name, prompt, response, model, finish_reason,
				 prompt_tokens, completion_tokens, total_tokens, error, carousel_json,
				 started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exec.ID, i, act.ActName, act.Prompt, act.Response, act.Model, act.FinishReason,
			act.Usage.PromptTokens, act.Usage.CompletionTokens, act.Usage.TotalTokens,
			act.Err, carouselJSON, act.StartedAt, act.FinishedAt)
		if err != nil {
			return "", fmt.Errorf("failed to insert act %q: %w", act.ActName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit execution: %w", err)
	}

	logging.StoreDebug("Persisted execution %s: narrative=%q, acts=%d, status=%s",
		exec.ID, exec.Narrative, len(exec.Acts), exec.Status)
	return exec.ID, nil
}

// GetExecution loads one execution record by ID.
func (s *SQLStore) GetExecution(ctx context.Context, id string) (*engine.NarrativeExecution, error) {
	exec := &engine.NarrativeExecution{}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, narrative, status, COALESCE(error, ''), started_at, finished_at
		FROM executions WHERE id = ?`, id).
		Scan(&exec.ID, &exec.Narrative, &status, &exec.Err, &exec.StartedAt, &exec.FinishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("execution %q not found", id)
		}
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	exec.Status = engine.Status(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT act_name, COALESCE(prompt, ''), COALESCE(response, ''), COALESCE(model, ''),
		       COALESCE(finish_reason, ''), prompt_tokens, completion_tokens, total_tokens,
		       COALESCE(error, ''), started_at, finished_at
		FROM act_executions WHERE execution_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load acts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var act engine.ActExecution
		if err := rows.Scan(&act.ActName, &act.Prompt, &act.Response, &act.Model,
			&act.FinishReason, &act.Usage.PromptTokens, &act.Usage.CompletionTokens,
			&act.Usage.TotalTokens, &act.Err, &act.StartedAt, &act.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan act row: %w", err)
		}
		exec.Acts = append(exec.Acts, act)
	}
	return exec, rows.Err()
}

// ListExecutions returns the most recent execution summaries, newest first.
func (s *SQLStore) ListExecutions(ctx context.Context, limit int) ([]engine.NarrativeExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, narrative, status, COALESCE(error, ''), started_at, finished_at
		FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []engine.NarrativeExecution
	for rows.Next() {
		var exec engine.NarrativeExecution
		var status string
		if err := rows.Scan(&exec.ID, &exec.Narrative, &status, &exec.Err, &exec.StartedAt, &exec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		exec.Status = engine.Status(status)
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}
