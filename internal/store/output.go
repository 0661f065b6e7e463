package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"stagehand/internal/logging"
)

var outputIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved column names the content processor refuses to infer, since the
// execution history tables own them.
var reservedTables = map[string]bool{
	"executions":     true,
	"act_executions": true,
}

// ProcessActOutput parses an act's response as JSON rows and inserts them
// into the named table, creating the table or adding missing columns first.
// Returns the number of rows inserted.
//
// Accepted shapes: a single JSON object (one row), a JSON array of objects,
// or either of those inside a fenced code block. Anything else is an error;
// the caller decides whether that fails the act.
func (s *SQLStore) ProcessActOutput(ctx context.Context, table, text string) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ProcessActOutput "+table)
	defer timer.Stop()

	if !outputIdentRe.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	if reservedTables[table] {
		return 0, fmt.Errorf("table name %q is reserved", table)
	}

	rows, err := parseRows(text)
	if err != nil {
		return 0, fmt.Errorf("output for table %q is not valid JSON rows: %w", table, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	columns := collectColumns(rows)

	s.mu.Lock()
	schemaErr := s.ensureTable(ctx, table, columns, rows[0])
	s.mu.Unlock()
	if schemaErr != nil {
		return 0, schemaErr
	}

	inserted, err := s.insertRows(ctx, table, columns, rows)
	if err != nil {
		return 0, err
	}

	logging.Store("Processed act output: table=%q, rows=%d, columns=%d", table, inserted, len(columns))
	return inserted, nil
}

// parseRows extracts row objects from response text, tolerating a fenced
// code block around the JSON.
func parseRows(text string) ([]map[string]any, error) {
	payload := strings.TrimSpace(text)

	if strings.HasPrefix(payload, "```") {
		payload = strings.TrimPrefix(payload, "```json")
		payload = strings.TrimPrefix(payload, "```")
		if idx := strings.LastIndex(payload, "```"); idx >= 0 {
			payload = payload[:idx]
		}
		payload = strings.TrimSpace(payload)
	}

	if strings.HasPrefix(payload, "[") {
		var rows []map[string]any
		if err := json.Unmarshal([]byte(payload), &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var row map[string]any
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return nil, err
	}
	return []map[string]any{row}, nil
}

// collectColumns unions the keys of every row, sorted for deterministic DDL.
// Keys that are not valid identifiers are dropped with a warning.
func collectColumns(rows []map[string]any) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			if !outputIdentRe.MatchString(k) {
				logging.Get(logging.CategoryStore).Warn("Dropping non-identifier column %q from act output", k)
				continue
			}
			seen[k] = true
		}
	}

	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

// ensureTable creates the table on first use and adds any columns newer
// output introduces. Column affinity is inferred from the first row that
// carries the value.
func (s *SQLStore) ensureTable(ctx context.Context, table string, columns []string, sample map[string]any) error {
	defs := make([]string, 0, len(columns)+1)
	defs = append(defs, "_id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, col := range columns {
		defs = append(defs, fmt.Sprintf("%s %s", col, sqliteAffinity(sample[col])))
	}

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %q: %w", table, err)
	}

	existing, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}

	for _, col := range columns {
		if existing[col] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col, sqliteAffinity(sample[col]))
		if _, err := s.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("failed to add column %q to table %q: %w", col, table, err)
		}
		logging.StoreDebug("Added column %q to table %q", col, table)
	}
	return nil
}

func (s *SQLStore) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema of %q: %w", table, err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table_info row: %w", err)
		}
		existing[name] = true
	}
	return existing, rows.Err()
}

func (s *SQLStore) insertRows(ctx context.Context, table string, columns []string, rows []map[string]any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		args := make([]any, len(columns))
		for i, col := range columns {
			args[i] = bindValue(row[col])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("failed to insert row into %q: %w", table, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rows: %w", err)
	}
	return inserted, nil
}

// sqliteAffinity maps a JSON value to a column affinity.
func sqliteAffinity(v any) string {
	switch val := v.(type) {
	case bool:
		return "INTEGER"
	case float64:
		if val == float64(int64(val)) {
			return "INTEGER"
		}
		return "REAL"
	default:
		return "TEXT"
	}
}

// bindValue converts a JSON value into a driver-friendly one. Nested
// structures are stored as JSON text.
func bindValue(v any) any {
	switch val := v.(type) {
	case nil, string, float64, bool:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
