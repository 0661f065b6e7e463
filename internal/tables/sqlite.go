package tables

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"stagehand/internal/logging"
)

// SQLiteRegistry implements Registry over a shared database/sql pool.
// The pool must be sized for concurrent carousel iterations; statements are
// never interleaved on a single shared handle.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry creates a registry over an existing database pool.
func NewSQLiteRegistry(db *sql.DB) *SQLiteRegistry {
	return &SQLiteRegistry{db: db}
}

// Query executes a table snapshot query.
func (r *SQLiteRegistry) Query(ctx context.Context, q Query) (*ResultSet, error) {
	timer := logging.StartTimer(logging.CategoryTables, "Query")
	defer timer.Stop()

	if err := q.validate(); err != nil {
		return nil, err
	}

	exists, err := r.tableExists(ctx, q.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to check table %s: %w", q.Table, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, q.Table)
	}

	query, args := buildSelect(q)
	logging.TablesDebug("Query: %s (args=%v)", query, args)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &ResultSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	logging.Tables("Query on %s returned %d rows", q.Table, len(result.Rows))
	return result, nil
}

func (r *SQLiteRegistry) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// buildSelect assembles the SELECT statement. Identifiers were validated;
// limit and offset bind as parameters.
func buildSelect(q Query) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(q.Columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(q.Table)

	if q.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(q.Where)
	}
	if q.OrderBy != "" {
		col, dir := splitOrderBy(q.OrderBy)
		sb.WriteString(" ORDER BY ")
		sb.WriteString(col)
		if strings.EqualFold(dir, "desc") {
			sb.WriteString(" DESC")
		}
	}

	var args []any
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
		if q.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, q.Offset)
		}
	}

	return sb.String(), args
}

// normalizeValue converts driver types into prompt-friendly values.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}
