// Package tables implements the table query collaborator: read-only
// snapshots of database tables that acts reference as inputs.
package tables

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for query failures.
var (
	ErrTableNotFound = errors.New("table not found")
	ErrInvalidQuery  = errors.New("invalid query")
)

// Query describes one table snapshot request.
type Query struct {
	Table   string
	Columns []string // empty = all columns
	Where   string   // raw SQL fragment; trusted narrative documents only
	Limit   int
	Offset  int
	OrderBy string
}

// Row is one record keyed by column name.
type Row map[string]any

// ResultSet is an ordered query result. Columns preserves the select order
// so formatters can render stable headers.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Registry executes table snapshot queries. Implementations must be safe
// for concurrent use; carousel iterations share one registry.
type Registry interface {
	Query(ctx context.Context, q Query) (*ResultSet, error)
}

// identRe matches safe SQL identifiers for tables and columns.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent reports whether s is a safe SQL identifier.
func validIdent(s string) bool {
	return identRe.MatchString(s)
}

// validate checks query fields that become SQL identifiers.
func (q Query) validate() error {
	if !validIdent(q.Table) {
		return fmt.Errorf("%w: bad table name %q", ErrInvalidQuery, q.Table)
	}
	for _, col := range q.Columns {
		if !validIdent(col) {
			return fmt.Errorf("%w: bad column name %q", ErrInvalidQuery, col)
		}
	}
	if q.OrderBy != "" {
		col, _ := splitOrderBy(q.OrderBy)
		if !validIdent(col) {
			return fmt.Errorf("%w: bad order_by %q", ErrInvalidQuery, q.OrderBy)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrInvalidQuery)
	}
	return nil
}

// splitOrderBy splits "col desc" / "col asc" / "col" into column and direction.
func splitOrderBy(s string) (col, dir string) {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}
