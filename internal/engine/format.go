package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"stagehand/internal/narrative"
	"stagehand/internal/tables"
)

// formatResultSet renders table rows into prompt text in the requested
// format. Defaults to json when the input names no format.
func formatResultSet(rs *tables.ResultSet, format narrative.TableFormat) (string, error) {
	switch format {
	case narrative.FormatJSON, "":
		return formatJSON(rs)
	case narrative.FormatMarkdown:
		return formatMarkdown(rs), nil
	case narrative.FormatCSV:
		return formatCSV(rs), nil
	default:
		return "", fmt.Errorf("unknown table format %q", format)
	}
}

// formatJSON renders rows as a pretty-printed array of row objects.
func formatJSON(rs *tables.ResultSet) (string, error) {
	rows := rs.Rows
	if rows == nil {
		rows = []tables.Row{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal rows: %w", err)
	}
	return string(data), nil
}

// formatMarkdown renders a header row, a --- separator row, and one row per
// record. Missing values render empty.
func formatMarkdown(rs *tables.ResultSet) string {
	var sb strings.Builder

	sb.WriteString("| ")
	sb.WriteString(strings.Join(rs.Columns, " | "))
	sb.WriteString(" |\n| ")
	seps := make([]string, len(rs.Columns))
	for i := range seps {
		seps[i] = "---"
	}
	sb.WriteString(strings.Join(seps, " | "))
	sb.WriteString(" |\n")

	for _, row := range rs.Rows {
		sb.WriteString("| ")
		cells := make([]string, len(rs.Columns))
		for i, col := range rs.Columns {
			cells[i] = cellString(row[col])
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString(" |\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// formatCSV renders a header line plus comma-joined values. Values are not
// escaped; commas inside values will break the output. Known limitation.
func formatCSV(rs *tables.ResultSet) string {
	var sb strings.Builder

	sb.WriteString(strings.Join(rs.Columns, ","))
	sb.WriteString("\n")

	for _, row := range rs.Rows {
		cells := make([]string, len(rs.Columns))
		for i, col := range rs.Columns {
			cells[i] = cellString(row[col])
		}
		sb.WriteString(strings.Join(cells, ","))
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// cellString renders one cell value; nil and missing values render empty.
func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// Render integral floats without the trailing .0 JSON gives them.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
