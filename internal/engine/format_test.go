package engine

import (
	"strings"
	"testing"

	"stagehand/internal/narrative"
	"stagehand/internal/tables"
)

func sampleResultSet() *tables.ResultSet {
	return &tables.ResultSet{
		Columns: []string{"id", "title", "score"},
		Rows: []tables.Row{
			{"id": float64(1), "title": "first", "score": 0.5},
			{"id": float64(2), "title": "second"},
		},
	}
}

func TestFormatJSONDefault(t *testing.T) {
	got, err := formatResultSet(sampleResultSet(), "")
	if err != nil {
		t.Fatalf("formatResultSet failed: %v", err)
	}
	if !strings.Contains(got, `"title": "first"`) {
		t.Errorf("json output = %q", got)
	}
}

func TestFormatJSONEmptyRows(t *testing.T) {
	got, err := formatResultSet(&tables.ResultSet{Columns: []string{"a"}}, narrative.FormatJSON)
	if err != nil {
		t.Fatalf("formatResultSet failed: %v", err)
	}
	if strings.TrimSpace(got) != "[]" {
		t.Errorf("empty result = %q, want []", got)
	}
}

func TestFormatMarkdown(t *testing.T) {
	got, err := formatResultSet(sampleResultSet(), narrative.FormatMarkdown)
	if err != nil {
		t.Fatalf("formatResultSet failed: %v", err)
	}

	lines := strings.Split(got, "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), got)
	}
	if lines[0] != "| id | title | score |" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "| --- | --- | --- |" {
		t.Errorf("separator = %q", lines[1])
	}
	// Integral float renders without the .0; missing value renders empty.
	if lines[2] != "| 1 | first | 0.5 |" {
		t.Errorf("row 1 = %q", lines[2])
	}
	if lines[3] != "| 2 | second |  |" {
		t.Errorf("row 2 = %q", lines[3])
	}
}

func TestFormatCSV(t *testing.T) {
	got, err := formatResultSet(sampleResultSet(), narrative.FormatCSV)
	if err != nil {
		t.Fatalf("formatResultSet failed: %v", err)
	}

	lines := strings.Split(got, "\n")
	if lines[0] != "id,title,score" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1,first,0.5" {
		t.Errorf("row 1 = %q", lines[1])
	}
}

func TestFormatUnknown(t *testing.T) {
	if _, err := formatResultSet(sampleResultSet(), "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestInterpolate(t *testing.T) {
	contexts := map[string]string{"a": "ALPHA", "b-2": "BETA"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "no placeholders", "no placeholders"},
		{"single placeholder", "x {{a}} y", "x ALPHA y"},
		{"whitespace inside braces", "{{ a }}", "ALPHA"},
		{"hyphenated name", "{{b-2}}", "BETA"},
		{"repeated placeholder", "{{a}}{{a}}", "ALPHAALPHA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := interpolate(tt.in, contexts)
			if err != nil {
				t.Fatalf("interpolate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("interpolate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInterpolateReportsAllMissing(t *testing.T) {
	_, err := interpolate("{{x}} and {{y}}", map[string]string{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "x") || !strings.Contains(err.Error(), "y") {
		t.Errorf("error should list every missing name: %v", err)
	}
}
