package narrative

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stagehand/internal/logging"
)

// Parse decodes a narrative document from YAML bytes and validates it.
func Parse(data []byte) (*Narrative, error) {
	var n Narrative
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to parse narrative document: %w", err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// ParseFile loads and validates a narrative document from a YAML file.
func ParseFile(path string) (*Narrative, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read narrative document %s: %w", path, err)
	}

	n, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logging.NarrativeDebug("Parsed narrative %q (%d acts) from %s", n.Name, len(n.TOC), path)
	return n, nil
}
