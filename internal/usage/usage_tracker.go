// Package usage maintains the persistent token usage ledger. Every
// generation call records its true usage here, aggregated by narrative,
// model, and act.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stagehand/internal/llm"
	"stagehand/internal/logging"
)

// Tracker manages token usage recording and persistence. It implements the
// engine's UsageRecorder.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
}

// NewTracker creates a tracker persisting under workspacePath/.stagehand.
// Existing data is loaded; a corrupt or missing file starts empty.
func NewTracker(workspacePath string) (*Tracker, error) {
	dir := filepath.Join(workspacePath, ".stagehand")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .stagehand dir: %w", err)
	}

	t := &Tracker{
		filePath: filepath.Join(dir, "usage.json"),
		data: UsageData{
			Version: "1.0",
			Aggregate: AggregatedStats{
				ByNarrative: make(map[string]TokenCounts),
				ByModel:     make(map[string]TokenCounts),
				ByAct:       make(map[string]TokenCounts),
			},
		},
	}

	if err := t.load(); err != nil {
		logging.Get(logging.CategoryUsage).Warn("Could not load usage data, starting empty: %v", err)
	}

	return t, nil
}

func (t *Tracker) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	if t.data.Aggregate.ByNarrative == nil {
		t.data.Aggregate.ByNarrative = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByModel == nil {
		t.data.Aggregate.ByModel = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByAct == nil {
		t.data.Aggregate.ByAct = make(map[string]TokenCounts)
	}

	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Record adds one generation's true usage to the ledger. Saves are
// debounced; call Save at shutdown to flush.
func (t *Tracker) Record(ctx context.Context, narrative, act, model string, u llm.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Total.Add(u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	t.data.Aggregate.Requests++
	addToMap(t.data.Aggregate.ByNarrative, narrative, u)
	addToMap(t.data.Aggregate.ByModel, model, u)
	addToMap(t.data.Aggregate.ByAct, narrative+"/"+act, u)

	logging.Usage("Recorded: narrative=%q, act=%q, model=%q, tokens=%d", narrative, act, model, u.TotalTokens)

	if !t.dirty {
		t.dirty = true
		time.AfterFunc(5*time.Second, func() {
			if err := t.Save(); err != nil {
				logging.Get(logging.CategoryUsage).Error("Failed to save usage data: %v", err)
			}
			t.mu.Lock()
			t.dirty = false
			t.mu.Unlock()
		})
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.data.Aggregate
	stats.ByNarrative = copyTokenCountsMap(stats.ByNarrative)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByAct = copyTokenCountsMap(stats.ByAct)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, u llm.TokenUsage) {
	entry := m[key]
	entry.Add(u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	m[key] = entry
}
