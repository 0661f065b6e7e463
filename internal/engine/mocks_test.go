package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"stagehand/internal/llm"
	"stagehand/internal/narrative"
	"stagehand/internal/tables"
)

// MockBackend implements llm.GenerationBackend for testing.
type MockBackend struct {
	GenerateFunc func(ctx context.Context, prompt string, params llm.Params) (*llm.Generation, error)

	mu      sync.Mutex
	Prompts []string
}

func (m *MockBackend) Generate(ctx context.Context, prompt string, params llm.Params) (*llm.Generation, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, params)
	}
	return &llm.Generation{
		Text:         "generated: " + prompt,
		FinishReason: "stop",
		Model:        "mock-model",
		Usage:        llm.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

// MockStore implements ContentStore for testing.
type MockStore struct {
	PersistFunc          func(ctx context.Context, exec *NarrativeExecution) (string, error)
	ProcessActOutputFunc func(ctx context.Context, table, text string) (int64, error)

	mu        sync.Mutex
	Persisted []*NarrativeExecution
	Outputs   map[string][]string // table -> raw texts
}

func (m *MockStore) Persist(ctx context.Context, exec *NarrativeExecution) (string, error) {
	m.mu.Lock()
	m.Persisted = append(m.Persisted, exec)
	m.mu.Unlock()

	if m.PersistFunc != nil {
		return m.PersistFunc(ctx, exec)
	}
	return exec.ID, nil
}

func (m *MockStore) ProcessActOutput(ctx context.Context, table, text string) (int64, error) {
	m.mu.Lock()
	if m.Outputs == nil {
		m.Outputs = make(map[string][]string)
	}
	m.Outputs[table] = append(m.Outputs[table], text)
	m.mu.Unlock()

	if m.ProcessActOutputFunc != nil {
		return m.ProcessActOutputFunc(ctx, table, text)
	}
	return 1, nil
}

// MockCommands implements CommandRegistry for testing.
type MockCommands struct {
	ExecuteFunc func(ctx context.Context, platform, command string, args map[string]any) (json.RawMessage, error)
}

func (m *MockCommands) Execute(ctx context.Context, platform, command string, args map[string]any) (json.RawMessage, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, platform, command, args)
	}
	return json.RawMessage(fmt.Sprintf("%q", platform+"/"+command)), nil
}

func (m *MockCommands) Supports(platform, command string) bool {
	return true
}

// MockTables implements TableRegistry for testing.
type MockTables struct {
	QueryFunc func(ctx context.Context, q tables.Query) (*tables.ResultSet, error)
}

func (m *MockTables) Query(ctx context.Context, q tables.Query) (*tables.ResultSet, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, q)
	}
	return &tables.ResultSet{
		Columns: []string{"id", "title"},
		Rows: []tables.Row{
			{"id": float64(1), "title": "first"},
		},
	}, nil
}

// MockMedia implements MediaStorage for testing.
type MockMedia struct {
	FetchFunc func(ctx context.Context, ref string) (*MediaObject, error)
}

func (m *MockMedia) Fetch(ctx context.Context, ref string) (*MediaObject, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ref)
	}
	return &MediaObject{Ref: ref, Mime: "text/plain", Data: []byte("media content")}, nil
}

// MockUsage implements UsageRecorder for testing.
type MockUsage struct {
	mu      sync.Mutex
	Records []string // narrative/act entries in call order
	Tokens  int64
}

func (m *MockUsage) Record(ctx context.Context, narrativeName, act, model string, usage llm.TokenUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, narrativeName+"/"+act)
	m.Tokens += usage.TotalTokens
}

// MockLoader implements narrative.Loader for testing nested invocation.
type MockLoader struct {
	Narratives map[string]*narrative.Narrative
}

func (m *MockLoader) Load(name string) (*narrative.Narrative, error) {
	if n, ok := m.Narratives[name]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("narrative %q not found", name)
}
