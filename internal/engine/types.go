// Package engine drives narrative execution: TOC-ordered act sequencing,
// heterogeneous input resolution, context interpolation, nested-narrative
// recursion, and carousel delegation.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"stagehand/internal/carousel"
	"stagehand/internal/llm"
	"stagehand/internal/tables"
)

// Status is the narrative execution lifecycle state.
// Transitions: Running -> Completed | Failed. No others.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ActExecution records one completed (or failed) act.
type ActExecution struct {
	ActName      string         `json:"act_name"`
	Prompt       string         `json:"prompt"`
	Response     string         `json:"response"`
	Model        string         `json:"model,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        llm.TokenUsage `json:"usage"`
	Err          string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`

	// Carousel holds the aggregate result when this act ran as a carousel.
	Carousel *carousel.Result `json:"carousel,omitempty"`
}

// NarrativeExecution is the full record of one narrative run. Acts appear
// in TOC order regardless of per-act latency.
type NarrativeExecution struct {
	ID         string         `json:"id"`
	Narrative  string         `json:"narrative"`
	Status     Status         `json:"status"`
	Acts       []ActExecution `json:"acts"`
	Err        string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// FinalResponse returns the response text of the last completed act.
func (e *NarrativeExecution) FinalResponse() string {
	for i := len(e.Acts) - 1; i >= 0; i-- {
		if e.Acts[i].Err == "" {
			return e.Acts[i].Response
		}
	}
	return ""
}

// ContentStore persists finished executions and routes act output into
// queryable tables.
type ContentStore interface {
	Persist(ctx context.Context, exec *NarrativeExecution) (string, error)
	ProcessActOutput(ctx context.Context, table, jsonText string) (int64, error)
}

// CommandRegistry is the bot command collaborator consumed by the resolver.
type CommandRegistry interface {
	Execute(ctx context.Context, platform, command string, args map[string]any) (json.RawMessage, error)
	Supports(platform, command string) bool
}

// TableRegistry is the table snapshot collaborator consumed by the resolver.
type TableRegistry interface {
	Query(ctx context.Context, q tables.Query) (*tables.ResultSet, error)
}

// MediaObject is opaque media content with its mime type.
type MediaObject struct {
	Ref  string
	Mime string
	Data []byte
}

// MediaStorage is the media collaborator consumed by the resolver.
type MediaStorage interface {
	Fetch(ctx context.Context, ref string) (*MediaObject, error)
}

// UsageRecorder receives true token usage after every generation call.
type UsageRecorder interface {
	Record(ctx context.Context, narrative, act, model string, usage llm.TokenUsage)
}
