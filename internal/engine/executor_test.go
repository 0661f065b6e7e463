package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"stagehand/internal/carousel"
	"stagehand/internal/llm"
	"stagehand/internal/narrative"
)

func textAct(text string) narrative.ActConfig {
	return narrative.ActConfig{
		Inputs: []narrative.Input{{Kind: narrative.InputText, Text: text}},
	}
}

func testLimiter() *carousel.Limiter {
	return carousel.NewLimiter(carousel.Budget{
		RequestsPerMinute: 100,
		TokensPerMinute:   100000,
		RequestsPerDay:    1000,
		TokensPerDay:      1000000,
	})
}

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	if cfg.Backend == nil {
		cfg.Backend = &MockBackend{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = testLimiter()
	}
	return NewExecutor(cfg)
}

func TestExecuteRunsActsInTOCOrder(t *testing.T) {
	backend := &MockBackend{}
	store := &MockStore{}
	exec := newTestExecutor(t, Config{Backend: backend, Store: store})

	n := &narrative.Narrative{
		Name: "ordered",
		TOC:  []string{"one", "two", "three"},
		Acts: map[string]narrative.ActConfig{
			"one":   textAct("first"),
			"two":   textAct("second"),
			"three": textAct("third"),
		},
	}

	result, err := exec.Execute(context.Background(), n)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}
	if len(result.Acts) != 3 {
		t.Fatalf("got %d acts, want 3", len(result.Acts))
	}
	for i, want := range []string{"one", "two", "three"} {
		if result.Acts[i].ActName != want {
			t.Errorf("act %d = %q, want %q", i, result.Acts[i].ActName, want)
		}
	}
	if backend.Prompts[0] != "first" || backend.Prompts[1] != "second" {
		t.Errorf("prompts out of order: %v", backend.Prompts)
	}

	// Completed execution was persisted exactly once.
	if len(store.Persisted) != 1 {
		t.Errorf("persisted %d times, want 1", len(store.Persisted))
	}
}

func TestExecuteInterpolatesPriorActs(t *testing.T) {
	backend := &MockBackend{
		GenerateFunc: func(ctx context.Context, prompt string, params llm.Params) (*llm.Generation, error) {
			return &llm.Generation{Text: "RESPONSE-A", Usage: llm.TokenUsage{TotalTokens: 5}}, nil
		},
	}
	exec := newTestExecutor(t, Config{Backend: backend})

	n := &narrative.Narrative{
		Name: "interp",
		TOC:  []string{"a", "b"},
		Acts: map[string]narrative.ActConfig{
			"a": textAct("start"),
			"b": textAct("prefix {{a}} suffix"),
		},
	}

	if _, err := exec.Execute(context.Background(), n); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := backend.Prompts[1]; got != "prefix RESPONSE-A suffix" {
		t.Errorf("interpolated prompt = %q", got)
	}
}

func TestExecuteAbortPolicyStopsNarrative(t *testing.T) {
	calls := 0
	backend := &MockBackend{
		GenerateFunc: func(ctx context.Context, prompt string, params llm.Params) (*llm.Generation, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("model unavailable")
			}
			return &llm.Generation{Text: "ok", Usage: llm.TokenUsage{TotalTokens: 5}}, nil
		},
	}
	store := &MockStore{}
	exec := newTestExecutor(t, Config{Backend: backend, Store: store})

	n := &narrative.Narrative{
		Name: "abort",
		TOC:  []string{"a", "b", "c"},
		Acts: map[string]narrative.ActConfig{
			"a": textAct("one"),
			"b": textAct("two"),
			"c": textAct("three"),
		},
	}

	result, err := exec.Execute(context.Background(), n)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
	// Partial progress stays inspectable: the completed act plus the failed one.
	if len(result.Acts) != 2 {
		t.Fatalf("got %d acts, want 2", len(result.Acts))
	}
	if result.Acts[0].Err != "" {
		t.Errorf("act a should have completed: %s", result.Acts[0].Err)
	}
	if result.Acts[1].Err == "" {
		t.Error("act b should carry the failure")
	}

	// Aborted executions are persisted too.
	if len(store.Persisted) != 1 {
		t.Errorf("persisted %d times, want 1", len(store.Persisted))
	}
}

func TestExecuteContinuePolicyRecordsAndProceeds(t *testing.T) {
	calls := 0
	backend := &MockBackend{
		GenerateFunc: func(ctx context.Context, prompt string, params llm.Params) (*llm.Generation, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("flaky")
			}
			return &llm.Generation{Text: "ok", Usage: llm.TokenUsage{TotalTokens: 5}}, nil
		},
	}
	exec := newTestExecutor(t, Config{Backend: backend})

	n := &narrative.Narrative{
		Name:      "continue",
		OnFailure: narrative.FailContinue,
		TOC:       []string{"a", "b"},
		Acts: map[string]narrative.ActConfig{
			"a": textAct("one"),
			"b": textAct("two"),
		},
	}

	result, err := exec.Execute(context.Background(), n)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}
	if result.Acts[0].Err == "" {
		t.Error("act a should carry its error")
	}
	if result.Acts[1].Err != "" {
		t.Errorf("act b should have succeeded: %s", result.Acts[1].Err)
	}
}

func TestExecuteRoutesOutputTable(t *testing.T) {
	store := &MockStore{}
	exec := newTestExecutor(t, Config{Store: store})

	n := &narrative.Narrative{
		Name: "tabled",
		TOC:  []string{"a"},
		Acts: map[string]narrative.ActConfig{
			"a": {
				Inputs:      []narrative.Input{{Kind: narrative.InputText, Text: "produce rows"}},
				OutputTable: "results",
			},
		},
	}

	if _, err := exec.Execute(context.Background(), n); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(store.Outputs["results"]) != 1 {
		t.Errorf("output table received %d writes, want 1", len(store.Outputs["results"]))
	}
}

func TestExecutePersistFailureFailsExecution(t *testing.T) {
	store := &MockStore{
		PersistFunc: func(ctx context.Context, exec *NarrativeExecution) (string, error) {
			return "", errors.New("disk full")
		},
	}
	exec := newTestExecutor(t, Config{Store: store})

	n := &narrative.Narrative{
		Name: "unpersistable",
		TOC:  []string{"a"},
		Acts: map[string]narrative.ActConfig{"a": textAct("x")},
	}

	result, err := exec.Execute(context.Background(), n)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
}

func TestExecuteRecordsUsage(t *testing.T) {
	usage := &MockUsage{}
	limiter := testLimiter()
	exec := newTestExecutor(t, Config{Usage: usage, Limiter: limiter})

	n := &narrative.Narrative{
		Name: "usage",
		TOC:  []string{"a", "b"},
		Acts: map[string]narrative.ActConfig{
			"a": textAct("x"),
			"b": textAct("y"),
		},
	}

	if _, err := exec.Execute(context.Background(), n); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(usage.Records) != 2 {
		t.Fatalf("usage recorded %d calls, want 2", len(usage.Records))
	}
	if usage.Records[0] != "usage/a" || usage.Records[1] != "usage/b" {
		t.Errorf("usage records = %v", usage.Records)
	}

	// True usage also reached the rate limiter.
	headroom := limiter.Headroom()
	if headroom.RequestsPerMinute != 98 {
		t.Errorf("limiter requests headroom = %d, want 98", headroom.RequestsPerMinute)
	}
	if headroom.TokensPerMinute != 100000-60 {
		t.Errorf("limiter tokens headroom = %d, want %d", headroom.TokensPerMinute, 100000-60)
	}
}

func TestNestedNarrative(t *testing.T) {
	inner := &narrative.Narrative{
		Name: "inner",
		TOC:  []string{"only"},
		Acts: map[string]narrative.ActConfig{"only": textAct("inner prompt")},
	}

	backend := &MockBackend{
		GenerateFunc: func(ctx context.Context, prompt string, params llm.Params) (*llm.Generation, error) {
			return &llm.Generation{Text: "echo(" + prompt + ")", Usage: llm.TokenUsage{TotalTokens: 5}}, nil
		},
	}
	exec := newTestExecutor(t, Config{
		Backend: backend,
		Library: &MockLoader{Narratives: map[string]*narrative.Narrative{"inner": inner}},
	})

	outer := &narrative.Narrative{
		Name: "outer",
		TOC:  []string{"use"},
		Acts: map[string]narrative.ActConfig{
			"use": {
				Inputs: []narrative.Input{
					{Kind: narrative.InputNestedNarrative, Narrative: "inner"},
					{Kind: narrative.InputText, Text: "wrap it"},
				},
			},
		},
	}

	result, err := exec.Execute(context.Background(), outer)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// The nested narrative's final response feeds the outer act's prompt.
	outerPrompt := backend.Prompts[len(backend.Prompts)-1]
	if !strings.Contains(outerPrompt, "echo(inner prompt)") {
		t.Errorf("outer prompt missing nested response: %q", outerPrompt)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Status = %s", result.Status)
	}
}

func TestNestedNarrativeCycleDetected(t *testing.T) {
	// a invokes b, b invokes a.
	a := &narrative.Narrative{
		Name: "a",
		TOC:  []string{"call"},
		Acts: map[string]narrative.ActConfig{
			"call": {Inputs: []narrative.Input{{Kind: narrative.InputNestedNarrative, Narrative: "b"}}},
		},
	}
	b := &narrative.Narrative{
		Name: "b",
		TOC:  []string{"call"},
		Acts: map[string]narrative.ActConfig{
			"call": {Inputs: []narrative.Input{{Kind: narrative.InputNestedNarrative, Narrative: "a"}}},
		},
	}

	exec := newTestExecutor(t, Config{
		Library: &MockLoader{Narratives: map[string]*narrative.Narrative{"a": a, "b": b}},
	})

	_, err := exec.Execute(context.Background(), a)
	if !errors.Is(err, ErrCyclicNarrative) {
		t.Fatalf("err = %v, want ErrCyclicNarrative", err)
	}
	if !errors.Is(err, ErrNestedNarrativeFailed) {
		t.Errorf("err = %v, want ErrNestedNarrativeFailed in the chain", err)
	}
}

func TestNestedNarrativeDepthCap(t *testing.T) {
	// Each level invokes a distinct narrative so cycle detection never fires.
	narratives := make(map[string]*narrative.Narrative)
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("level%d", i)
		next := fmt.Sprintf("level%d", i+1)
		narratives[name] = &narrative.Narrative{
			Name: name,
			TOC:  []string{"go"},
			Acts: map[string]narrative.ActConfig{
				"go": {Inputs: []narrative.Input{{Kind: narrative.InputNestedNarrative, Narrative: next}}},
			},
		}
	}

	exec := newTestExecutor(t, Config{
		Library:  &MockLoader{Narratives: narratives},
		MaxDepth: 3,
	})

	_, err := exec.Execute(context.Background(), narratives["level0"])
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("err = %v, want ErrDepthExceeded", err)
	}
}

func TestExecuteCarouselTargetsAct(t *testing.T) {
	backend := &MockBackend{
		GenerateFunc: func(ctx context.Context, prompt string, params llm.Params) (*llm.Generation, error) {
			return &llm.Generation{Text: "variant", Usage: llm.TokenUsage{TotalTokens: 10}}, nil
		},
	}
	exec := newTestExecutor(t, Config{Backend: backend})

	n := &narrative.Narrative{
		Name: "fanout",
		TOC:  []string{"seed", "spin"},
		Acts: map[string]narrative.ActConfig{
			"seed": textAct("seed prompt"),
			"spin": {
				Inputs:   []narrative.Input{{Kind: narrative.InputText, Text: "spin from {{seed}}"}},
				Carousel: &narrative.CarouselConfig{Iterations: 3, EstimatedTokensPerIteration: 10},
			},
		},
	}

	result, err := exec.ExecuteCarousel(context.Background(), n, "spin")
	if err != nil {
		t.Fatalf("ExecuteCarousel failed: %v", err)
	}

	if result.Status != StatusCompleted {
		t.Fatalf("Status = %s: %s", result.Status, result.Err)
	}

	spin := result.Acts[1]
	if spin.Carousel == nil {
		t.Fatal("spin act carries no carousel result")
	}
	if spin.Carousel.Launched != 3 {
		t.Errorf("Launched = %d, want 3", spin.Carousel.Launched)
	}
	// Aggregate usage sums the iterations.
	if spin.Usage.TotalTokens != 30 {
		t.Errorf("aggregate usage = %d, want 30", spin.Usage.TotalTokens)
	}
	// 1 seed generation + 3 iterations.
	if len(backend.Prompts) != 4 {
		t.Errorf("backend saw %d prompts, want 4", len(backend.Prompts))
	}
}

func TestExecuteCarouselWithOverridesIterations(t *testing.T) {
	exec := newTestExecutor(t, Config{})

	n := &narrative.Narrative{
		Name: "fanout",
		TOC:  []string{"spin"},
		Acts: map[string]narrative.ActConfig{
			"spin": {
				Inputs:   []narrative.Input{{Kind: narrative.InputText, Text: "go"}},
				Carousel: &narrative.CarouselConfig{Iterations: 3, EstimatedTokensPerIteration: 10},
			},
		},
	}

	result, err := exec.ExecuteCarouselWith(context.Background(), n, "spin", narrative.CarouselConfig{
		Iterations:                  2,
		EstimatedTokensPerIteration: 10,
	})
	if err != nil {
		t.Fatalf("ExecuteCarouselWith failed: %v", err)
	}
	if result.Acts[0].Carousel.Launched != 2 {
		t.Errorf("Launched = %d, want 2", result.Acts[0].Carousel.Launched)
	}
}

func TestExecuteCarouselUnknownTarget(t *testing.T) {
	exec := newTestExecutor(t, Config{})

	n := &narrative.Narrative{
		Name: "x",
		TOC:  []string{"a"},
		Acts: map[string]narrative.ActConfig{"a": textAct("x")},
	}

	if _, err := exec.ExecuteCarousel(context.Background(), n, "ghost"); !errors.Is(err, ErrUnknownAct) {
		t.Fatalf("err = %v, want ErrUnknownAct", err)
	}
}

func TestExecuteCarouselBudgetExhaustedAborts(t *testing.T) {
	limiter := carousel.NewLimiter(carousel.Budget{
		RequestsPerMinute: 100,
		TokensPerMinute:   50,
		RequestsPerDay:    100,
		TokensPerDay:      1000,
	})
	exec := newTestExecutor(t, Config{Limiter: limiter})

	n := &narrative.Narrative{
		Name: "starved",
		TOC:  []string{"spin"},
		Acts: map[string]narrative.ActConfig{
			"spin": {
				Inputs:   []narrative.Input{{Kind: narrative.InputText, Text: "go"}},
				Carousel: &narrative.CarouselConfig{Iterations: 2, EstimatedTokensPerIteration: 100},
			},
		},
	}

	result, err := exec.Execute(context.Background(), n)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("err = %v, want ErrBudgetExhausted", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
}

func TestExecuteCarouselCancelledContext(t *testing.T) {
	exec := newTestExecutor(t, Config{})

	n := &narrative.Narrative{
		Name: "cancelled",
		TOC:  []string{"spin"},
		Acts: map[string]narrative.ActConfig{
			"spin": {
				Inputs:   []narrative.Input{{Kind: narrative.InputText, Text: "go"}},
				Carousel: &narrative.CarouselConfig{Iterations: 2, EstimatedTokensPerIteration: 10},
			},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, n)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrBudgetExhausted) {
		t.Error("cancellation must not be reported as budget exhaustion")
	}
}
