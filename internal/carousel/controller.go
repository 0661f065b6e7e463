package carousel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"stagehand/internal/llm"
	"stagehand/internal/logging"
	"stagehand/internal/narrative"
)

// IterationStatus classifies one carousel iteration's outcome.
type IterationStatus string

const (
	IterationCompleted       IterationStatus = "completed"
	IterationFailed          IterationStatus = "failed"
	IterationBudgetExhausted IterationStatus = "budget_exhausted"
)

// Outcome is the result of one iteration, indexed by launch order.
type Outcome struct {
	Index    int             `json:"index"`
	Status   IterationStatus `json:"status"`
	Response string          `json:"response,omitempty"`
	Usage    llm.TokenUsage  `json:"usage"`
	Err      string          `json:"error,omitempty"`
}

// Result aggregates a carousel run: per-iteration outcomes in launch order
// plus the final budget snapshot.
type Result struct {
	Outcomes    []Outcome `json:"outcomes"`
	Launched    int       `json:"launched"`
	Failed      bool      `json:"failed"`
	FinalBudget Budget    `json:"final_budget"`
}

// IterationResult is what one successful iteration produces.
type IterationResult struct {
	Response string
	Usage    llm.TokenUsage
}

// IterationFunc runs a single iteration. Each invocation gets its own
// resolution context; implementations share only the BudgetTracker and
// pooled store connections.
type IterationFunc func(ctx context.Context, iteration int) (*IterationResult, error)

// ErrNoIterations is returned when budget headroom admits zero iterations.
var ErrNoIterations = fmt.Errorf("budget exhausted before any iteration could launch")

// Controller runs budget-gated concurrent iterations of an act.
type Controller struct {
	limiter *Limiter
}

// NewController creates a controller gating against the given rate limiter.
func NewController(limiter *Limiter) *Controller {
	return &Controller{limiter: limiter}
}

// Run executes up to cfg.Iterations concurrent iterations.
//
// No iteration starts without first reserving its estimated capacity against
// a tracker snapshotted from the limiter at entry. A failed reservation stops
// further launches but never cancels iterations already running; unlaunched
// iterations are recorded as budget_exhausted. Outcomes are ordered by launch
// index regardless of completion order. The only hard failure from budget
// exhaustion is when zero iterations could launch.
func (c *Controller) Run(ctx context.Context, cfg narrative.CarouselConfig, fn IterationFunc) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryCarousel, "Run")
	defer timer.StopWithInfo()

	headroom := c.limiter.Headroom()
	tracker := NewBudgetTracker(headroom)

	logging.Carousel("Carousel starting: iterations=%d, est_tokens=%d, continue_on_error=%v, headroom=%+v",
		cfg.Iterations, cfg.EstimatedTokensPerIteration, cfg.ContinueOnError, headroom)

	result := &Result{
		Outcomes: make([]Outcome, cfg.Iterations),
	}

	// Launch phase: reserve-then-launch in index order. Launched iterations
	// are never cancelled, so the group carries no shared context cancellation.
	var group errgroup.Group
	launched := 0
	for i := 0; i < cfg.Iterations; i++ {
		if ctx.Err() != nil {
			logging.Carousel("Context done before iteration %d launched: %v", i, ctx.Err())
			markUnlaunched(result.Outcomes, i, ctx.Err().Error())
			break
		}

		if !tracker.TryReserve(1, cfg.EstimatedTokensPerIteration) {
			logging.Carousel("Budget exhausted at iteration %d: %+v", i, tracker.Snapshot())
			markUnlaunched(result.Outcomes, i, "")
			break
		}

		idx := i
		launched++
		group.Go(func() error {
			c.runIteration(ctx, idx, cfg, tracker, fn, &result.Outcomes[idx])
			return nil
		})
	}

	// Join phase: the carousel is not done until every launched iteration
	// has finished.
	_ = group.Wait()

	result.Launched = launched
	result.FinalBudget = tracker.Snapshot()

	if launched == 0 {
		result.Failed = true
		logging.Get(logging.CategoryCarousel).Error("Carousel failed: zero iterations launched")
		return result, ErrNoIterations
	}

	for _, o := range result.Outcomes[:launched] {
		if o.Status == IterationFailed {
			if !cfg.ContinueOnError {
				result.Failed = true
			}
		}
	}

	logging.Carousel("Carousel done: launched=%d/%d, failed=%v, final_budget=%+v",
		launched, cfg.Iterations, result.Failed, result.FinalBudget)

	return result, nil
}

// runIteration executes one launched iteration and reconciles its reserved
// estimate against true usage.
func (c *Controller) runIteration(ctx context.Context, idx int, cfg narrative.CarouselConfig, tracker *BudgetTracker, fn IterationFunc, out *Outcome) {
	out.Index = idx

	iterResult, err := fn(ctx, idx)
	if err != nil {
		out.Status = IterationFailed
		out.Err = err.Error()
		logging.Get(logging.CategoryCarousel).Warn("Iteration %d failed: %v", idx, err)
		return
	}

	out.Status = IterationCompleted
	out.Response = iterResult.Response
	out.Usage = iterResult.Usage

	// Post-call reconciliation: return over-estimated tokens to the pool.
	// Under-estimates are absorbed.
	if unused := cfg.EstimatedTokensPerIteration - iterResult.Usage.TotalTokens; unused > 0 {
		tracker.ReleaseUnused(0, unused)
	}

	logging.CarouselDebug("Iteration %d completed: tokens=%d (estimated %d)",
		idx, iterResult.Usage.TotalTokens, cfg.EstimatedTokensPerIteration)
}

// markUnlaunched records budget_exhausted outcomes for every iteration from
// start onward. An optional reason overrides the default error text.
func markUnlaunched(outcomes []Outcome, start int, reason string) {
	if reason == "" {
		reason = "insufficient budget headroom"
	}
	for i := start; i < len(outcomes); i++ {
		outcomes[i] = Outcome{
			Index:  i,
			Status: IterationBudgetExhausted,
			Err:    reason,
		}
	}
}
