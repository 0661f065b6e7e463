package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/carousel"
	"stagehand/internal/llm"
	"stagehand/internal/logging"
	"stagehand/internal/narrative"
)

// Executor drives TOC-ordered act execution for one narrative. It owns the
// act-name -> response context map, delegates input resolution to the
// Resolver and carousel acts to the carousel Controller, and hands finished
// executions to the content store.
//
// No two acts of one narrative ever run concurrently; carousel iterations
// are the only source of intra-narrative parallelism.
type Executor struct {
	library    narrative.Loader
	backend    llm.GenerationBackend
	store      ContentStore
	limiter    *carousel.Limiter
	controller *carousel.Controller
	resolver   *Resolver
	usage      UsageRecorder
	maxDepth   int
	policy     narrative.FailurePolicy
}

// Config wires the executor's collaborators.
type Config struct {
	Library  narrative.Loader
	Backend  llm.GenerationBackend
	Store    ContentStore
	Commands CommandRegistry
	Tables   TableRegistry
	Media    MediaStorage
	Limiter  *carousel.Limiter
	Usage    UsageRecorder // optional

	// Separator joins resolved input pieces (default two newlines).
	Separator string
	// MaxDepth caps nested narrative recursion (default 8).
	MaxDepth int
	// DefaultPolicy applies when neither the act nor the narrative sets a
	// failure policy (default abort).
	DefaultPolicy narrative.FailurePolicy
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) *Executor {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 8
	}
	policy := cfg.DefaultPolicy
	if policy == "" {
		policy = narrative.FailAbort
	}

	e := &Executor{
		library:    cfg.Library,
		backend:    cfg.Backend,
		store:      cfg.Store,
		limiter:    cfg.Limiter,
		controller: carousel.NewController(cfg.Limiter),
		usage:      cfg.Usage,
		maxDepth:   maxDepth,
		policy:     policy,
	}
	e.resolver = NewResolver(cfg.Commands, cfg.Tables, cfg.Media, e, cfg.Separator)
	return e
}

// Execute runs every act of the narrative in TOC order and returns the full
// execution record. The returned execution is non-nil even on failure so
// partial progress stays inspectable; the error mirrors exec.Err.
func (e *Executor) Execute(ctx context.Context, n *narrative.Narrative) (*NarrativeExecution, error) {
	return e.execute(ctx, n, nil, nil)
}

// ExecuteCarousel runs the narrative with the target act delegated to the
// carousel controller. The carousel's aggregate result is treated as a
// single act outcome in the parent TOC, with the same ordering and abort
// rules applying at the carousel boundary.
func (e *Executor) ExecuteCarousel(ctx context.Context, n *narrative.Narrative, target string) (*NarrativeExecution, error) {
	if _, ok := n.Act(target); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAct, target)
	}

	cfg := n.Acts[target].Carousel
	if cfg == nil {
		cfg = n.Carousel
	}
	if cfg == nil {
		return nil, fmt.Errorf("narrative %q has no carousel config for act %q", n.Name, target)
	}

	return e.ExecuteCarouselWith(ctx, n, target, *cfg)
}

// ExecuteCarouselWith is ExecuteCarousel with an explicit carousel
// configuration, overriding whatever the document declares for the target.
func (e *Executor) ExecuteCarouselWith(ctx context.Context, n *narrative.Narrative, target string, cfg narrative.CarouselConfig) (*NarrativeExecution, error) {
	if _, ok := n.Act(target); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAct, target)
	}

	return e.execute(ctx, n, nil, map[string]*narrative.CarouselConfig{target: &cfg})
}

// runNested implements nestedRunner for the resolver.
func (e *Executor) runNested(ctx context.Context, name string, stack []string) (*NarrativeExecution, error) {
	if e.library == nil {
		return nil, fmt.Errorf("no narrative library configured")
	}

	nested, err := e.library.Load(name)
	if err != nil {
		return nil, err
	}

	exec, err := e.execute(ctx, nested, stack, nil)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// execute is the single driving loop behind Execute, ExecuteCarousel, and
// nested invocation. stack carries the in-flight narrative call chain;
// carouselOverride forces carousel treatment for the named acts.
func (e *Executor) execute(ctx context.Context, n *narrative.Narrative, stack []string, carouselOverride map[string]*narrative.CarouselConfig) (*NarrativeExecution, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "execute "+n.Name)
	defer timer.StopWithInfo()

	// Cycle detection: a repeated in-flight identifier fails fast instead of
	// recursing unboundedly.
	for _, inFlight := range stack {
		if inFlight == n.Name {
			return nil, fmt.Errorf("%w: %s (stack: %s)", ErrCyclicNarrative, n.Name, strings.Join(stack, " -> "))
		}
	}
	if len(stack) >= e.maxDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrDepthExceeded, len(stack))
	}
	stack = append(stack, n.Name)

	exec := &NarrativeExecution{
		ID:        uuid.NewString(),
		Narrative: n.Name,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	contexts := make(map[string]string, len(n.TOC))

	logging.Engine("Execution %s starting: narrative=%q, acts=%d, depth=%d", exec.ID, n.Name, len(n.TOC), len(stack))

	for _, actName := range n.TOC {
		actCfg := n.Acts[actName]

		carouselCfg := actCfg.Carousel
		if override, ok := carouselOverride[actName]; ok {
			carouselCfg = override
		}

		var actExec ActExecution
		var actErr error
		if carouselCfg != nil {
			actExec, actErr = e.runCarouselAct(ctx, n, actName, actCfg, *carouselCfg, contexts, stack)
		} else {
			actExec, actErr = e.runAct(ctx, n, actName, actCfg, contexts, stack)
		}

		exec.Acts = append(exec.Acts, actExec)

		if actErr != nil {
			policy := e.policyFor(n, actName)
			logging.Get(logging.CategoryEngine).Warn("Act %q failed (policy=%s): %v", actName, policy, actErr)

			if policy == narrative.FailAbort {
				exec.Status = StatusFailed
				exec.Err = actErr.Error()
				exec.FinishedAt = time.Now()
				e.persistBestEffort(ctx, exec)
				return exec, actErr
			}

			// RecordAndContinue: the error lives on the act record and the
			// act contributes an empty context entry.
			contexts[actName] = ""
			continue
		}

		contexts[actName] = actExec.Response
	}

	// The final act's output reaches the store before the execution is
	// marked completed.
	if e.store != nil {
		if _, err := e.store.Persist(ctx, exec); err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrPersistence, err)
			exec.Status = StatusFailed
			exec.Err = wrapped.Error()
			exec.FinishedAt = time.Now()
			return exec, wrapped
		}
	}

	exec.Status = StatusCompleted
	exec.FinishedAt = time.Now()
	logging.Engine("Execution %s completed: %d acts", exec.ID, len(exec.Acts))
	return exec, nil
}

// runAct executes one plain act: resolve, interpolate, generate, process
// output. The returned ActExecution is recorded even when err is non-nil.
func (e *Executor) runAct(ctx context.Context, n *narrative.Narrative, actName string, actCfg narrative.ActConfig, contexts map[string]string, stack []string) (ActExecution, error) {
	actExec := ActExecution{
		ActName:   actName,
		StartedAt: time.Now(),
	}

	prompt, err := e.resolver.Resolve(ctx, actCfg, contexts, stack)
	if err != nil {
		actExec.Err = err.Error()
		actExec.FinishedAt = time.Now()
		return actExec, err
	}
	actExec.Prompt = prompt

	gen, err := e.generate(ctx, n.Name, actName, prompt, actCfg.Params)
	if err != nil {
		wrapped := fmt.Errorf("%w: act %q: %v", ErrGeneration, actName, err)
		actExec.Err = wrapped.Error()
		actExec.FinishedAt = time.Now()
		return actExec, wrapped
	}

	actExec.Response = gen.Text
	actExec.Model = gen.Model
	actExec.FinishReason = gen.FinishReason
	actExec.Usage = gen.Usage

	if actCfg.OutputTable != "" && e.store != nil {
		if _, err := e.store.ProcessActOutput(ctx, actCfg.OutputTable, gen.Text); err != nil {
			wrapped := fmt.Errorf("%w: act %q output into table %q: %v", ErrPersistence, actName, actCfg.OutputTable, err)
			actExec.Err = wrapped.Error()
			actExec.FinishedAt = time.Now()
			return actExec, wrapped
		}
		logging.EngineDebug("Act %q output processed into table %q", actName, actCfg.OutputTable)
	}

	actExec.FinishedAt = time.Now()
	return actExec, nil
}

// runCarouselAct delegates one act to the carousel controller. Each
// iteration resolves the act's inputs against its own copy of the parent
// context map and generates independently; only the budget tracker and the
// store's connection pool are shared.
func (e *Executor) runCarouselAct(ctx context.Context, n *narrative.Narrative, actName string, actCfg narrative.ActConfig, carouselCfg narrative.CarouselConfig, contexts map[string]string, stack []string) (ActExecution, error) {
	actExec := ActExecution{
		ActName:   actName,
		StartedAt: time.Now(),
	}

	result, err := e.controller.Run(ctx, carouselCfg, func(iterCtx context.Context, iteration int) (*carousel.IterationResult, error) {
		iterContexts := copyContexts(contexts)

		prompt, err := e.resolver.Resolve(iterCtx, actCfg, iterContexts, stack)
		if err != nil {
			return nil, err
		}

		gen, err := e.generate(iterCtx, n.Name, actName, prompt, actCfg.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
		}

		if actCfg.OutputTable != "" && e.store != nil {
			if _, err := e.store.ProcessActOutput(iterCtx, actCfg.OutputTable, gen.Text); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
		}

		return &carousel.IterationResult{
			Response: gen.Text,
			Usage:    gen.Usage,
		}, nil
	})

	actExec.Carousel = result
	if result != nil {
		actExec.Response = joinCarouselResponses(result)
		for _, o := range result.Outcomes {
			actExec.Usage.PromptTokens += o.Usage.PromptTokens
			actExec.Usage.CompletionTokens += o.Usage.CompletionTokens
			actExec.Usage.TotalTokens += o.Usage.TotalTokens
		}
	}
	actExec.FinishedAt = time.Now()

	if err != nil {
		// Zero launches under an already-cancelled context is a cancellation,
		// not budget exhaustion.
		var wrapped error
		if ctxErr := ctx.Err(); ctxErr != nil {
			wrapped = fmt.Errorf("act %q: %w", actName, ctxErr)
		} else {
			wrapped = fmt.Errorf("%w: act %q: %v", ErrBudgetExhausted, actName, err)
		}
		actExec.Err = wrapped.Error()
		return actExec, wrapped
	}
	if result.Failed {
		wrapped := fmt.Errorf("carousel act %q failed: %s", actName, firstFailure(result))
		actExec.Err = wrapped.Error()
		return actExec, wrapped
	}

	return actExec, nil
}

// generate calls the backend and records true usage with the rate limiter
// and the usage ledger.
func (e *Executor) generate(ctx context.Context, narrName, actName, prompt string, params narrative.GenParams) (*llm.Generation, error) {
	gen, err := e.backend.Generate(ctx, prompt, llm.Params{
		Model:       params.Model,
		System:      params.System,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		// A failed call still consumed a request slot.
		if e.limiter != nil {
			e.limiter.Record(1, 0)
		}
		return nil, err
	}

	if e.limiter != nil {
		e.limiter.Record(1, gen.Usage.TotalTokens)
	}
	if e.usage != nil {
		e.usage.Record(ctx, narrName, actName, gen.Model, gen.Usage)
	}
	return gen, nil
}

// policyFor resolves the effective failure policy: act override, then
// narrative default, then the executor-wide default.
func (e *Executor) policyFor(n *narrative.Narrative, act string) narrative.FailurePolicy {
	if cfg, ok := n.Acts[act]; ok && cfg.OnFailure != "" {
		return cfg.OnFailure
	}
	if n.OnFailure != "" {
		return n.OnFailure
	}
	return e.policy
}

// persistBestEffort saves a failed execution so partial progress remains
// inspectable. Persistence errors here are logged, not surfaced; the
// original act failure stays the authoritative error.
func (e *Executor) persistBestEffort(ctx context.Context, exec *NarrativeExecution) {
	if e.store == nil {
		return
	}
	if _, err := e.store.Persist(ctx, exec); err != nil {
		logging.Get(logging.CategoryEngine).Error("Failed to persist aborted execution %s: %v", exec.ID, err)
	}
}

func copyContexts(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// joinCarouselResponses concatenates completed iteration responses in launch
// order; the aggregate stands in as the act's single response.
func joinCarouselResponses(result *carousel.Result) string {
	responses := make([]string, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		if o.Status == carousel.IterationCompleted && o.Response != "" {
			responses = append(responses, o.Response)
		}
	}
	return strings.Join(responses, "\n\n")
}

func firstFailure(result *carousel.Result) string {
	for _, o := range result.Outcomes {
		if o.Status == carousel.IterationFailed {
			return fmt.Sprintf("iteration %d: %s", o.Index, o.Err)
		}
	}
	return "unknown iteration failure"
}
