package engine

import "errors"

// Execution error taxonomy. Input-resolution failures wrap one of the first
// four; the executor maps them to the act's failure policy.
var (
	// ErrBotCommandFailed is returned when a required bot command input fails.
	ErrBotCommandFailed = errors.New("bot command failed")

	// ErrTableQueryFailed is returned when a table reference input fails.
	ErrTableQueryFailed = errors.New("table query failed")

	// ErrNestedNarrativeFailed is returned when a nested narrative input fails.
	ErrNestedNarrativeFailed = errors.New("nested narrative failed")

	// ErrMediaUnavailable is returned when a media reference cannot be fetched.
	ErrMediaUnavailable = errors.New("media unavailable")

	// ErrGeneration is returned when the generation backend fails.
	ErrGeneration = errors.New("generation failed")

	// ErrBudgetExhausted is returned when no carousel iteration could launch.
	ErrBudgetExhausted = errors.New("budget exhausted")

	// ErrMissingContext is returned when a {{act_name}} reference has not
	// completed or produced no response.
	ErrMissingContext = errors.New("missing context")

	// ErrPersistence is returned when the content store rejects an execution.
	ErrPersistence = errors.New("persistence failed")

	// ErrCyclicNarrative is returned when nested narrative recursion repeats
	// an in-flight narrative.
	ErrCyclicNarrative = errors.New("cyclic narrative invocation")

	// ErrUnknownAct is returned when a carousel target or TOC entry names
	// an act the narrative does not define.
	ErrUnknownAct = errors.New("unknown act")

	// ErrDepthExceeded is returned when nested narrative recursion exceeds
	// the configured depth cap.
	ErrDepthExceeded = errors.New("nesting depth exceeded")
)
