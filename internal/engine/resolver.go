package engine

import (
	"context"
	"fmt"
	"strings"

	"stagehand/internal/logging"
	"stagehand/internal/narrative"
	"stagehand/internal/tables"
)

// nestedRunner executes a nested narrative on behalf of the resolver,
// threading the in-flight call stack for cycle detection.
type nestedRunner interface {
	runNested(ctx context.Context, name string, stack []string) (*NarrativeExecution, error)
}

// Resolver converts one act's heterogeneous input list into a single prompt
// payload. Resolved pieces concatenate in declared order, joined by the
// configured separator. Every input kind may block; the resolver returns
// only when all of them have.
type Resolver struct {
	commands  CommandRegistry
	tables    TableRegistry
	media     MediaStorage
	runner    nestedRunner
	separator string
}

// NewResolver creates a resolver over the given collaborators. Collaborators
// may be nil; inputs of the corresponding kind then fail to resolve.
func NewResolver(commands CommandRegistry, tableReg TableRegistry, media MediaStorage, runner nestedRunner, separator string) *Resolver {
	if separator == "" {
		separator = "\n\n"
	}
	return &Resolver{
		commands:  commands,
		tables:    tableReg,
		media:     media,
		runner:    runner,
		separator: separator,
	}
}

// Resolve produces the prompt payload for one act. contexts maps completed
// act names to their responses; stack is the in-flight narrative call chain.
func (r *Resolver) Resolve(ctx context.Context, act narrative.ActConfig, contexts map[string]string, stack []string) (string, error) {
	timer := logging.StartTimer(logging.CategoryResolver, "Resolve")
	defer timer.Stop()

	pieces := make([]string, 0, len(act.Inputs))
	for i, input := range act.Inputs {
		piece, err := r.resolveInput(ctx, input, contexts, stack)
		if err != nil {
			return "", fmt.Errorf("input %d (%s): %w", i, input.Kind, err)
		}
		pieces = append(pieces, piece)
	}

	return strings.Join(pieces, r.separator), nil
}

// resolveInput dispatches on the closed input-kind set.
func (r *Resolver) resolveInput(ctx context.Context, input narrative.Input, contexts map[string]string, stack []string) (string, error) {
	switch input.Kind {
	case narrative.InputText:
		return interpolate(input.Text, contexts)

	case narrative.InputMediaRef:
		return r.resolveMedia(ctx, input)

	case narrative.InputBotCommand:
		return r.resolveBotCommand(ctx, input, contexts)

	case narrative.InputTableReference:
		return r.resolveTable(ctx, input)

	case narrative.InputNestedNarrative:
		return r.resolveNested(ctx, input, stack)

	default:
		return "", fmt.Errorf("unknown input kind %q", input.Kind)
	}
}

func (r *Resolver) resolveMedia(ctx context.Context, input narrative.Input) (string, error) {
	if r.media == nil {
		return "", fmt.Errorf("%w: no media storage configured", ErrMediaUnavailable)
	}

	obj, err := r.media.Fetch(ctx, input.MediaRef)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMediaUnavailable, input.MediaRef, err)
	}

	// Textual media inlines directly; binary content becomes a reference
	// line since prompt embedding of raw bytes is backend-dependent.
	if isTextualMime(obj.Mime) {
		return string(obj.Data), nil
	}
	return fmt.Sprintf("[media: %s (%s, %d bytes)]", obj.Ref, obj.Mime, len(obj.Data)), nil
}

func (r *Resolver) resolveBotCommand(ctx context.Context, input narrative.Input, contexts map[string]string) (string, error) {
	if r.commands == nil {
		return r.degradeCommand(input, fmt.Errorf("no command registry configured"))
	}

	args, err := interpolateArgs(input.Args, contexts)
	if err != nil {
		return "", err
	}

	result, err := r.commands.Execute(ctx, input.Platform, input.Command, args)
	if err != nil {
		return r.degradeCommand(input, err)
	}
	return string(result), nil
}

// degradeCommand applies the per-input required flag: required commands fail
// the act, optional ones embed an inline error string and continue.
func (r *Resolver) degradeCommand(input narrative.Input, err error) (string, error) {
	if input.Required {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrBotCommandFailed, input.Platform, input.Command, err)
	}
	logging.Get(logging.CategoryResolver).Warn("Optional command %s/%s failed: %v", input.Platform, input.Command, err)
	return fmt.Sprintf("[command error: %s/%s: %v]", input.Platform, input.Command, err), nil
}

func (r *Resolver) resolveTable(ctx context.Context, input narrative.Input) (string, error) {
	if r.tables == nil {
		return "", fmt.Errorf("%w: no table registry configured", ErrTableQueryFailed)
	}

	rs, err := r.tables.Query(ctx, tables.Query{
		Table:   input.Table,
		Columns: input.Columns,
		Where:   input.Where,
		Limit:   input.Limit,
		Offset:  input.Offset,
		OrderBy: input.OrderBy,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTableQueryFailed, input.Table, err)
	}

	formatted, err := formatResultSet(rs, input.Format)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTableQueryFailed, input.Table, err)
	}
	return formatted, nil
}

func (r *Resolver) resolveNested(ctx context.Context, input narrative.Input, stack []string) (string, error) {
	if r.runner == nil {
		return "", fmt.Errorf("%w: no executor configured", ErrNestedNarrativeFailed)
	}

	logging.Resolver("Resolving nested narrative %q (stack depth %d)", input.Narrative, len(stack))

	exec, err := r.runner.runNested(ctx, input.Narrative, stack)
	if err != nil {
		// Double wrap keeps the nested cause matchable with errors.Is.
		return "", fmt.Errorf("%w: %s: %w", ErrNestedNarrativeFailed, input.Narrative, err)
	}
	return exec.FinalResponse(), nil
}

// interpolateArgs applies context interpolation to string argument values so
// commands can reference prior acts.
func interpolateArgs(args map[string]any, contexts map[string]string) (map[string]any, error) {
	if len(args) == 0 {
		return args, nil
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			resolved, err := interpolate(s, contexts)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
			continue
		}
		out[k] = v
	}
	return out, nil
}

func isTextualMime(mime string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/yaml":
		return true
	}
	return false
}
