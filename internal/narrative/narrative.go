// Package narrative defines the narrative document model: named, ordered
// workflows of acts, each act producing one generation call. Narratives are
// loaded from YAML documents and are immutable once loaded.
package narrative

import "fmt"

// FailurePolicy controls how an act failure propagates to the narrative.
type FailurePolicy string

const (
	// FailAbort stops the whole narrative on the first act failure,
	// retaining every act completed so far.
	FailAbort FailurePolicy = "abort"
	// FailContinue records the error on the failing act and continues with
	// an empty context entry for it.
	FailContinue FailurePolicy = "continue"
)

// InputKind identifies one of the five supported act input variants.
type InputKind string

const (
	InputText            InputKind = "text"
	InputMediaRef        InputKind = "media_ref"
	InputBotCommand      InputKind = "bot_command"
	InputTableReference  InputKind = "table_reference"
	InputNestedNarrative InputKind = "nested_narrative"
)

// TableFormat selects how table rows render into prompt text.
type TableFormat string

const (
	FormatJSON     TableFormat = "json"
	FormatMarkdown TableFormat = "markdown"
	FormatCSV      TableFormat = "csv"
)

// Input is one entry of an act's ordered input list. Kind selects which of
// the variant fields is meaningful; the set is closed.
type Input struct {
	Kind InputKind `yaml:"kind"`

	// Text: literal content, subject to {{act_name}} interpolation.
	Text string `yaml:"text,omitempty"`

	// MediaRef: reference resolved by the media storage collaborator.
	MediaRef string `yaml:"media_ref,omitempty"`

	// BotCommand fields.
	Platform string         `yaml:"platform,omitempty"`
	Command  string         `yaml:"command,omitempty"`
	Args     map[string]any `yaml:"args,omitempty"`
	Required bool           `yaml:"required,omitempty"`

	// TableReference fields.
	Table   string      `yaml:"table,omitempty"`
	Columns []string    `yaml:"columns,omitempty"`
	Where   string      `yaml:"where,omitempty"`
	Limit   int         `yaml:"limit,omitempty"`
	Offset  int         `yaml:"offset,omitempty"`
	OrderBy string      `yaml:"order_by,omitempty"`
	Format  TableFormat `yaml:"format,omitempty"`

	// NestedNarrative: name of the narrative to invoke recursively.
	Narrative string `yaml:"narrative,omitempty"`
}

// GenParams are the generation parameters for one act.
type GenParams struct {
	Model       string  `yaml:"model,omitempty"`
	System      string  `yaml:"system,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// CarouselConfig configures budget-gated parallel repetition of an act.
type CarouselConfig struct {
	Iterations                  int   `yaml:"iterations"`
	EstimatedTokensPerIteration int64 `yaml:"estimated_tokens_per_iteration"`
	ContinueOnError             bool  `yaml:"continue_on_error"`
}

// ActConfig describes one step of a narrative.
type ActConfig struct {
	Inputs []Input   `yaml:"inputs"`
	Params GenParams `yaml:"params,omitempty"`

	// OutputTable, when set, routes the act's response through the content
	// processor into the named table so later acts can query it.
	OutputTable string `yaml:"output_table,omitempty"`

	// OnFailure overrides the narrative-level failure policy for this act.
	OnFailure FailurePolicy `yaml:"on_failure,omitempty"`

	Carousel *CarouselConfig `yaml:"carousel,omitempty"`
}

// Narrative is a named, ordered workflow of acts. The TOC gives the
// execution order; Acts maps act names to their configuration.
type Narrative struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description,omitempty"`
	TOC         []string             `yaml:"toc"`
	Acts        map[string]ActConfig `yaml:"acts"`

	// OnFailure is the narrative-level default failure policy.
	OnFailure FailurePolicy `yaml:"on_failure,omitempty"`

	Carousel *CarouselConfig `yaml:"carousel,omitempty"`
}

// Act returns the configuration for the named act.
func (n *Narrative) Act(name string) (ActConfig, bool) {
	act, ok := n.Acts[name]
	return act, ok
}

// PolicyFor returns the effective failure policy for the named act:
// act-level override, then narrative default, then abort.
func (n *Narrative) PolicyFor(act string) FailurePolicy {
	if cfg, ok := n.Acts[act]; ok && cfg.OnFailure != "" {
		return cfg.OnFailure
	}
	if n.OnFailure != "" {
		return n.OnFailure
	}
	return FailAbort
}

// Validate checks structural invariants of a loaded narrative.
func (n *Narrative) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("narrative has no name")
	}
	if len(n.TOC) == 0 {
		return fmt.Errorf("narrative %q has an empty toc", n.Name)
	}

	seen := make(map[string]bool, len(n.TOC))
	for _, actName := range n.TOC {
		if seen[actName] {
			return fmt.Errorf("narrative %q: act %q appears twice in toc", n.Name, actName)
		}
		seen[actName] = true

		act, ok := n.Acts[actName]
		if !ok {
			return fmt.Errorf("narrative %q: toc references unknown act %q", n.Name, actName)
		}
		if err := validateAct(n.Name, actName, act); err != nil {
			return err
		}
	}

	for actName := range n.Acts {
		if !seen[actName] {
			return fmt.Errorf("narrative %q: act %q is not in the toc", n.Name, actName)
		}
	}

	switch n.OnFailure {
	case "", FailAbort, FailContinue:
	default:
		return fmt.Errorf("narrative %q: unknown failure policy %q", n.Name, n.OnFailure)
	}

	if n.Carousel != nil {
		if err := validateCarousel(n.Name, n.Carousel); err != nil {
			return err
		}
	}

	return nil
}

func validateAct(narrName, actName string, act ActConfig) error {
	if len(act.Inputs) == 0 {
		return fmt.Errorf("narrative %q: act %q has no inputs", narrName, actName)
	}

	for i, in := range act.Inputs {
		switch in.Kind {
		case InputText:
			if in.Text == "" {
				return fmt.Errorf("narrative %q: act %q input %d: empty text", narrName, actName, i)
			}
		case InputMediaRef:
			if in.MediaRef == "" {
				return fmt.Errorf("narrative %q: act %q input %d: empty media_ref", narrName, actName, i)
			}
		case InputBotCommand:
			if in.Platform == "" || in.Command == "" {
				return fmt.Errorf("narrative %q: act %q input %d: bot_command needs platform and command", narrName, actName, i)
			}
		case InputTableReference:
			if in.Table == "" {
				return fmt.Errorf("narrative %q: act %q input %d: table_reference needs table", narrName, actName, i)
			}
			switch in.Format {
			case "", FormatJSON, FormatMarkdown, FormatCSV:
			default:
				return fmt.Errorf("narrative %q: act %q input %d: unknown table format %q", narrName, actName, i, in.Format)
			}
		case InputNestedNarrative:
			if in.Narrative == "" {
				return fmt.Errorf("narrative %q: act %q input %d: nested_narrative needs narrative", narrName, actName, i)
			}
		default:
			return fmt.Errorf("narrative %q: act %q input %d: unknown input kind %q", narrName, actName, i, in.Kind)
		}
	}

	switch act.OnFailure {
	case "", FailAbort, FailContinue:
	default:
		return fmt.Errorf("narrative %q: act %q: unknown failure policy %q", narrName, actName, act.OnFailure)
	}

	if act.Carousel != nil {
		if err := validateCarousel(narrName, act.Carousel); err != nil {
			return err
		}
	}

	return nil
}

func validateCarousel(narrName string, c *CarouselConfig) error {
	if c.Iterations <= 0 {
		return fmt.Errorf("narrative %q: carousel iterations must be > 0, got %d", narrName, c.Iterations)
	}
	if c.EstimatedTokensPerIteration < 0 {
		return fmt.Errorf("narrative %q: carousel estimated_tokens_per_iteration must be >= 0", narrName)
	}
	return nil
}
