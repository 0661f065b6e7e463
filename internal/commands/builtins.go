package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"text/template"
	"time"
)

// registerBuiltins installs the commands available on the builtin platform.
func registerBuiltins(r *InProcRegistry) {
	r.MustRegister(&Command{
		Platform:    "builtin",
		Name:        "time.now",
		Description: "Current timestamp, optionally formatted with a Go layout string",
		Handler:     timeNow,
	})

	r.MustRegister(&Command{
		Platform:    "builtin",
		Name:        "random.choice",
		Description: "Pick one element from the given options list",
		Required:    []string{"options"},
		Handler:     randomChoice,
	})

	r.MustRegister(&Command{
		Platform:    "builtin",
		Name:        "text.template",
		Description: "Render a Go text/template against the given data",
		Required:    []string{"template"},
		Handler:     textTemplate,
	})
}

func timeNow(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	layout := time.RFC3339
	if l, ok := args["format"].(string); ok && l != "" {
		layout = l
	}
	return json.Marshal(map[string]string{"now": time.Now().Format(layout)})
}

func randomChoice(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	options, ok := args["options"].([]any)
	if !ok || len(options) == 0 {
		return nil, fmt.Errorf("options must be a non-empty list")
	}
	return json.Marshal(map[string]any{"choice": options[rand.Intn(len(options))]})
}

func textTemplate(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	text, ok := args["template"].(string)
	if !ok {
		return nil, fmt.Errorf("template must be a string")
	}

	tmpl, err := template.New("command").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, args["data"]); err != nil {
		return nil, fmt.Errorf("template render failed: %w", err)
	}
	return json.Marshal(map[string]string{"rendered": buf.String()})
}
