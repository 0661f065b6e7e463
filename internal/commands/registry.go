// Package commands implements the bot command registry: named commands on
// named platforms that acts can invoke as inputs. Commands return JSON that
// is embedded into the act's prompt.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"stagehand/internal/logging"
)

// Handler executes one command invocation.
type Handler func(ctx context.Context, args map[string]any) (json.RawMessage, error)

// Command pairs a handler with its metadata.
type Command struct {
	Platform    string
	Name        string
	Description string
	Required    []string // Required argument keys
	Handler     Handler
}

// Validate checks the command definition.
func (c *Command) Validate() error {
	if c.Platform == "" {
		return fmt.Errorf("command has no platform")
	}
	if c.Name == "" {
		return fmt.Errorf("command has no name")
	}
	if c.Handler == nil {
		return fmt.Errorf("command %s/%s has no handler", c.Platform, c.Name)
	}
	return nil
}

// Registry resolves (platform, command) pairs to handlers. The executor
// calls Execute for bot_command inputs; implementations must be safe for
// concurrent use since carousel iterations share one registry.
type Registry interface {
	Execute(ctx context.Context, platform, command string, args map[string]any) (json.RawMessage, error)
	Supports(platform, command string) bool
}

// InProcRegistry is a thread-safe in-process Registry supporting runtime
// registration.
type InProcRegistry struct {
	mu       sync.RWMutex
	commands map[string]*Command // key: platform + "/" + name
}

// NewRegistry creates an empty registry.
func NewRegistry() *InProcRegistry {
	return &InProcRegistry{
		commands: make(map[string]*Command),
	}
}

// NewDefaultRegistry creates a registry with the builtin commands installed.
func NewDefaultRegistry() *InProcRegistry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

func key(platform, name string) string {
	return platform + "/" + name
}

// Register adds a command. Returns an error if the (platform, name) pair is
// already registered.
func (r *InProcRegistry) Register(cmd *Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(cmd.Platform, cmd.Name)
	if _, exists := r.commands[k]; exists {
		return fmt.Errorf("command already registered: %s", k)
	}
	r.commands[k] = cmd

	logging.CommandsDebug("Registered command %s", k)
	return nil
}

// MustRegister registers a command and panics on error. Use for static
// registration at init time.
func (r *InProcRegistry) MustRegister(cmd *Command) {
	if err := r.Register(cmd); err != nil {
		panic(fmt.Sprintf("failed to register command %s/%s: %v", cmd.Platform, cmd.Name, err))
	}
}

// Supports reports whether the (platform, command) pair is registered.
func (r *InProcRegistry) Supports(platform, command string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[key(platform, command)]
	return ok
}

// Names returns all registered command keys, sorted.
func (r *InProcRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for k := range r.commands {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Execute runs a command with the given arguments.
func (r *InProcRegistry) Execute(ctx context.Context, platform, command string, args map[string]any) (json.RawMessage, error) {
	r.mu.RLock()
	cmd, ok := r.commands[key(platform, command)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("command not found: %s/%s", platform, command)
	}

	for _, required := range cmd.Required {
		if _, present := args[required]; !present {
			return nil, fmt.Errorf("command %s/%s: missing required argument %q", platform, command, required)
		}
	}

	start := time.Now()
	logging.CommandsDebug("Executing %s/%s", platform, command)
	result, err := cmd.Handler(ctx, args)
	logging.CommandsDebug("Command %s/%s completed in %v (success=%v)", platform, command, time.Since(start), err == nil)

	if err != nil {
		return nil, fmt.Errorf("command %s/%s failed: %w", platform, command, err)
	}
	return result, nil
}
