package app

import (
	"context"
	"sort"
	"time"

	"adde/internal/config"
	"adde/internal/parser"
)

// Tool is one named engine operation reachable from the CLI.
type Tool struct {
	Name         string
	Description  string
	NeedsRuntime bool
	// Budget bounds the whole invocation; zero leaves timing to the component.
	Budget func(cfg *config.Config) time.Duration
	// Prepare decodes and validates the payload before any runtime is touched.
	Prepare func(payload []byte) (Invocation, error)
}

// Invocation runs a prepared tool call against an engine.
type Invocation func(ctx context.Context, e *Engine) (any, error)

// bind adapts a typed tool function into a Prepare func.
func bind[P any](tool string, run func(ctx context.Context, e *Engine, p *P) (any, error)) func([]byte) (Invocation, error) {
	return func(payload []byte) (Invocation, error) {
		var p P
		if err := parser.DecodeParams(tool, payload, &p); err != nil {
			return nil, err
		}
		return func(ctx context.Context, e *Engine) (any, error) {
			return run(ctx, e, &p)
		}, nil
	}
}

var toolRegistry = map[string]Tool{}

func register(t Tool) {
	if _, dup := toolRegistry[t.Name]; dup {
		panic("duplicate tool " + t.Name)
	}
	toolRegistry[t.Name] = t
}

// Lookup returns the tool registered under name.
func Lookup(name string) (Tool, bool) {
	t, ok := toolRegistry[name]
	return t, ok
}

// ToolNames lists registered tools in sorted order.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func containerBudget(cfg *config.Config) time.Duration {
	return cfg.Timeouts.Container
}

// createBudget covers container creation plus the dependency install.
func createBudget(cfg *config.Config) time.Duration {
	return cfg.Timeouts.Container + cfg.Timeouts.Install
}

// stagingBudget covers a clone plus copying the checkout.
func stagingBudget(cfg *config.Config) time.Duration {
	return cfg.Timeouts.Clone + cfg.Timeouts.Container
}
