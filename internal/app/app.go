package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"adde/internal/config"
	engerrors "adde/internal/errors"
	"adde/pkg/tools"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ErrorReporter records failed invocations outside the JSON reply.
type ErrorReporter interface {
	Handle(tool string, err error)
}

// App dispatches tool invocations against engines built by its factory.
type App struct {
	cfg      *config.Config
	factory  *EngineFactory
	reporter ErrorReporter
}

// New creates a dispatcher. reporter may be nil.
func New(cfg *config.Config, factory *EngineFactory, reporter ErrorReporter) *App {
	if factory == nil {
		factory = NewEngineFactory(cfg, nil)
	}
	return &App{cfg: cfg, factory: factory, reporter: reporter}
}

// Run executes one tool call, writes its JSON reply to out and returns the
// process exit code.
func (a *App) Run(ctx context.Context, toolName string, payload []byte, out io.Writer) int {
	invocationID := uuid.New().String()
	logger := slog.With("tool", toolName, "invocation", invocationID)
	start := time.Now()

	result, err := a.dispatch(ctx, toolName, payload)
	if err != nil {
		attrs := []any{"kind", engerrors.KindOf(err), "error", err, "duration", time.Since(start)}
		if a.reporter != nil {
			// The reporter prints the failure; keep the log line out of the way.
			logger.Debug("Tool failed", attrs...)
			a.reporter.Handle(toolName, err)
		} else {
			logger.Warn("Tool failed", attrs...)
		}
		return a.reply(out, failureReply(result, err), ExitFailure)
	}

	logger.Info("Tool completed", "duration", time.Since(start))
	return a.reply(out, result, ExitOK)
}

func (a *App) dispatch(ctx context.Context, toolName string, payload []byte) (any, error) {
	tool, ok := Lookup(toolName)
	if !ok {
		return nil, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Unknown tool %q", toolName),
			"no tool is registered under that name",
			"Run without arguments to list the available tools",
			nil,
		)
	}

	invoke, err := tool.Prepare(payload)
	if err != nil {
		return nil, err
	}

	engine, release, err := a.factory.Engine(ctx, tool.NeedsRuntime)
	defer release()
	if err != nil {
		return nil, err
	}

	if tool.Budget != nil {
		if budget := tool.Budget(a.cfg); budget > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}
	}

	result, err := invoke(ctx, engine)
	if err != nil && engerrors.KindOf(err) == "unknown" {
		err = engerrors.FromRuntime(toolName, err)
	}
	return result, err
}

// failureReply keeps partial data when the result can carry its own failure.
func failureReply(result any, err error) any {
	if f, ok := result.(tools.Failable); ok && !isNil(f) {
		f.Fail(engerrors.KindOf(err), engerrors.Message(err))
		return f
	}
	return &tools.Failure{Error: engerrors.Message(err), ErrorKind: engerrors.KindOf(err)}
}

func (a *App) reply(out io.Writer, v any, code int) int {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to write reply", "error", err)
		return ExitFailure
	}
	return code
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
