package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"adde/internal/app"
	"adde/internal/config"
	engerrors "adde/internal/errors"
	"adde/internal/ui"
	"adde/pkg/tools"
)

const program = "adde"

// maxPayloadBytes bounds a payload read from stdin.
const maxPayloadBytes = 64 << 20

// version is set at build time via ldflags
var version = "dev"

// errUsage marks argument errors that end with the usage text.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	console := ui.NewConsole(stderr)
	code := app.ExitOK

	var configPath string
	rootCmd := &cobra.Command{
		Use:     program + " <tool> [json_payload]",
		Short:   "ADDE - sandboxed code execution and image build engine",
		Version: version,
		Long: `ADDE runs agent code inside managed containers and builds images for them.
Each invocation runs one tool and writes a single JSON object to stdout.
The payload is read from stdin when it is not given as an argument.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errUsage
			}
			if _, ok := app.Lookup(args[0]); !ok {
				return errUsage
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			code = invoke(cmd.Context(), configPath, args, stdin, stdout, stderr, console)
			return nil
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML configuration file (default $ADDE_CONFIG)")
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stderr)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errUsage) {
			console.PrintError(err.Error())
		}
		console.PrintUsage(program, app.ToolNames())
		return app.ExitUsage
	}
	return code
}

func invoke(ctx context.Context, configPath string, args []string, stdin io.Reader, stdout, stderr io.Writer, console *ui.Console) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fail(stdout, err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	var reporter app.ErrorReporter
	handler, err := engerrors.NewErrorHandler(cfg.Log.Dir, console)
	if err != nil {
		slog.Warn("Error log unavailable", "error", err)
	} else {
		defer handler.Close()
		reporter = handler
	}

	var payload []byte
	if len(args) == 2 {
		payload = []byte(args[1])
	} else {
		payload, err = io.ReadAll(io.LimitReader(stdin, maxPayloadBytes))
		if err != nil {
			return fail(stdout, engerrors.NewIOError("Failed to read payload from stdin", err.Error(), "", err))
		}
	}

	return app.New(cfg, nil, reporter).Run(ctx, args[0], payload, stdout)
}

func fail(stdout io.Writer, err error) int {
	reply := tools.Failure{Error: engerrors.Message(err), ErrorKind: engerrors.KindOf(err)}
	if encErr := json.NewEncoder(stdout).Encode(reply); encErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", encErr)
	}
	return app.ExitFailure
}

func logLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
