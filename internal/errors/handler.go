package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"adde/internal/ui"
)

const (
	logFileName     = "adde.log"
	maxLogSizeBytes = 10 * 1024 * 1024
	maxLogFiles     = 5
)

// ErrorHandler writes every surfaced error twice: as a structured JSON record in
// the engine log file and as a human-readable message on the console.
type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
	closer  io.Closer
}

// NewErrorHandler opens (rotating if needed) adde.log under logDir. An empty
// logDir selects the OS-standard location.
func NewErrorHandler(logDir string, console *ui.Console) (*ErrorHandler, error) {
	logFile, err := createLogFile(logDir, console)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	return &ErrorHandler{
		logger:  logger,
		console: console,
		closer:  logFile,
	}, nil
}

// Close releases the log file.
func (h *ErrorHandler) Close() error {
	if h == nil || h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

// getOSStandardLogDir returns the OS-standard log directory path
func getOSStandardLogDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "ADDE"), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		// XDG Base Directory
		return filepath.Join(homeDir, ".local", "share", "adde", "logs"), nil
	case "windows":
		appDataDir := os.Getenv("APPDATA")
		if appDataDir == "" {
			return filepath.Join(homeDir, "AppData", "Roaming", "ADDE", "logs"), nil
		}
		return filepath.Join(appDataDir, "ADDE", "logs"), nil
	default:
		return filepath.Join(homeDir, ".adde", "logs"), nil
	}
}

// createLogDirectoryWithFallback creates the log directory, falling back to the
// system temp directory when the preferred one is not writable.
func createLogDirectoryWithFallback(override string, console *ui.Console) (string, error) {
	logDir, err := getOSStandardLogDir(override)
	if err == nil {
		if err = os.MkdirAll(logDir, 0750); err == nil {
			testFile := filepath.Join(logDir, ".test_write")
			f, testErr := os.Create(testFile)
			if testErr == nil {
				if err := f.Close(); err != nil {
					slog.Warn("Failed to close test file", "path", testFile, "error", err)
				}
				if err := os.Remove(testFile); err != nil {
					slog.Warn("Failed to remove test file", "path", testFile, "error", err)
				}
				return logDir, nil
			}
			err = testErr
		}
	}

	fallback := filepath.Join(os.TempDir(), "adde-logs")
	if mkErr := os.MkdirAll(fallback, 0750); mkErr != nil {
		return "", fmt.Errorf("cannot create fallback log directory %s: %w", fallback, mkErr)
	}
	if console != nil {
		console.PrintWarning(fmt.Sprintf("cannot access log directory %s (%v), logging to %s", logDir, err, fallback))
	}
	return fallback, nil
}

// rotateLogFile shifts adde.log -> adde.log.1 -> ... dropping the oldest.
func rotateLogFile(logPath string) error {
	for i := maxLogFiles - 1; i > 0; i-- {
		oldPath := fmt.Sprintf("%s.%d", logPath, i)
		newPath := fmt.Sprintf("%s.%d", logPath, i+1)

		if _, err := os.Stat(oldPath); err != nil {
			continue
		}
		if i == maxLogFiles-1 {
			if err := os.Remove(oldPath); err != nil {
				slog.Warn("Failed to remove old log file", "path", oldPath, "error", err)
			}
			continue
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			slog.Warn("Failed to rotate log file", "old", oldPath, "new", newPath, "error", err)
		}
	}

	if _, err := os.Stat(logPath); err == nil {
		return os.Rename(logPath, logPath+".1")
	}

	return nil
}

func checkLogRotation(logPath string) error {
	info, err := os.Stat(logPath)
	if err != nil {
		return nil
	}

	if info.Size() >= maxLogSizeBytes {
		return rotateLogFile(logPath)
	}

	return nil
}

func createLogFile(override string, console *ui.Console) (*os.File, error) {
	logDir, err := createLogDirectoryWithFallback(override, console)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, logFileName)

	if err := checkLogRotation(logPath); err != nil && console != nil {
		console.PrintWarning(fmt.Sprintf("failed to rotate log file: %v", err))
	}

	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// Handle records err for tool. A nil error is ignored.
func (h *ErrorHandler) Handle(tool string, err error) {
	if err == nil {
		return
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		h.handleEngineError(tool, engineErr)
	} else {
		h.handleGenericError(tool, err)
	}
}

func (h *ErrorHandler) handleEngineError(tool string, err *EngineError) {
	h.logStructuredError(tool, err)

	message := h.console.FormatErrorMessage(err.Context, err.Cause, err.Suggestion)
	if message == "" {
		message = err.Error()
	}
	h.console.PrintError(message)
}

func (h *ErrorHandler) handleGenericError(tool string, err error) {
	h.logger.Error("Unhandled error occurred",
		"tool", tool,
		"error", err.Error(),
		"type", KindOf(err),
	)

	h.console.PrintError(err.Error())
}

func (h *ErrorHandler) logStructuredError(tool string, err *EngineError) {
	logAttrs := []slog.Attr{
		slog.String("tool", tool),
		slog.String("error", err.Error()),
		slog.String("type", getErrorTypeName(err.Type)),
		slog.String("context", err.Context),
	}

	if err.Cause != "" {
		logAttrs = append(logAttrs, slog.String("cause", err.Cause))
	}

	if err.Suggestion != "" {
		logAttrs = append(logAttrs, slog.String("suggestion", err.Suggestion))
	}

	h.logger.LogAttrs(context.Background(), slog.LevelError, "ADDE error occurred", logAttrs...)
}
