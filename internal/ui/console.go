package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
)

type ConsoleStyle int

const (
	StyleNormal ConsoleStyle = iota
	StyleError
	StyleWarning
	StyleHeading
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorBold   = "\033[1m"
)

// Console renders human-facing diagnostics. Stdout belongs to the JSON reply, so
// everything a Console prints goes to its diagnostic writer.
type Console struct {
	w         io.Writer
	useColors bool
}

// NewConsole returns a console writing to w, with colors when w is a terminal.
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:         w,
		useColors: isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func (c *Console) formatMessage(style ConsoleStyle, message string) string {
	if !c.useColors {
		return message
	}

	var color string
	switch style {
	case StyleError:
		color = colorRed + colorBold
	case StyleWarning:
		color = colorYellow
	case StyleHeading:
		color = colorBlue + colorBold
	default:
		return message
	}

	return color + message + colorReset
}

func (c *Console) PrintError(message string) {
	fmt.Fprintf(c.w, "%s\n", c.formatMessage(StyleError, "Error: "+message))
}

func (c *Console) PrintWarning(message string) {
	fmt.Fprintf(c.w, "%s\n", c.formatMessage(StyleWarning, "Warning: "+message))
}

// PrintUsage writes the dispatcher usage text listing every tool name.
func (c *Console) PrintUsage(program string, tools []string) {
	fmt.Fprintf(c.w, "%s\n", c.formatMessage(StyleHeading, fmt.Sprintf("usage: %s <tool> [json_payload]", program)))
	fmt.Fprintf(c.w, "  tool: %s\n", strings.Join(tools, " | "))
	fmt.Fprintln(c.w, "  json_payload: JSON object for the tool, or omit to read it from stdin")
}

func (c *Console) FormatErrorMessage(context, cause, suggestion string) string {
	var parts []string

	if context != "" {
		parts = append(parts, context)
	}

	if cause != "" {
		parts = append(parts, fmt.Sprintf("Cause: %s", cause))
	}

	if suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", suggestion))
	}

	return strings.Join(parts, "\n")
}
