package harness

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	engerrors "adde/internal/errors"
)

// Launcher runs one source file. The file path is appended to Argv.
type Launcher struct {
	Language string
	Argv     []string
}

// launchers is the closed extension table. Callers pick a file name, never a
// command.
var launchers = map[string]Launcher{
	".py":   {Language: "python", Argv: []string{"python3"}},
	".js":   {Language: "javascript", Argv: []string{"node"}},
	".mjs":  {Language: "javascript", Argv: []string{"node"}},
	".cjs":  {Language: "javascript", Argv: []string{"node"}},
	".ts":   {Language: "typescript", Argv: []string{"npx", "--yes", "ts-node"}},
	".sh":   {Language: "shell", Argv: []string{"sh"}},
	".bash": {Language: "bash", Argv: []string{"bash"}},
	".rb":   {Language: "ruby", Argv: []string{"ruby"}},
	".pl":   {Language: "perl", Argv: []string{"perl"}},
	".php":  {Language: "php", Argv: []string{"php"}},
	".go":   {Language: "go", Argv: []string{"go", "run"}},
}

var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

// Command returns the argv running file.
func (l Launcher) Command(file string) []string {
	return append(append([]string{}, l.Argv...), file)
}

// LauncherFor validates filename as a single safe path element and returns the
// launcher for its extension.
func LauncherFor(filename string) (Launcher, error) {
	if !filenamePattern.MatchString(filename) || path.Base(filename) != filename {
		return Launcher{}, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Invalid filename %q", filename),
			"filename must be a single path element of letters, digits, '.', '_' or '-'",
			"Use a plain name such as main.py or t.sh",
			nil,
		)
	}

	ext := strings.ToLower(path.Ext(filename))
	l, ok := launchers[ext]
	if !ok {
		return Launcher{}, engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Unsupported file type %q", ext),
			fmt.Sprintf("no launcher is registered for %q", filename),
			"Supported extensions: "+strings.Join(SupportedExtensions(), ", "),
			nil,
		)
	}
	return l, nil
}

// SupportedExtensions lists the launcher table keys in sorted order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(launchers))
	for ext := range launchers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
