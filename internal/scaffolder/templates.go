package scaffolder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"adde/internal/config"
)

// Template names reported as prepare_build_context's template field.
const (
	TemplatePython       = "python"
	TemplatePyproject    = "python-pyproject"
	TemplateNode         = "node"
	TemplateGo           = "go"
	TemplateRuby         = "ruby"
	TemplatePythonScript = "python-script"
	TemplateNodeScript   = "node-script"
	TemplateShell        = "shell"
	TemplateAlpine       = "alpine"
)

const defaultDockerignore = `.git
.gitignore
*.md
.env
.venv
__pycache__
node_modules
*.pyc
.DS_Store
*.log
`

func writeDockerignore(dir string) error {
	p := filepath.Join(dir, ".dockerignore")
	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.WriteFile(p, []byte(defaultDockerignore), 0644)
}

// rootFiles lists regular files at the top of the context, sorted by name.
func rootFiles(dir string) (map[string]bool, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	set := make(map[string]bool, len(entries))
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			set[e.Name()] = true
			names = append(names, e.Name())
		}
	}
	return set, names, nil
}

// entrypoint picks the first preferred name present, else the first file with
// the extension.
func entrypoint(set map[string]bool, names []string, ext string, preferred ...string) string {
	for _, p := range preferred {
		if set[p] {
			return p
		}
	}
	for _, n := range names {
		if strings.HasSuffix(n, ext) {
			return n
		}
	}
	return ""
}

func cmdLine(argv ...string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return "CMD [" + strings.Join(quoted, ", ") + "]\n"
}

// synthesizeDockerfile selects a template from the manifests at the context
// root, falling back to entry sources and finally a bare alpine image.
func synthesizeDockerfile(dir string, images config.Templates) (string, string, error) {
	set, names, err := rootFiles(dir)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	pyEntry := entrypoint(set, names, ".py", "main.py", "app.py")
	jsEntry := entrypoint(set, names, ".js", "index.js", "server.js", "main.js", "app.js")

	switch {
	case set["requirements.txt"]:
		fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY requirements.txt .\nRUN pip install --no-cache-dir -r requirements.txt\nCOPY . .\n", images.Python)
		if pyEntry != "" {
			b.WriteString(cmdLine("python3", pyEntry))
		}
		return TemplatePython, b.String(), nil

	case set["pyproject.toml"]:
		fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY . .\nRUN pip install --no-cache-dir .\n", images.Python)
		if pyEntry != "" {
			b.WriteString(cmdLine("python3", pyEntry))
		}
		return TemplatePyproject, b.String(), nil

	case set["package.json"]:
		fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY package*.json ./\nRUN npm install --omit=dev\nCOPY . .\n", images.Node)
		if jsEntry != "" {
			b.WriteString(cmdLine("node", jsEntry))
		} else {
			b.WriteString(cmdLine("npm", "start"))
		}
		return TemplateNode, b.String(), nil

	case set["go.mod"]:
		fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY . .\nRUN go build -o /usr/local/bin/app .\n", images.Go)
		b.WriteString(cmdLine("app"))
		return TemplateGo, b.String(), nil

	case set["Gemfile"]:
		fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY Gemfile* ./\nRUN bundle install\nCOPY . .\n", images.Ruby)
		if rb := entrypoint(set, names, ".rb", "main.rb", "app.rb"); rb != "" {
			b.WriteString(cmdLine("ruby", rb))
		}
		return TemplateRuby, b.String(), nil

	case pyEntry != "":
		fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY . .\n", images.Python)
		b.WriteString(cmdLine("python3", pyEntry))
		return TemplatePythonScript, b.String(), nil

	case jsEntry != "":
		fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY . .\n", images.Node)
		b.WriteString(cmdLine("node", jsEntry))
		return TemplateNodeScript, b.String(), nil
	}

	if sh := entrypoint(set, names, ".sh", "main.sh", "run.sh", "entrypoint.sh"); sh != "" {
		fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY . .\n", images.Alpine)
		b.WriteString(cmdLine("sh", sh))
		return TemplateShell, b.String(), nil
	}

	fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY . .\n", images.Alpine)
	return TemplateAlpine, b.String(), nil
}
