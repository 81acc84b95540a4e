package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path"
	"strings"
	"text/template"

	"synthv/pkg/llm"
)

//go:embed templates
var builtin embed.FS

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// Default returns a manager over the built-in templates.
func Default() (*Manager, error) {
	sub, err := fs.Sub(builtin, "templates")
	if err != nil {
		return nil, err
	}
	return New(sub)
}

// NewManager creates a new prompt manager loading templates from the specified directory.
// An empty dir selects the built-in templates.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return Default()
	}
	return New(os.DirFS(dir))
}

// New loads every *.tmpl file of fsys. Files under common/ are shared definitions.
func New(fsys fs.FS) (*Manager, error) {
	m := &Manager{}
	m.root = template.New("root").Funcs(template.FuncMap{
		"language": m.languageFunc,
		"maybe":    maybeFunc,
		"pick":     pickFunc,
	})

	if err := m.load(fsys, true); err != nil {
		return nil, fmt.Errorf("loading common templates: %w", err)
	}
	if err := m.load(fsys, false); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return m, nil
}

func (m *Manager) load(fsys fs.FS, common bool) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".tmpl") {
			return nil
		}
		if strings.HasPrefix(p, "common/") != common {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}

		t := m.root
		if !common {
			t = m.root.New(p)
		}
		if _, err := t.Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		return nil
	})
}

// Render executes the named template with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(llm.Dedent(buf.String())), nil
}

// Has reports whether a template named name was loaded.
func (m *Manager) Has(name string) bool {
	return m.root.Lookup(name) != nil
}

// languageFunc renders "language/<name>.tmpl" if present.
// Usage: {{language .Language .}}
func (m *Manager) languageFunc(name string, data any) (string, error) {
	if name == "" {
		return "", nil
	}
	t := m.root.Lookup(path.Join("language", strings.ToLower(name)+".tmpl"))
	if t == nil {
		return "", nil
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// maybeFunc includes content with a given probability (0-100).
// Usage: {{maybe 50 "This text appears 50% of the time"}}
func maybeFunc(percent int, content string) string {
	if percent <= 0 {
		return ""
	}
	if percent >= 100 {
		return content
	}
	if rand.Intn(100) < percent {
		return content
	}
	return ""
}

// pickFunc selects one random option from a list separated by "|||".
// Usage: {{pick "Option A|||Option B|||Option C"}}
func pickFunc(options string) string {
	parts := strings.Split(options, "|||")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts[rand.Intn(len(parts))]
}
