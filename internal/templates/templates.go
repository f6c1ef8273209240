// Package templates is the library of ready-made tool configurations: the
// built-in set shipped with the binary and user templates loaded from a
// directory of YAML or JSON files.
package templates

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"toolchat/internal/toolconfig"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// builtinOrder is the listing order of the built-in templates.
var builtinOrder = []string{
	"simpleCalculator",
	"unitConverter",
	"percentageCalculator",
	"bmiCalculator",
	"passwordGenerator",
	"ticTacToe",
	"numberGuessing",
}

// ErrNotFound is returned for an unknown template name.
var ErrNotFound = errors.New("templates: not found")

// Template is one named configuration. Configs are shared; treat them as read-only.
type Template struct {
	Name    string
	Config  *toolconfig.Config
	Builtin bool
	Path    string // source file of a user template
}

// Option is a functional option for configuring Library.
type Option func(*Library)

// WithLogger sets a structured logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(lib *Library) {
		if l != nil {
			lib.logger = l
		}
	}
}

// WithParseOptions sets the validation options applied to user templates.
func WithParseOptions(opts ...toolconfig.ParseOption) Option {
	return func(lib *Library) { lib.parseOpts = opts }
}

// Library holds the built-in and user templates. It is safe for concurrent use.
type Library struct {
	parseOpts []toolconfig.ParseOption
	logger    *slog.Logger

	mu      sync.RWMutex
	builtin []Template
	user    map[string]Template
}

// New returns a Library loaded with the built-in templates.
func New(opts ...Option) (*Library, error) {
	lib := &Library{user: make(map[string]Template)}
	for _, opt := range opts {
		opt(lib)
	}
	for _, name := range builtinOrder {
		data, err := builtinFS.ReadFile("builtin/" + name + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("templates: read %s: %w", name, err)
		}
		cfg, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("templates: builtin %s: %w", name, err)
		}
		lib.builtin = append(lib.builtin, Template{Name: name, Config: cfg, Builtin: true})
	}
	return lib, nil
}

func (l *Library) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default()
}

// Decode parses a YAML or JSON template document into a validated config.
// YAML is decoded first and re-encoded as JSON so both formats go through
// the same schema validation.
func Decode(data []byte, opts ...toolconfig.ParseOption) (*toolconfig.Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("templates: invalid YAML: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("templates: convert to JSON: %w", err)
	}
	return toolconfig.Parse(raw, opts...)
}

// isTemplateFile reports whether name has a template extension.
func isTemplateFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadDir replaces the user templates with the files in dir. A template is
// named after its file without the extension. Invalid files are skipped and
// reported in the returned error; valid ones are still loaded. A missing
// directory clears the user templates and is not an error.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		l.mu.Lock()
		l.user = make(map[string]Template)
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("templates: read dir: %w", err)
	}

	loaded := make(map[string]Template)
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		cfg, err := Decode(data, l.parseOpts...)
		if err != nil {
			l.log().Warn("templates: skipping invalid template", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		loaded[name] = Template{Name: name, Config: cfg, Path: path}
	}

	l.mu.Lock()
	l.user = loaded
	l.mu.Unlock()
	l.log().Info("templates: loaded user templates", "dir", dir, "count", len(loaded))
	return errors.Join(errs...)
}

// Get returns a template by name. Built-in names win over user files.
func (l *Library) Get(name string) (Template, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.builtin {
		if t.Name == name {
			return t, nil
		}
	}
	if t, ok := l.user[name]; ok {
		return t, nil
	}
	return Template{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// All returns the built-in templates in their fixed order followed by the
// user templates sorted by name.
func (l *Library) All() []Template {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := slices.Clone(l.builtin)
	names := make([]string, 0, len(l.user))
	for name := range l.user {
		if !l.isBuiltin(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		out = append(out, l.user[name])
	}
	return out
}

func (l *Library) isBuiltin(name string) bool {
	return slices.Contains(builtinOrder, name)
}

// Examples returns one summary line per template for the tool prompt.
func (l *Library) Examples() string {
	var lines []string
	for _, t := range l.All() {
		lines = append(lines, fmt.Sprintf("Template %q: %s - %s", t.Name, t.Config.Title, t.Config.Description))
	}
	return strings.Join(lines, "\n")
}
