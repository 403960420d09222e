package template

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed mail/* webhook/*
var templateFS embed.FS

// Type represents the type of notification template
type Type string

const (
	Mail    Type = "mail"
	Webhook Type = "webhook"
)

// Loader manages notification templates
type Loader struct {
	logger     *zap.Logger
	templates  map[Type]*template.Template
	customTpls map[Type]map[string]*template.Template
	mu         sync.RWMutex
}

// NewLoader creates new template loader
func NewLoader(logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := &Loader{
		logger:     logger,
		templates:  make(map[Type]*template.Template),
		customTpls: make(map[Type]map[string]*template.Template),
	}

	if err := loader.loadDefaultTemplates(); err != nil {
		return nil, err
	}

	return loader, nil
}

// loadDefaultTemplates loads templates from embedded filesystem
func (t *Loader) loadDefaultTemplates() error {
	for _, tplType := range []Type{Mail, Webhook} {
		dir := string(tplType)
		tmpl := template.New("").Funcs(templateFuncs)

		entries, err := templateFS.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read template directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			content, err := templateFS.ReadFile(path.Join(dir, entry.Name()))
			if err != nil {
				return fmt.Errorf("failed to read template file %s: %w", entry.Name(), err)
			}

			name := strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
			if _, err := tmpl.New(name).Parse(string(content)); err != nil {
				return fmt.Errorf("failed to parse template %s: %w", entry.Name(), err)
			}
		}

		t.templates[tplType] = tmpl
	}

	return nil
}

// SetCustomTemplate overrides a default template
func (t *Loader) SetCustomTemplate(tplType Type, name, content string) error {
	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(content)
	if err != nil {
		return fmt.Errorf("invalid template %s/%s: %w", tplType, name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.customTpls[tplType]; !ok {
		t.customTpls[tplType] = make(map[string]*template.Template)
	}
	t.customTpls[tplType][name] = tmpl
	t.logger.Debug("Custom template set",
		zap.String("type", string(tplType)),
		zap.String("name", name))
	return nil
}

// GetTemplate returns the template for given type and name
func (t *Loader) GetTemplate(tplType Type, name string) (*template.Template, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Check custom templates first
	if tmpl, ok := t.customTpls[tplType][name]; ok {
		return tmpl, nil
	}

	if tmpl, ok := t.templates[tplType]; ok {
		if t := tmpl.Lookup(name); t != nil {
			return t, nil
		}
	}

	return nil, fmt.Errorf("template not found: %s/%s", tplType, name)
}

// Render executes the named template with data
func (t *Loader) Render(tplType Type, name string, data any) (string, error) {
	tmpl, err := t.GetTemplate(tplType, name)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s/%s: %w", tplType, name, err)
	}
	return b.String(), nil
}

// Template functions available in all templates
var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.Format(time.RFC3339)
	},
	"title": func(s string) string {
		return cases.Title(language.Und).String(s)
	},
	"upper": strings.ToUpper,
}
