// Package template renders batch views, reports and statistics as text
package template

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/relist-ops/relist/internal/browser"
	"github.com/relist-ops/relist/internal/history"
	"github.com/relist-ops/relist/internal/inbox"
	"github.com/relist-ops/relist/internal/pipeline"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// ExplainData is what the explain view shows for one message
type ExplainData struct {
	Message        inbox.Message
	Normalized     inbox.Normalized
	Classification inbox.Classification
	Key            string
}

// Engine handles view rendering
type Engine struct {
	templates map[string]*template.Template
}

var funcs = template.FuncMap{
	"money":      money,
	"itemURL":    browser.ItemURL,
	"reviseURL":  browser.ReviseURL,
	"pages":      browser.PagesFor,
	"join":       strings.Join,
	"truncate":   truncate,
	"categories": sortedCategories,
	"add":        func(a, b int) int { return a + b },
	"rule":       func(n int) string { return strings.Repeat("=", n) },
	"dash":       func(n int) string { return strings.Repeat("-", n) },
	"bar":        func(n int) string { return strings.Repeat("#", n) },
}

// NewEngine parses the embedded templates
func NewEngine() (*Engine, error) {
	e := &Engine{
		templates: make(map[string]*template.Template),
	}

	templateNames := []string{"batch", "commit", "undo", "stats", "instructions", "explain"}
	for _, name := range templateNames {
		content, err := embeddedTemplates.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", name, err)
		}

		tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		e.templates[name] = tmpl
	}

	return e, nil
}

// Render executes a named template
func (e *Engine) Render(templateName string, data any) (string, error) {
	tmpl, ok := e.templates[templateName]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}
	return buf.String(), nil
}

func (e *Engine) Batch(v *pipeline.View) (string, error) { return e.Render("batch", v) }

func (e *Engine) Commit(r *pipeline.CommitReport) (string, error) { return e.Render("commit", r) }

func (e *Engine) Undo(r *pipeline.UndoReport) (string, error) { return e.Render("undo", r) }

func (e *Engine) Stats(st history.Stats) (string, error) { return e.Render("stats", st) }

// Instructions renders the bulk entries of a view with their searches.
func (e *Engine) Instructions(entries []history.Entry) (string, error) {
	return e.Render("instructions", entries)
}

func (e *Engine) Explain(d ExplainData) (string, error) { return e.Render("explain", d) }

// AvailableTemplates returns the list of available template names
func (e *Engine) AvailableTemplates() []string {
	templates := make([]string, 0, len(e.templates))
	for name := range e.templates {
		templates = append(templates, name)
	}
	sort.Strings(templates)
	return templates
}

func money(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return "$" + d.Decimal.StringFixed(2)
}

func sortedCategories(m map[inbox.Category]int) []inbox.Category {
	cats := make([]inbox.Category, 0, len(m))
	for c := range m {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

func truncate(n int, s string) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
