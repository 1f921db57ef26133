// Package handler contains the HTTP request handlers. Every page is server
// rendered: a handler authenticates, calls one service method, then either
// renders a template or redirects.
//
// Handlers should NOT contain business logic; they are the glue between HTTP
// and the service layer.
package handler

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Renderer turns a template name and its data into HTML.
type Renderer interface {
	Render(w io.Writer, name string, data map[string]any) error
}

// TemplateRenderer renders the html/template pages in a directory.
//
// TEMPLATE COMPOSITION:
// base.html defines the page shell with {{template "content" .}}. Each other
// file defines "content". Every page is parsed together with base.html into
// its own template set, so two pages can both define "content" without
// clashing.
type TemplateRenderer struct {
	pages map[string]*template.Template
}

var _ Renderer = (*TemplateRenderer)(nil)

var templateFuncs = template.FuncMap{
	// avatarURL maps a stored avatar filename to its public path.
	"avatarURL": func(name string) string {
		return "/static/avatars/" + name
	},
}

// NewTemplateRenderer parses every page in dir once, at startup.
func NewTemplateRenderer(dir string) (*TemplateRenderer, error) {
	base := filepath.Join(dir, "base.html")
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("handler: base template: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("handler: listing templates: %w", err)
	}

	r := &TemplateRenderer{pages: make(map[string]*template.Template)}
	for _, file := range files {
		if file == base {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(file), ".html")
		tmpl, err := template.New("base.html").Funcs(templateFuncs).ParseFiles(base, file)
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

// Render executes the named page.
func (r *TemplateRenderer) Render(w io.Writer, name string, data map[string]any) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("handler: unknown template %q", name)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}
