package mailing

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Template is the unrendered content of a step.
type Template struct {
	// Key identifies the template for the parse cache, usually the step id.
	// Empty disables caching.
	Key     string
	Subject string
	HTML    string
	Text    string
}

// Content is a rendered template.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer renders Liquid step content. Parsed templates are cached by key.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // string -> *liquid.Template
}

// NewRenderer creates a renderer with the drip filters registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" {
			return fallback
		}
		return value
	})

	// Casers carry state, so each call gets its own.
	r.engine.RegisterFilter("titlecase", func(s string) string {
		return cases.Title(language.English).String(strings.ToLower(s))
	})

	r.engine.RegisterFilter("truncate_words", func(s string, n int) string {
		words := strings.Fields(s)
		if n <= 0 || len(words) <= n {
			return s
		}
		return strings.Join(words[:n], " ") + "..."
	})

	r.engine.RegisterFilter("urlencode", url.QueryEscape)
	r.engine.RegisterFilter("escape_html", html.EscapeString)
}

// Render renders all three parts of t with the given bindings. A missing
// variable renders empty.
func (r *Renderer) Render(t Template, bindings map[string]interface{}) (Content, error) {
	var (
		c   Content
		err error
	)
	if c.Subject, err = r.render(t.Key, "subject", t.Subject, bindings); err != nil {
		return Content{}, fmt.Errorf("render subject: %w", err)
	}
	if c.HTML, err = r.render(t.Key, "html", t.HTML, bindings); err != nil {
		return Content{}, fmt.Errorf("render html: %w", err)
	}
	if c.Text, err = r.render(t.Key, "text", t.Text, bindings); err != nil {
		return Content{}, fmt.Errorf("render text: %w", err)
	}
	return c, nil
}

// Validate parses every part of t and reports the first syntax error.
func (r *Renderer) Validate(t Template) error {
	for _, src := range []string{t.Subject, t.HTML, t.Text} {
		if _, err := r.engine.ParseString(src); err != nil {
			return err
		}
	}
	return nil
}

// Forget drops cached templates for key, for use after a step is edited.
func (r *Renderer) Forget(key string) {
	for _, part := range []string{"subject", "html", "text"} {
		r.cache.Delete(key + "/" + part)
	}
}

func (r *Renderer) render(key, part, src string, bindings map[string]interface{}) (string, error) {
	if src == "" {
		return "", nil
	}
	var tpl *liquid.Template
	if key != "" {
		if cached, ok := r.cache.Load(key + "/" + part); ok {
			tpl = cached.(*liquid.Template)
		}
	}
	if tpl == nil {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			return "", err
		}
		tpl = parsed
		if key != "" {
			r.cache.Store(key+"/"+part, tpl)
		}
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", err
	}
	return out, nil
}
