// Package template renders resources with text/template or html/template and
// a shared set of helper functions.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"os"
	"strings"
	texttemplate "text/template"
	"time"

	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

type Kind int

const (
	Text Kind = iota
	HTML
)

type Template struct {
	textTmpl *texttemplate.Template
	htmlTmpl *htmltemplate.Template
}

func funcs() map[string]any {
	return map[string]any{
		"json":     toJSON,
		"truncate": func(max int, s string) string { return utils.Truncate(s, max) },
		"strip":    func(s string) string { return utils.StripHTML(s, 0) },
		"default": func(def, v string) string {
			if v == "" {
				return def
			}
			return v
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}
}

func Parse(name, src string, kind Kind) (*Template, error) {
	switch kind {
	case HTML:
		tmpl, err := htmltemplate.New(name).Option("missingkey=zero").Funcs(htmltemplate.FuncMap(funcs())).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", name, err)
		}
		return &Template{htmlTmpl: tmpl}, nil
	default:
		tmpl, err := texttemplate.New(name).Option("missingkey=zero").Funcs(texttemplate.FuncMap(funcs())).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		return &Template{textTmpl: tmpl}, nil
	}
}

func Load(path string, kind Kind) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", path, err)
	}
	return Parse(path, string(data), kind)
}

func (t *Template) Execute(w io.Writer, data any) error {
	if t.htmlTmpl != nil {
		return t.htmlTmpl.Execute(w, data)
	}
	return t.textTmpl.Execute(w, data)
}

func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

// ResourceView is what templates see as dot.
type ResourceView struct {
	ID          string
	Tenant      string
	ProcessType string
	Fingerprint string
	Modified    time.Time
	ContentType string
	Data        string
	Attributes  map[string]string
}

func View(res *types.Resource) ResourceView {
	v := ResourceView{
		ID:          res.ID(),
		Tenant:      res.Tenant,
		ProcessType: res.ProcessType.String(),
		Fingerprint: res.Metadata.Fingerprint,
		Modified:    res.Metadata.Modified,
		Data:        string(res.Data()),
		Attributes:  res.Attributes,
	}
	if res.Content != nil {
		v.ContentType = res.Content.ContentType
	}
	return v
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
