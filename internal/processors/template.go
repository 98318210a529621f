package processors

import (
	"context"
	"fmt"

	"resourcewatch/internal/template"
	"resourcewatch/internal/types"
)

const DataOutput = "data"

// TemplateProcessor renders a text template over the resource. The result
// replaces the data when output is "data"; otherwise it is stored in the
// attribute named by output.
type TemplateProcessor struct {
	name   string
	tmpl   *template.Template
	output string
}

func NewTemplateProcessor(name, source, path, output string) (*TemplateProcessor, error) {
	var (
		tmpl *template.Template
		err  error
	)
	switch {
	case source != "":
		tmpl, err = template.Parse(name, source, template.Text)
	case path != "":
		tmpl, err = template.Load(path, template.Text)
	default:
		return nil, fmt.Errorf("template %s: template or template_path is required", name)
	}
	if err != nil {
		return nil, err
	}
	if output == "" {
		output = "rendered"
	}
	return &TemplateProcessor{name: name, tmpl: tmpl, output: output}, nil
}

func (t *TemplateProcessor) Name() string {
	return t.name
}

func (t *TemplateProcessor) Process(ctx context.Context, res *types.Resource) error {
	out, err := t.tmpl.Render(template.View(res))
	if err != nil {
		// Missing keys or bad types are properties of the input.
		return types.NonRetryable(err)
	}
	if t.output == DataOutput {
		res.SetData([]byte(out))
		return nil
	}
	res.SetAttribute(t.output, out)
	return nil
}
