package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

type OllamaPlatform struct {
	client *api.Client
	model  string
}

// NewOllamaPlatform connects to host, or to OLLAMA_HOST when host is empty.
func NewOllamaPlatform(host, model string) (*OllamaPlatform, error) {
	if model == "" {
		return nil, fmt.Errorf("failed to create Ollama client: model cannot be empty")
	}

	var (
		client *api.Client
		err    error
	)
	if host == "" {
		client, err = api.ClientFromEnvironment()
	} else {
		var base *url.URL
		if base, err = url.Parse(host); err == nil {
			client = api.NewClient(base, http.DefaultClient)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	return &OllamaPlatform{
		client: client,
		model:  model,
	}, nil
}

func (o *OllamaPlatform) Client() *api.Client { return o.client }

func (o *OllamaPlatform) Model() string { return o.model }

// Generate runs a non-streaming completion. model overrides the platform
// default when set.
func (o *OllamaPlatform) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = o.model
	}
	stream := false
	req := &api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: &stream,
	}

	var out strings.Builder
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}
