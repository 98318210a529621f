package processors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

const defaultSummaryPrompt = `<|im_start|>system
You are a professional news editor. Provide a single, information-dense sentence that summarizes the main event. Avoid fluff like "This article is about."<|im_end|>
<|im_start|>user
Article Content:
"""
%s
"""

Short Summary:<|im_end|>
<|im_start|>assistant`

// maxPromptText keeps prompts inside small model context windows.
const maxPromptText = 8000

// Generator produces a completion for a prompt. OllamaPlatform implements it.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// SummaryProcessor stores a model generated summary of the resource's text
// in the "summary" attribute. It reads the "text" attribute left by an
// extract or sanitize stage and falls back to the stripped data.
type SummaryProcessor struct {
	name      string
	generator Generator
	model     string
	prompt    string
	logger    *slog.Logger
}

func NewSummaryProcessor(name string, generator Generator, model, prompt string) (*SummaryProcessor, error) {
	if generator == nil {
		return nil, fmt.Errorf("summary %s: a generator platform is required", name)
	}
	if prompt == "" {
		prompt = defaultSummaryPrompt
	}
	if !strings.Contains(prompt, "%s") {
		return nil, fmt.Errorf("summary %s: prompt must contain %%s for the text", name)
	}
	return &SummaryProcessor{
		name:      name,
		generator: generator,
		model:     model,
		prompt:    prompt,
		logger:    slog.Default().With("processor", name),
	}, nil
}

func (s *SummaryProcessor) Name() string {
	return s.name
}

func (s *SummaryProcessor) Process(ctx context.Context, res *types.Resource) error {
	text := res.Attribute("text")
	if text == "" {
		text = utils.StripHTML(string(res.Data()), 0)
	}
	if text == "" {
		s.logger.Debug("Nothing to summarize", "resource_id", res.ID())
		return nil
	}

	summary, err := s.generator.Generate(ctx, s.model, fmt.Sprintf(s.prompt, utils.Truncate(text, maxPromptText)))
	if err != nil {
		return fmt.Errorf("couldn't generate summary: %w", err)
	}
	if summary == "" {
		s.logger.Warn("Model returned an empty summary", "resource_id", res.ID())
		return nil
	}
	res.SetAttribute("summary", summary)
	return nil
}
