package processors

import (
	"context"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

const (
	PolicyStrict = "strict"
	PolicyUGC    = "ugc"
)

// SanitizeProcessor cleans HTML content. The strict policy reduces it to
// plain text; ugc keeps safe formatting. Either way the plain text is
// exposed as the "text" attribute.
type SanitizeProcessor struct {
	name      string
	policy    *bluemonday.Policy
	plain     bool
	maxLength int
}

func NewSanitizeProcessor(name, policy string, maxLength int) (*SanitizeProcessor, error) {
	s := &SanitizeProcessor{name: name, maxLength: maxLength}
	switch strings.ToLower(policy) {
	case "", PolicyStrict:
		s.policy = bluemonday.StrictPolicy()
		s.plain = true
	case PolicyUGC:
		s.policy = bluemonday.UGCPolicy()
	default:
		return nil, fmt.Errorf("sanitize %s: unknown policy %q", name, policy)
	}
	return s, nil
}

func (s *SanitizeProcessor) Name() string {
	return s.name
}

func (s *SanitizeProcessor) Process(ctx context.Context, res *types.Resource) error {
	data := res.Data()
	if len(data) == 0 {
		return nil
	}

	cleaned := s.policy.SanitizeBytes(data)
	res.SetData(cleaned)
	if s.plain {
		res.Content.ContentType = "text/plain; charset=utf-8"
	}

	res.SetAttribute("text", utils.StripHTML(string(cleaned), s.maxLength))
	if desc := res.Attribute("description"); desc != "" {
		res.SetAttribute("description", utils.StripHTML(desc, s.maxLength))
	}
	return nil
}
