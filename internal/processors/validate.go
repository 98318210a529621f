package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"resourcewatch/internal/types"
)

type ValidateConfig struct {
	MaxBytes     int
	ContentTypes []string
	RequireJSON  bool
	RequireUTF8  bool
}

// ValidateProcessor rejects content that will never process successfully.
// Every failure is non-retryable.
type ValidateProcessor struct {
	name string
	cfg  ValidateConfig
}

func NewValidateProcessor(name string, cfg ValidateConfig) *ValidateProcessor {
	return &ValidateProcessor{name: name, cfg: cfg}
}

func (v *ValidateProcessor) Name() string {
	return v.name
}

func (v *ValidateProcessor) Process(ctx context.Context, res *types.Resource) error {
	data := res.Data()

	if v.cfg.MaxBytes > 0 && len(data) > v.cfg.MaxBytes {
		return types.NonRetryablef("content is %d bytes, limit is %d", len(data), v.cfg.MaxBytes)
	}

	if len(v.cfg.ContentTypes) > 0 {
		var ct string
		if res.Content != nil {
			ct = res.Content.ContentType
		}
		if !v.allowedType(ct) {
			return types.NonRetryablef("content type %q is not allowed", ct)
		}
	}

	if v.cfg.RequireUTF8 && !utf8.Valid(data) {
		return types.NonRetryable(fmt.Errorf("content is not valid UTF-8"))
	}
	if v.cfg.RequireJSON && !json.Valid(data) {
		return types.NonRetryable(fmt.Errorf("content is not valid JSON"))
	}
	return nil
}

func (v *ValidateProcessor) allowedType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(contentType))
	}
	for _, allowed := range v.cfg.ContentTypes {
		allowed = strings.ToLower(allowed)
		if allowed == mediaType {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mediaType, prefix+"/") {
			return true
		}
	}
	return false
}
