// Package file writes each processed resource as a JSON document under a
// directory, one file per resource that is replaced when the resource changes.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

type Document struct {
	Tenant      string            `json:"tenant"`
	ResourceID  string            `json:"resource_id"`
	ProcessType string            `json:"process_type"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Modified    *time.Time        `json:"modified,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Data        string            `json:"data,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	WrittenAt   time.Time         `json:"written_at"`
}

type Target struct {
	name string
	dir  string
}

func New(name, dir string) (*Target, error) {
	if dir == "" {
		return nil, fmt.Errorf("file target %s: dir is required", name)
	}
	return &Target{name: name, dir: dir}, nil
}

func (t *Target) Name() string {
	return t.name
}

// Path is where the document for a resource is written. Ids are escaped so
// they cannot leave the tenant directory.
func (t *Target) Path(tenant, resourceID string) string {
	return filepath.Join(t.dir, safeName(tenant), safeName(resourceID)+".json")
}

func safeName(s string) string {
	s = url.PathEscape(s)
	if s == "" || s == "." || s == ".." {
		return "_" + s
	}
	return s
}

func (t *Target) Process(ctx context.Context, res *types.Resource) error {
	doc := Document{
		Tenant:      res.Tenant,
		ResourceID:  res.ID(),
		ProcessType: res.ProcessType.String(),
		Fingerprint: res.Metadata.Fingerprint,
		Data:        string(res.Data()),
		Attributes:  res.Attributes,
		WrittenAt:   time.Now().UTC(),
	}
	if !res.Metadata.Modified.IsZero() {
		m := res.Metadata.Modified.UTC()
		doc.Modified = &m
	}
	if res.Content != nil {
		doc.ContentType = res.Content.ContentType
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return types.NonRetryable(fmt.Errorf("failed to encode document: %w", err))
	}

	path := t.Path(res.Tenant, res.ID())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := utils.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	slog.Debug("File target wrote resource", "target", t.name, "resource_id", res.ID(), "path", path)
	return nil
}
