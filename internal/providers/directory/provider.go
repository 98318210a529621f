// Package directory exposes the files under a directory as resources, keyed
// by their slash-separated path relative to the root.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"resourcewatch/internal/config"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils/hash"
)

const defaultDebounce = 500 * time.Millisecond

type Config struct {
	Path      string
	Patterns  []string
	Recursive bool
	// HashContent fingerprints by file content instead of size and mtime.
	HashContent bool
	Watch       bool
	Debounce    time.Duration
	Logger      *slog.Logger
}

type Provider struct {
	name   string
	cfg    Config
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	onChange func()
	watcher  *watcher
}

func New(name string, cfg Config) *Provider {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{
		name:   name,
		cfg:    cfg,
		logger: cfg.Logger.With("provider", name),
	}
}

func FromSettings(name string, s config.DirectorySettings, logger *slog.Logger) *Provider {
	return New(name, Config{
		Path:        s.Path,
		Patterns:    s.Patterns,
		Recursive:   s.Recursive,
		HashContent: s.HashContent,
		Watch:       s.Watch,
		Debounce:    config.ParseDuration(s.Debounce, defaultDebounce),
		Logger:      logger,
	})
}

func (p *Provider) Name() string {
	return p.name
}

// OnChange registers fn to run after files under the root change. Only
// effective when watching is enabled.
func (p *Provider) OnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *Provider) notify() {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *Provider) Initialize(ctx context.Context) error {
	if p.cfg.Path == "" {
		return fmt.Errorf("directory provider %s: path is required", p.name)
	}
	for _, pattern := range p.cfg.Patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("directory provider %s: invalid pattern %q: %w", p.name, pattern, err)
		}
	}

	root, err := filepath.Abs(p.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", p.cfg.Path, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	p.root = root

	if p.cfg.Watch {
		w, err := newWatcher(p)
		if err != nil {
			return err
		}
		p.watcher = w
	}

	p.logger.Info("Directory provider initializing", "path", root, "recursive", p.cfg.Recursive, "watch", p.cfg.Watch)
	return nil
}

func (p *Provider) matches(name string) bool {
	if len(p.cfg.Patterns) == 0 {
		return true
	}
	for _, pattern := range p.cfg.Patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (p *Provider) List(ctx context.Context, filter types.ListFilter) (<-chan types.ResourceMetadata, <-chan error) {
	out := make(chan types.ResourceMetadata)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if path != p.root && !p.cfg.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !p.matches(d.Name()) {
				return nil
			}

			info, err := d.Info()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}

			meta, err := p.metadata(path, info)
			if err != nil {
				return err
			}
			if filter.Excludes(meta) {
				return nil
			}

			select {
			case out <- meta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errs <- fmt.Errorf("failed to list %s: %w", p.root, err)
		}
	}()

	return out, errs
}

func (p *Provider) metadata(path string, info fs.FileInfo) (types.ResourceMetadata, error) {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return types.ResourceMetadata{}, err
	}

	var fingerprint string
	if p.cfg.HashContent {
		data, err := os.ReadFile(path)
		if err != nil {
			return types.ResourceMetadata{}, err
		}
		fingerprint = hash.Sum(data)
	} else {
		fingerprint = strconv.FormatInt(info.Size(), 10) + "-" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
	}

	return types.ResourceMetadata{
		ResourceID:  filepath.ToSlash(rel),
		Fingerprint: fingerprint,
		Modified:    info.ModTime(),
	}, nil
}

// resolve maps a resource id back to a path, refusing ids that escape the root.
func (p *Provider) resolve(resourceID string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(resourceID)) {
		return "", types.NonRetryablef("resource id %q is outside %s", resourceID, p.root)
	}
	return filepath.Join(p.root, filepath.FromSlash(resourceID)), nil
}

func (p *Provider) Fetch(ctx context.Context, resourceID string) (*types.ResourceContent, error) {
	path, err := p.resolve(resourceID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.NonRetryablef("file %s no longer exists", resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", resourceID, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", resourceID, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &types.ResourceContent{
		ResourceID:  resourceID,
		Data:        data,
		ContentType: contentType,
		Attributes: map[string]string{
			"path":     path,
			"name":     info.Name(),
			"title":    info.Name(),
			"size":     strconv.FormatInt(info.Size(), 10),
			"modified": info.ModTime().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.watcher != nil {
		return p.watcher.close()
	}
	return nil
}
