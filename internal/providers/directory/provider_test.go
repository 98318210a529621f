package directory

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/types"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func list(t *testing.T, p *Provider, filter types.ListFilter) map[string]types.ResourceMetadata {
	t.Helper()
	out, errs := p.List(context.Background(), filter)
	metas := make(map[string]types.ResourceMetadata)
	for m := range out {
		metas[m.ResourceID] = m
	}
	require.NoError(t, <-errs)
	return metas
}

func ids(metas map[string]types.ResourceMetadata) []string {
	out := make([]string, 0, len(metas))
	for id := range metas {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func setup(t *testing.T, cfg Config) (*Provider, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "alpha")
	writeFile(t, filepath.Join(dir, "b.txt"), "bravo")
	writeFile(t, filepath.Join(dir, "nested", "c.md"), "charlie")

	cfg.Path = dir
	p := New("docs", cfg)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, dir
}

func TestListTopLevelOnly(t *testing.T) {
	p, _ := setup(t, Config{})
	assert.Equal(t, []string{"a.md", "b.txt"}, ids(list(t, p, types.ListFilter{})))
}

func TestListRecursiveWithPatterns(t *testing.T) {
	p, _ := setup(t, Config{Recursive: true, Patterns: []string{"*.md"}})
	assert.Equal(t, []string{"a.md", "nested/c.md"}, ids(list(t, p, types.ListFilter{})))
}

func TestFingerprintBySizeAndMtime(t *testing.T) {
	p, dir := setup(t, Config{})
	before := list(t, p, types.ListFilter{})

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a.md"), later, later))

	after := list(t, p, types.ListFilter{})
	assert.NotEqual(t, before["a.md"].Fingerprint, after["a.md"].Fingerprint)
	assert.Equal(t, before["b.txt"].Fingerprint, after["b.txt"].Fingerprint)
	assert.True(t, after["a.md"].Modified.After(before["a.md"].Modified))
}

func TestFingerprintByContent(t *testing.T) {
	p, dir := setup(t, Config{HashContent: true})
	before := list(t, p, types.ListFilter{})

	// Same content with a new mtime keeps the fingerprint.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a.md"), later, later))
	assert.Equal(t, before["a.md"].Fingerprint, list(t, p, types.ListFilter{})["a.md"].Fingerprint)

	writeFile(t, filepath.Join(dir, "a.md"), "changed")
	assert.NotEqual(t, before["a.md"].Fingerprint, list(t, p, types.ListFilter{})["a.md"].Fingerprint)
}

func TestListFilter(t *testing.T) {
	p, dir := setup(t, Config{})
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "b.txt"), old, old))

	metas := list(t, p, types.ListFilter{ModifiedSince: time.Now().Add(-24 * time.Hour)})
	assert.Equal(t, []string{"a.md"}, ids(metas))
}

func TestFetch(t *testing.T) {
	p, _ := setup(t, Config{Recursive: true})

	content, err := p.Fetch(context.Background(), "nested/c.md")
	require.NoError(t, err)
	assert.Equal(t, "charlie", string(content.Data))
	assert.Equal(t, "c.md", content.Attribute("name"))
	assert.Equal(t, "7", content.Attribute("size"))
	assert.NotEmpty(t, content.ContentType)
}

func TestFetchMissingIsNotRetryable(t *testing.T) {
	p, _ := setup(t, Config{})

	_, err := p.Fetch(context.Background(), "gone.md")
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))

	_, err = p.Fetch(context.Background(), "../outside")
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))
}

func TestInitializeValidation(t *testing.T) {
	assert.Error(t, New("x", Config{}).Initialize(context.Background()))
	assert.Error(t, New("x", Config{Path: filepath.Join(t.TempDir(), "missing")}).Initialize(context.Background()))
	assert.Error(t, New("x", Config{Path: t.TempDir(), Patterns: []string{"["}}).Initialize(context.Background()))
}

func TestWatchNotifiesOnChange(t *testing.T) {
	p, dir := setup(t, Config{Watch: true, Recursive: true, Patterns: []string{"*.md"}, Debounce: 20 * time.Millisecond})

	var calls atomic.Int32
	p.OnChange(func() { calls.Add(1) })

	writeFile(t, filepath.Join(dir, "ignored.txt"), "x")
	writeFile(t, filepath.Join(dir, "new.md"), "x")
	writeFile(t, filepath.Join(dir, "new.md"), "xy")

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
