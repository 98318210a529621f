package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/storage"
	"resourcewatch/internal/storage/storagetest"
	"resourcewatch/internal/types"
)

func TestStateStoreContract(t *testing.T) {
	storagetest.RunStateStoreContract(t, func(t *testing.T) storage.StateStore {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Upsert(ctx, "t", "https://example.com/a?b=c", types.ResourceState{Fingerprint: "v"}))
	}

	entries, err := os.ReadDir(s.tenantDir("t"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}

func TestCorruptRecordIsAnError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(s.tenantDir("t"), 0o755))
	require.NoError(t, os.WriteFile(s.path("t", "r"), []byte("{not json"), 0o644))

	_, _, err = s.Get(context.Background(), "t", "r")
	assert.Error(t, err)
}

func TestRequiresDirectory(t *testing.T) {
	_, err := New(" ")
	assert.Error(t, err)
}
