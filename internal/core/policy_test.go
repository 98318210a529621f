package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/types"
)

func TestDecideSuccessResetsHistory(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)
	prev := &types.ResourceState{
		Tenant:      "t",
		ResourceID:  "r",
		Fingerprint: "v1",
		RetryCount:  4,
		BannedUntil: &until,
		Extensions:  []byte("old"),
	}

	next := Decide(prev, Attempt{
		Tenant:     "t",
		Metadata:   types.ResourceMetadata{ResourceID: "r", Fingerprint: "v2", Modified: now},
		Result:     types.ResultNormal,
		Extensions: []byte("new"),
	}, PolicyConfig{MaxRetries: 2, BanDuration: time.Hour}, now)

	assert.Equal(t, "v2", next.Fingerprint)
	assert.Equal(t, now, next.Modified)
	assert.Zero(t, next.RetryCount)
	assert.Nil(t, next.BannedUntil)
	assert.Equal(t, []byte("new"), next.Extensions)
	assert.Equal(t, now, next.UpdatedAt)
	assert.Equal(t, []byte("old"), prev.Extensions, "previous state untouched")
}

func TestDecideFailureBansAfterMaxRetries(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cfg := PolicyConfig{MaxRetries: 2, BanDuration: 24 * time.Hour}
	attempt := Attempt{
		Tenant:   "t",
		Metadata: types.ResourceMetadata{ResourceID: "r", Fingerprint: "v9"},
		Result:   types.ResultError,
	}

	var prev *types.ResourceState
	for i := 1; i <= 3; i++ {
		next := Decide(prev, attempt, cfg, now)
		assert.Equal(t, uint(i), next.RetryCount)
		assert.Empty(t, next.Fingerprint, "failure never records the attempted version")
		if i <= 2 {
			assert.Nil(t, next.BannedUntil)
		} else {
			require.NotNil(t, next.BannedUntil)
			assert.Equal(t, now.Add(24*time.Hour), *next.BannedUntil)
		}
		prev = &next
	}
}

func TestDecideFailureKeepsExtensions(t *testing.T) {
	prev := &types.ResourceState{Fingerprint: "v1", Extensions: []byte("keep")}
	next := Decide(prev, Attempt{
		Metadata:   types.ResourceMetadata{ResourceID: "r", Fingerprint: "v2"},
		Result:     types.ResultError,
		Extensions: []byte("discard"),
	}, PolicyConfig{MaxRetries: 5}, time.Now())

	assert.Equal(t, "v1", next.Fingerprint)
	assert.Equal(t, []byte("keep"), next.Extensions)
}

func TestDecideMaxRetriesZeroBansOnFirstFailure(t *testing.T) {
	now := time.Now()
	next := Decide(nil, Attempt{Metadata: types.ResourceMetadata{ResourceID: "r"}, Result: types.ResultError},
		PolicyConfig{MaxRetries: 0, BanDuration: time.Minute}, now)
	require.NotNil(t, next.BannedUntil)
	assert.True(t, next.IsBanned(now))
}

func TestRetryDelay(t *testing.T) {
	cfg := PolicyConfig{RetryBackoff: time.Minute, BanDuration: 10 * time.Minute}
	assert.Zero(t, retryDelay(0, cfg))
	assert.Equal(t, time.Minute, retryDelay(1, cfg))
	assert.Equal(t, 2*time.Minute, retryDelay(2, cfg))
	assert.Equal(t, 8*time.Minute, retryDelay(4, cfg))
	assert.Equal(t, 10*time.Minute, retryDelay(5, cfg))
	assert.Equal(t, 10*time.Minute, retryDelay(200, cfg))
	assert.Zero(t, retryDelay(3, PolicyConfig{}))
}

func TestRetryDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cfg := PolicyConfig{RetryBackoff: time.Minute}
	assert.True(t, retryDue(nil, cfg, now))
	assert.True(t, retryDue(&types.ResourceState{}, cfg, now))
	assert.False(t, retryDue(&types.ResourceState{RetryCount: 1, UpdatedAt: now}, cfg, now))
	assert.True(t, retryDue(&types.ResourceState{RetryCount: 1, UpdatedAt: now.Add(-time.Minute)}, cfg, now))
}
