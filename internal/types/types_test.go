package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(NonRetryable(errors.New("malformed"))))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", NonRetryablef("bad byte at %d", 3))))
	assert.True(t, IsRetryable(&ProcessingError{Stage: "sink", Retryable: true, Err: errors.New("503")}))
	assert.Nil(t, NonRetryable(nil))
}

func TestIsFiltered(t *testing.T) {
	err := NewFilteredError("keyword", "r1", "no match").WithDetail("keywords", []string{"go"})
	assert.True(t, IsFiltered(err))
	assert.True(t, IsFiltered(fmt.Errorf("chain: %w", err)))
	assert.False(t, IsFiltered(errors.New("other")))
	assert.Contains(t, err.Error(), "keyword")
}

func TestResourceStateClone(t *testing.T) {
	until := time.Now()
	s := ResourceState{BannedUntil: &until, Extensions: []byte("x")}
	c := s.Clone()
	c.Extensions[0] = 'y'
	*c.BannedUntil = until.Add(time.Hour)

	assert.Equal(t, byte('x'), s.Extensions[0])
	assert.Equal(t, until, *s.BannedUntil)
}

func TestResourceStateIsBanned(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)
	assert.False(t, ResourceState{}.IsBanned(now))
	assert.True(t, ResourceState{BannedUntil: &later}.IsBanned(now))
	assert.False(t, ResourceState{BannedUntil: &now}.IsBanned(now))
}

func TestJSONCodec(t *testing.T) {
	type cursor struct {
		Offset int    `json:"offset"`
		Etag   string `json:"etag"`
	}
	var codec Codec[cursor] = JSONCodec[cursor]{}

	empty, err := codec.Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, cursor{}, empty)

	data, err := codec.Encode(cursor{Offset: 42, Etag: "abc"})
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, cursor{Offset: 42, Etag: "abc"}, got)

	_, err = codec.Decode([]byte("{"))
	assert.Error(t, err)
}

func TestListFilterExcludes(t *testing.T) {
	now := time.Now()
	f := ListFilter{ModifiedSince: now.Add(-24 * time.Hour)}
	assert.True(t, f.Excludes(ResourceMetadata{Modified: now.Add(-48 * time.Hour)}))
	assert.False(t, f.Excludes(ResourceMetadata{Modified: now}))
	assert.False(t, ListFilter{}.Excludes(ResourceMetadata{}))
}

func TestListFilterKeepsUndatedResources(t *testing.T) {
	f := ListFilter{ModifiedSince: time.Now().Add(-time.Hour)}
	assert.False(t, f.Excludes(ResourceMetadata{ResourceID: "undated-item"}))
}

func TestNewResourceCopiesAttributes(t *testing.T) {
	content := &ResourceContent{ResourceID: "a", Attributes: map[string]string{"title": "t"}}
	res := NewResource("tenant", ResourceMetadata{ResourceID: "a"}, content, ProcessNew, nil)
	res.SetAttribute("title", "changed")

	assert.Equal(t, "t", content.Attribute("title"))
	assert.Equal(t, "changed", res.Attribute("title"))
	assert.Equal(t, "a", res.ID())
}
