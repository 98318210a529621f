package bluesky

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/types"
)

type fakePoster struct {
	posts []*bsky.FeedPost
	err   error
}

func (f *fakePoster) CreatePost(ctx context.Context, post *bsky.FeedPost) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.posts = append(f.posts, post)
	return "at://did:plc:test/app.bsky.feed.post/1", nil
}

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

func resource(attrs map[string]string) *types.Resource {
	meta := types.ResourceMetadata{ResourceID: "post-1", Modified: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	return types.NewResource("news", meta, &types.ResourceContent{ResourceID: "post-1", Attributes: attrs}, types.ProcessNew, nil)
}

func TestDefaultPost(t *testing.T) {
	poster := &fakePoster{}
	target, err := New("bsky", poster, Config{Languages: []string{"en"}, Now: fixedNow})
	require.NoError(t, err)

	res := resource(map[string]string{
		"title":       "Launch",
		"link":        "https://example.com/launch",
		"description": "<p>We launched</p>",
	})
	require.NoError(t, target.Process(context.Background(), res))
	require.Len(t, poster.posts, 1)

	post := poster.posts[0]
	assert.Equal(t, "Launch\n\nRead more", post.Text)
	assert.Equal(t, "2024-05-01T09:30:00Z", post.CreatedAt)
	assert.Equal(t, []string{"en"}, post.Langs)

	require.Len(t, post.Facets, 1)
	assert.Equal(t, int64(8), post.Facets[0].Index.ByteStart)
	assert.Equal(t, int64(17), post.Facets[0].Index.ByteEnd)
	assert.Equal(t, "https://example.com/launch", post.Facets[0].Features[0].RichtextFacet_Link.Uri)

	require.NotNil(t, post.Embed)
	ext := post.Embed.EmbedExternal.External
	assert.Equal(t, "https://example.com/launch", ext.Uri)
	assert.Equal(t, "Launch", ext.Title)
	assert.Equal(t, "We launched", ext.Description)
}

func TestDefaultPostFitsTextLimit(t *testing.T) {
	poster := &fakePoster{}
	target, err := New("bsky", poster, Config{Now: fixedNow})
	require.NoError(t, err)

	res := resource(map[string]string{"title": strings.Repeat("é", 400), "link": "https://example.com/x"})
	require.NoError(t, target.Process(context.Background(), res))

	post := poster.posts[0]
	assert.Equal(t, postTextLimit, utf8.RuneCountInString(post.Text))
	assert.True(t, strings.HasSuffix(post.Text, readMoreText))
	facet := post.Facets[0].Index
	assert.Equal(t, readMoreText, post.Text[facet.ByteStart:facet.ByteEnd])
}

func TestPostWithoutLinkHasNoEmbed(t *testing.T) {
	poster := &fakePoster{}
	target, err := New("bsky", poster, Config{Now: fixedNow})
	require.NoError(t, err)

	require.NoError(t, target.Process(context.Background(), resource(nil)))
	post := poster.posts[0]
	assert.Equal(t, "post-1", post.Text)
	assert.Empty(t, post.Facets)
	assert.Nil(t, post.Embed)
}

func TestTemplatePost(t *testing.T) {
	target, err := New("bsky", &fakePoster{}, Config{
		Now:          fixedNow,
		PostTemplate: `{"segments": [{"text": {{ json .Attributes.title }}}, {"text": " "}, {"text": "#go", "uri": "https://bsky.app/hashtag/go"}]}`,
	})
	require.NoError(t, err)

	post, err := target.BuildPost(resource(map[string]string{"title": `Quote "this"`}))
	require.NoError(t, err)
	assert.Equal(t, `Quote "this" #go`, post.Text)
	require.Len(t, post.Facets, 1)
	assert.Nil(t, post.Embed)
}

func TestTemplatePostErrorsAreNotRetryable(t *testing.T) {
	cases := map[string]string{
		"invalid json": `not json`,
		"too long":     `{"segments": [{"text": "` + strings.Repeat("x", postTextLimit+1) + `"}]}`,
		"empty":        `{"segments": []}`,
		"embed no uri": `{"segments": [{"text": "hi"}], "embed": {"title": "t"}}`,
	}
	for name, tmpl := range cases {
		t.Run(name, func(t *testing.T) {
			poster := &fakePoster{}
			target, err := New("bsky", poster, Config{PostTemplate: tmpl})
			require.NoError(t, err)

			err = target.Process(context.Background(), resource(nil))
			require.Error(t, err)
			assert.False(t, types.IsRetryable(err))
			assert.Empty(t, poster.posts)
		})
	}
}

func TestPostFailureIsRetryable(t *testing.T) {
	target, err := New("bsky", &fakePoster{err: errors.New("502")}, Config{})
	require.NoError(t, err)

	err = target.Process(context.Background(), resource(nil))
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestNewValidation(t *testing.T) {
	_, err := New("b", nil, Config{})
	assert.Error(t, err)
	_, err = New("b", &fakePoster{}, Config{PostTemplate: "{{ .Broken"})
	assert.Error(t, err)
}
