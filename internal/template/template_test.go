package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/types"
)

func sample() *types.Resource {
	content := &types.ResourceContent{
		ResourceID:  "post-1",
		Data:        []byte("<p>body</p>"),
		ContentType: "text/html",
		Attributes:  map[string]string{"title": `Say "hi"`},
	}
	return types.NewResource("blog", types.ResourceMetadata{ResourceID: "post-1"}, content, types.ProcessModified, nil)
}

func TestTextTemplate(t *testing.T) {
	tmpl, err := Parse("t", `{{ .ID }} {{ .ProcessType }} {{ json .Attributes.title }} {{ .Attributes.missing | default "none" }} {{ strip .Data }}`, Text)
	require.NoError(t, err)

	out, err := tmpl.Render(View(sample()))
	require.NoError(t, err)
	assert.Equal(t, `post-1 modified "Say \"hi\"" none body`, out)
}

func TestHTMLTemplateEscapes(t *testing.T) {
	tmpl, err := Parse("h", `<h1>{{ .Attributes.title }}</h1>`, HTML)
	require.NoError(t, err)

	out, err := tmpl.Render(View(sample()))
	require.NoError(t, err)
	assert.Equal(t, `<h1>Say &#34;hi&#34;</h1>`, out)
}

func TestTruncate(t *testing.T) {
	tmpl, err := Parse("t", `{{ truncate 5 .Attributes.title }}`, Text)
	require.NoError(t, err)
	out, err := tmpl.Render(View(sample()))
	require.NoError(t, err)
	assert.Equal(t, "Sa...", out)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.tmpl")
	require.NoError(t, os.WriteFile(path, []byte(`{{ upper .Tenant }}`), 0o644))

	tmpl, err := Load(path, Text)
	require.NoError(t, err)
	out, err := tmpl.Render(View(sample()))
	require.NoError(t, err)
	assert.Equal(t, "BLOG", out)

	_, err = Load(filepath.Join(t.TempDir(), "missing"), Text)
	assert.Error(t, err)

	_, err = Parse("bad", `{{ .ID`, Text)
	assert.Error(t, err)
}
