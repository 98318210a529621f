package bluesky

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bluesky-social/indigo/api/bsky"

	"resourcewatch/internal"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

const (
	// postTextLimit is Bluesky's cap on post text, counted here in runes.
	postTextLimit    = 300
	embedTitleLimit  = 300
	embedDescLimit   = 300
	readMoreText     = "Read more"
	segmentSeparator = "\n\n"
)

var (
	_ internal.From[*types.Resource] = (*Post)(nil)
	_ internal.TryFrom[[]byte]       = (*Post)(nil)
	_ internal.Into[RichText]        = (*Post)(nil)
)

type Post struct {
	Segments []Segment `json:"segments"`
	Embed    *Embed    `json:"embed,omitempty"`
}

// Segment is a run of post text. A segment with a URI becomes a link facet.
type Segment struct {
	Text string `json:"text"`
	URI  string `json:"uri,omitempty"`
}

type Embed struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type RichText struct {
	Text   string
	Facets []*bsky.RichtextFacet
}

// TryFrom reads a post rendered by a template.
func (p *Post) TryFrom(templateOutput []byte) error {
	if err := json.Unmarshal(templateOutput, p); err != nil {
		return fmt.Errorf("bluesky: failed to unmarshal template output to Post: %w", err)
	}
	return nil
}

// From builds a title plus "Read more" link post, with the link as an
// external card.
func (p *Post) From(res *types.Resource) {
	title := res.Attribute("title")
	if title == "" {
		title = res.ID()
	}
	link := res.Attribute("link")

	room := postTextLimit
	if link != "" {
		room -= utf8.RuneCountInString(segmentSeparator + readMoreText)
	}
	p.Segments = append(p.Segments, Segment{Text: utils.Truncate(title, room)})

	if link == "" {
		return
	}
	p.Segments = append(p.Segments,
		Segment{Text: segmentSeparator},
		Segment{Text: readMoreText, URI: link},
	)

	desc := res.Attribute("summary")
	if desc == "" {
		desc = res.Attribute("description")
	}
	p.Embed = &Embed{
		URI:         link,
		Title:       title,
		Description: utils.StripHTML(desc, 0),
	}
}

// Into joins the segments and computes link facets over their byte offsets.
func (p *Post) Into() RichText {
	var text string
	var facets []*bsky.RichtextFacet

	for _, seg := range p.Segments {
		if seg.Text == "" {
			continue
		}

		start := int64(len(text))
		text += seg.Text
		end := int64(len(text))

		if seg.URI != "" {
			facets = append(facets, &bsky.RichtextFacet{
				Index: &bsky.RichtextFacet_ByteSlice{
					ByteStart: start,
					ByteEnd:   end,
				},
				Features: []*bsky.RichtextFacet_Features_Elem{
					{RichtextFacet_Link: &bsky.RichtextFacet_Link{Uri: seg.URI}},
				},
			})
		}
	}

	return RichText{Text: text, Facets: facets}
}

func (e *Embed) TryInto() (*bsky.EmbedExternal_External, error) {
	if e.URI == "" {
		return nil, fmt.Errorf("bluesky: embed uri cannot be empty")
	}
	return &bsky.EmbedExternal_External{
		Uri:         e.URI,
		Title:       utils.Truncate(e.Title, embedTitleLimit),
		Description: utils.Truncate(e.Description, embedDescLimit),
	}, nil
}

func BuildPost(rt RichText, external *bsky.EmbedExternal_External, languages []string, now time.Time) *bsky.FeedPost {
	post := &bsky.FeedPost{
		LexiconTypeID: "app.bsky.feed.post",
		CreatedAt:     now.UTC().Format(time.RFC3339),
		Langs:         languages,
		Text:          rt.Text,
		Facets:        rt.Facets,
	}
	if external != nil {
		post.Embed = &bsky.FeedPost_Embed{
			EmbedExternal: &bsky.EmbedExternal{
				LexiconTypeID: "app.bsky.embed.external",
				External:      external,
			},
		}
	}
	return post
}
