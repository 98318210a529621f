package discord

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"resourcewatch/internal"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

const (
	defaultColor    = 3447003
	fieldValueLimit = 1024
	titleLimit      = 256
	descLimit       = 4096
)

var (
	_ internal.From[*types.Resource]         = (*Embed)(nil)
	_ internal.TryFrom[[]byte]               = (*Embed)(nil)
	_ internal.Into[*discordgo.MessageEmbed] = (*Embed)(nil)
)

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

// TryFrom reads an embed rendered by a template.
func (e *Embed) TryFrom(templateOutput []byte) error {
	if err := json.Unmarshal(templateOutput, e); err != nil {
		return fmt.Errorf("discord: failed to unmarshal template output to Embed: %w", err)
	}
	return nil
}

// From fills the embed from a resource's attributes.
func (e *Embed) From(res *types.Resource) {
	e.Title = res.Attribute("title")
	if e.Title == "" {
		e.Title = res.ID()
	}

	e.URL = res.Attribute("link")
	e.Color = defaultColor

	ts := res.Metadata.Modified
	if p, err := time.Parse(time.RFC3339, res.Attribute("published")); err == nil {
		ts = p
	}
	if !ts.IsZero() {
		e.Timestamp = ts.UTC().Format(time.RFC3339)
	}

	if desc := res.Attribute("description"); desc != "" {
		e.Description = utils.StripHTML(desc, 0)
	}

	if author := res.Attribute("author"); author != "" {
		e.Fields = append(e.Fields, EmbedField{Name: "Author", Value: author, Inline: true})
	}
	if summary := res.Attribute("summary"); summary != "" {
		e.Fields = append(e.Fields, EmbedField{Name: "Summary", Value: summary})
	}

	source := res.Attribute("source")
	if source == "" {
		source = res.Tenant
	}
	e.Footer = &EmbedFooter{Text: fmt.Sprintf("Source: %s", source)}

	if image := res.Attribute("image"); image != "" {
		e.Thumbnail = &EmbedImage{URL: image}
	}
}

// Into converts to discordgo's embed, trimming text to Discord's limits.
func (e *Embed) Into() *discordgo.MessageEmbed {
	dgEmbed := &discordgo.MessageEmbed{
		Title:       utils.Truncate(e.Title, titleLimit),
		Description: utils.Truncate(e.Description, descLimit),
		URL:         e.URL,
		Color:       e.Color,
		Timestamp:   e.Timestamp,
	}

	for _, field := range e.Fields {
		dgEmbed.Fields = append(dgEmbed.Fields, &discordgo.MessageEmbedField{
			Name:   field.Name,
			Value:  utils.Truncate(field.Value, fieldValueLimit),
			Inline: field.Inline,
		})
	}

	if e.Footer != nil {
		dgEmbed.Footer = &discordgo.MessageEmbedFooter{
			Text:    e.Footer.Text,
			IconURL: e.Footer.IconURL,
		}
	}

	if e.Image != nil {
		dgEmbed.Image = &discordgo.MessageEmbedImage{URL: e.Image.URL}
	}

	if e.Thumbnail != nil {
		dgEmbed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail.URL}
	}

	return dgEmbed
}
