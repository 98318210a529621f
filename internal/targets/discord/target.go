// Package discord posts processed resources to a Discord channel, either as
// a message in a text channel or as a new thread in a forum channel.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"resourcewatch/internal/template"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

const (
	ChannelText  = "text"
	ChannelForum = "forum"

	threadNameLimit = 100
)

// Sender is the part of the Discord platform the target needs.
type Sender interface {
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (string, error)
	StartThread(ctx context.Context, channelID, name string, embed *discordgo.MessageEmbed) (string, error)
}

type Config struct {
	ChannelID   string
	ChannelType string
	// EmbedTemplate renders a JSON embed. Empty means the embed is built
	// from the resource's attributes.
	EmbedTemplate string
	// ThreadName is a template for forum thread titles.
	ThreadName string
	// Sleep pauses after each post to stay under rate limits.
	Sleep time.Duration
}

type Target struct {
	name       string
	sender     Sender
	cfg        Config
	embed      *template.Template
	threadName *template.Template
}

func New(name string, sender Sender, cfg Config) (*Target, error) {
	if sender == nil {
		return nil, fmt.Errorf("discord target %s: platform is required", name)
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord target %s: channel_id is required", name)
	}

	switch cfg.ChannelType {
	case "":
		cfg.ChannelType = ChannelText
	case ChannelText, ChannelForum:
	default:
		return nil, fmt.Errorf("discord target %s: unsupported channel type: %s", name, cfg.ChannelType)
	}

	t := &Target{name: name, sender: sender, cfg: cfg}

	var err error
	if cfg.EmbedTemplate != "" {
		if t.embed, err = template.Parse(name+"-embed", cfg.EmbedTemplate, template.Text); err != nil {
			return nil, err
		}
	}
	if cfg.ThreadName == "" {
		cfg.ThreadName = `{{ .Attributes.title | default "Untitled" }}`
	}
	if t.threadName, err = template.Parse(name+"-thread", cfg.ThreadName, template.Text); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Target) Name() string {
	return d.name
}

func (d *Target) Process(ctx context.Context, res *types.Resource) error {
	embed, err := d.BuildEmbed(res)
	if err != nil {
		return types.NonRetryable(fmt.Errorf("failed to build embed: %w", err))
	}

	var id string
	switch d.cfg.ChannelType {
	case ChannelForum:
		var name string
		name, err = d.threadName.Render(template.View(res))
		if err != nil {
			return types.NonRetryable(err)
		}
		id, err = d.sender.StartThread(ctx, d.cfg.ChannelID, utils.Truncate(strings.TrimSpace(name), threadNameLimit), embed)
	default:
		id, err = d.sender.SendEmbed(ctx, d.cfg.ChannelID, embed)
	}
	if err != nil {
		return err
	}

	slog.Debug("Discord target posted resource", "target", d.name, "resource_id", res.ID(), "message_id", id)

	if d.cfg.Sleep > 0 {
		select {
		case <-time.After(d.cfg.Sleep):
		case <-ctx.Done():
		}
	}
	return nil
}

func (d *Target) BuildEmbed(res *types.Resource) (*discordgo.MessageEmbed, error) {
	var embed Embed
	if d.embed == nil {
		embed.From(res)
		return embed.Into(), nil
	}

	out, err := d.embed.Render(template.View(res))
	if err != nil {
		return nil, err
	}
	if err := embed.TryFrom([]byte(strings.TrimSpace(out))); err != nil {
		return nil, err
	}
	return embed.Into(), nil
}
