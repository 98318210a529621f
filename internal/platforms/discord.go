package platforms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"resourcewatch/internal/config"
)

// forumArchiveMinutes is how long an idle forum thread stays open.
const forumArchiveMinutes = 1440

type DiscordPlatform struct {
	botToken string
	sleep    time.Duration

	mu      sync.Mutex
	session *discordgo.Session
}

func NewDiscordPlatform(settings config.DiscordPlatformSettings, sleepStr string) (*DiscordPlatform, error) {
	if settings.BotToken == "" {
		return nil, fmt.Errorf("discord platform: bot_token is required")
	}

	return &DiscordPlatform{
		botToken: settings.BotToken,
		sleep:    config.ParseDuration(sleepStr, 1*time.Second),
	}, nil
}

func (p *DiscordPlatform) Initialize(ctx context.Context) error {
	session, err := discordgo.New("Bot " + p.botToken)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	p.mu.Lock()
	p.session = session
	p.mu.Unlock()

	slog.Info("Discord session opened")
	return nil
}

func (p *DiscordPlatform) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

func (p *DiscordPlatform) Session() (*discordgo.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil, fmt.Errorf("discord session is not open")
	}
	return p.session, nil
}

func (p *DiscordPlatform) SleepDuration() time.Duration {
	return p.sleep
}

// SendEmbed posts embed to a text channel and returns the message id.
func (p *DiscordPlatform) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (string, error) {
	session, err := p.Session()
	if err != nil {
		return "", err
	}
	msg, err := session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return msg.ID, nil
}

// StartThread opens a forum thread whose first post is embed and returns the
// thread id.
func (p *DiscordPlatform) StartThread(ctx context.Context, channelID, name string, embed *discordgo.MessageEmbed) (string, error) {
	session, err := p.Session()
	if err != nil {
		return "", err
	}
	thread, err := session.ForumThreadStartEmbed(channelID, name, forumArchiveMinutes, embed, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create forum thread: %w", err)
	}
	return thread.ID, nil
}
