package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Log        LogConfig                  `toml:"log"`
	Storage    StorageConfig              `toml:"storage"`
	Server     ServerConfig               `toml:"server"`
	Platforms  map[string]PlatformConfig  `toml:"platforms"`
	Workers    map[string]WorkerConfig    `toml:"workers"`
	Processors map[string]ProcessorConfig `toml:"processors"`
	Targets    map[string]TargetConfig    `toml:"targets"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type StorageConfig struct {
	Type      string `toml:"type"`
	Path      string `toml:"path"`
	DSN       string `toml:"dsn"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Port     string `toml:"port"`
	FeedSize int    `toml:"feed_size"`
	MaxItems int    `toml:"max_items"`
}

// PlatformConfig is a shared client used by processors and targets. Type
// defaults to the platform's name.
type PlatformConfig struct {
	Type     string           `toml:"type"`
	Sleep    string           `toml:"sleep"`
	Settings PlatformSettings `toml:"settings"`
}

type PlatformSettings struct {
	DiscordPlatformSettings
	OllamaPlatformSettings
	BlueskyPlatformSettings
}

type DiscordPlatformSettings struct {
	BotToken string `toml:"bot_token"`
}

type OllamaPlatformSettings struct {
	Host  string `toml:"host"`
	Model string `toml:"model"`
}

type BlueskyPlatformSettings struct {
	// Identifier is the account handle or DID; Password should be an app
	// password.
	Identifier string `toml:"identifier"`
	Password   string `toml:"password"`
	PDSHost    string `toml:"pds_host"`
}

// WorkerConfig is the configuration surface of one WorkerHost.
type WorkerConfig struct {
	Enabled                    *bool          `toml:"enabled"`
	Tenant                     string         `toml:"tenant"`
	Sleep                      string         `toml:"sleep"`
	MaxRetries                 uint           `toml:"max_retries"`
	BanDuration                string         `toml:"ban_duration"`
	DegreeOfParallelism        int            `toml:"degree_of_parallelism"`
	IgnoreState                bool           `toml:"ignore_state"`
	SkipResourcesOlderThanDays int            `toml:"skip_resources_older_than_days"`
	ResourceTimeout            string         `toml:"resource_timeout"`
	StateTimeout               string         `toml:"state_timeout"`
	ShutdownGrace              string         `toml:"shutdown_grace"`
	RetryBackoff               string         `toml:"retry_backoff"`
	RunOnce                    bool           `toml:"run_once"`
	Provider                   ProviderConfig `toml:"provider"`
	Processors                 []string       `toml:"processors"`
	Targets                    []string       `toml:"targets"`
}

func (w WorkerConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

type ProviderConfig struct {
	Type     string           `toml:"type"`
	Settings ProviderSettings `toml:"settings"`
}

type ProviderSettings struct {
	RSSSettings
	DirectorySettings
	ScriptSettings
}

type RSSSettings struct {
	FeedURL   string   `toml:"feed_url"`
	FeedURLs  []string `toml:"feed_urls"`
	OPMLFile  string   `toml:"opml_file"`
	MaxItems  int      `toml:"max_items"`
	CacheTTL  string   `toml:"cache_ttl"`
	UserAgent string   `toml:"user_agent"`
}

type DirectorySettings struct {
	Path        string   `toml:"path"`
	Patterns    []string `toml:"patterns"`
	Recursive   bool     `toml:"recursive"`
	Watch       bool     `toml:"watch"`
	HashContent bool     `toml:"hash_content"`
	Debounce    string   `toml:"debounce"`
}

type ScriptSettings struct {
	Script     string                 `toml:"script"`
	ScriptPath string                 `toml:"script_path"`
	Config     map[string]interface{} `toml:"config"`
}

type ProcessorConfig struct {
	Type      string            `toml:"type"`
	Enabled   *bool             `toml:"enabled"`
	Platform  string            `toml:"platform"`
	DependsOn []string          `toml:"depends_on"`
	Settings  ProcessorSettings `toml:"settings"`
}

type ProcessorSettings struct {
	SanitizeSettings
	ExtractSettings
	KeywordFilterSettings
	PublishedAtSettings
	DedupeSettings
	ValidateSettings
	LuaSettings
	TemplateSettings
	SummarySettings
}

type SanitizeSettings struct {
	Policy    string `toml:"policy"`
	MaxLength int    `toml:"max_length"`
}

type ExtractSettings struct {
	TitleSelector string `toml:"title_selector"`
	TextSelector  string `toml:"text_selector"`
	LinkSelector  string `toml:"link_selector"`
	// Fetch downloads the resource's link instead of reading its data.
	Fetch bool `toml:"fetch"`
}

type KeywordFilterSettings struct {
	Keywords []string `toml:"keywords"`
	Mode     string   `toml:"mode"`
	Fields   []string `toml:"fields"`
}

type PublishedAtSettings struct {
	After  string `toml:"after"`
	Before string `toml:"before"`
}

type DedupeSettings struct {
	TTL string `toml:"ttl"`
}

type ValidateSettings struct {
	MaxBytes     int      `toml:"max_bytes"`
	ContentTypes []string `toml:"content_types"`
	RequireJSON  bool     `toml:"require_json"`
	RequireUTF8  bool     `toml:"require_utf8"`
}

type LuaSettings struct {
	Script     string `toml:"script"`
	ScriptPath string `toml:"script_path"`
}

type TemplateSettings struct {
	Template     string `toml:"template"`
	TemplatePath string `toml:"template_path"`
	Output       string `toml:"output"`
}

type SummarySettings struct {
	Model  string `toml:"model"`
	Prompt string `toml:"prompt"`
}

func (p ProcessorConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type TargetConfig struct {
	Type     string         `toml:"type"`
	Enabled  *bool          `toml:"enabled"`
	Platform string         `toml:"platform"`
	Settings TargetSettings `toml:"settings"`
}

func (t TargetConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

type TargetSettings struct {
	DiscordTargetSettings
	FileTargetSettings
	BlueskyTargetSettings
}

type DiscordTargetSettings struct {
	ChannelID string `toml:"channel_id"`
	// ChannelType is "text" (default) or "forum".
	ChannelType     string `toml:"channel_type"`
	EmbedTemplate   string `toml:"embed_template"`
	ForumThreadName string `toml:"forum_thread_name"`
}

type FileTargetSettings struct {
	Dir string `toml:"dir"`
}

type BlueskyTargetSettings struct {
	PostTemplate string   `toml:"post_template"`
	Languages    []string `toml:"languages"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}
	if config.Storage.Type == "sqlite" && config.Storage.Path == "" {
		config.Storage.Path = "./resourcewatch.db"
	}
	if config.Storage.KeyPrefix == "" {
		config.Storage.KeyPrefix = "resourcewatch"
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}

	enabledWorkers := 0
	for name, w := range config.Workers {
		if !w.IsEnabled() {
			continue
		}
		enabledWorkers++

		if err := applyWorkerDefaults(name, &w); err != nil {
			return fmt.Errorf("worker %s: %w", name, err)
		}
		config.Workers[name] = w

		for _, p := range w.Processors {
			if _, ok := config.Processors[p]; !ok {
				return fmt.Errorf("worker %s: processor %s is not defined", name, p)
			}
		}
		for _, t := range w.Targets {
			if _, ok := config.Targets[t]; !ok {
				return fmt.Errorf("worker %s: target %s is not defined", name, t)
			}
		}
	}
	if enabledWorkers == 0 {
		return fmt.Errorf("at least one worker must be enabled")
	}

	for name, p := range config.Platforms {
		if p.Type == "" {
			p.Type = name
			config.Platforms[name] = p
		}
	}

	for name, p := range config.Processors {
		if p.Platform == "" {
			continue
		}
		if _, ok := config.Platforms[p.Platform]; !ok {
			return fmt.Errorf("processor %s: platform %s is not defined", name, p.Platform)
		}
	}
	for name, t := range config.Targets {
		if t.Platform == "" {
			continue
		}
		if _, ok := config.Platforms[t.Platform]; !ok {
			return fmt.Errorf("target %s: platform %s is not defined", name, t.Platform)
		}
	}

	return nil
}

func applyWorkerDefaults(name string, w *WorkerConfig) error {
	if w.Tenant == "" {
		w.Tenant = name
	}
	if w.Provider.Type == "" {
		return fmt.Errorf("provider type is required")
	}
	if w.DegreeOfParallelism <= 0 {
		w.DegreeOfParallelism = 1
	}
	if w.SkipResourcesOlderThanDays < 0 {
		return fmt.Errorf("skip_resources_older_than_days must not be negative")
	}

	durations := []struct {
		field *string
		name  string
		def   string
	}{
		{&w.Sleep, "sleep", "5m"},
		{&w.BanDuration, "ban_duration", "24h"},
		{&w.ResourceTimeout, "resource_timeout", "5m"},
		{&w.StateTimeout, "state_timeout", "30s"},
		{&w.ShutdownGrace, "shutdown_grace", "30s"},
		{&w.RetryBackoff, "retry_backoff", "0s"},
	}
	for _, d := range durations {
		if *d.field == "" {
			*d.field = d.def
		}
		if _, err := time.ParseDuration(*d.field); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	return nil
}

// ParseDuration returns def when s is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
