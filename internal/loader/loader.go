// Package loader turns a config into running components and one WorkerHost
// per enabled worker.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"resourcewatch/internal/components"
	"resourcewatch/internal/config"
	"resourcewatch/internal/core"
	"resourcewatch/internal/diagnostics"
	"resourcewatch/internal/processors"
	"resourcewatch/internal/processors/filters"
	"resourcewatch/internal/processors/names"
	"resourcewatch/internal/providers/directory"
	"resourcewatch/internal/providers/rss"
	"resourcewatch/internal/providers/script"
	"resourcewatch/internal/state"
	"resourcewatch/internal/targets/bluesky"
	"resourcewatch/internal/targets/discord"
	feedtarget "resourcewatch/internal/targets/feed"
	"resourcewatch/internal/targets/file"
	"resourcewatch/internal/types"

	// Storage backends register themselves with storage.RegisterFactory.
	_ "resourcewatch/internal/storage/jsonfile"
	_ "resourcewatch/internal/storage/memory"
	_ "resourcewatch/internal/storage/postgres"
	_ "resourcewatch/internal/storage/redis"
	_ "resourcewatch/internal/storage/sqlite"
)

const diagnosticsBuffer = 1024

type Loader struct {
	config *config.Config
	logger *slog.Logger
	client *http.Client

	storageComp  *components.StorageComponent
	platformComp *components.PlatformComponent
	serverComp   *components.ServerComponent
}

func NewLoader(cfg *config.Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Initialize starts the shared components and builds every enabled worker.
// Workers are registered with the returned manager but not started.
func (l *Loader) Initialize(ctx context.Context) (*state.State, error) {
	registry := components.NewRegistry()
	stats := diagnostics.NewStatsListener()

	l.storageComp = components.NewStorageComponent(l.config.Storage)
	l.platformComp = components.NewPlatformComponent(l.config.Platforms)
	l.serverComp = components.NewServerComponent(l.config.Server, l.storageComp, stats)

	for _, c := range []components.IComponent{l.storageComp, l.platformComp, l.serverComp} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register %s component: %w", c.Name(), err)
		}
	}

	l.logger.Info("Initializing all components")
	if err := registry.InitializeAll(ctx); err != nil {
		return nil, fmt.Errorf("component initialization failed: %w", err)
	}
	l.logger.Info("All components initialized successfully")

	dispatcher := diagnostics.NewDispatcher(diagnosticsBuffer, diagnostics.NewLogListener(l.logger), stats)
	manager := core.NewManager()

	if err := l.buildWorkers(manager, dispatcher); err != nil {
		closeErr := errors.Join(dispatcher.Close(ctx), registry.CloseAll(ctx))
		return nil, errors.Join(err, closeErr)
	}

	return state.NewState(l.config, registry, manager, stats, dispatcher), nil
}

func (l *Loader) buildWorkers(manager *core.Manager, emitter diagnostics.Emitter) error {
	workerNames := make([]string, 0, len(l.config.Workers))
	for name := range l.config.Workers {
		workerNames = append(workerNames, name)
	}
	sort.Strings(workerNames)

	for _, name := range workerNames {
		wcfg := l.config.Workers[name]
		if !wcfg.IsEnabled() {
			l.logger.Info("Worker disabled, skipping", "worker", name)
			continue
		}

		host, err := l.BuildHost(name, wcfg, emitter)
		if err != nil {
			return fmt.Errorf("worker %s: %w", name, err)
		}
		if err := manager.Register(host); err != nil {
			return err
		}
	}

	if len(manager.List()) == 0 {
		return fmt.Errorf("no enabled workers")
	}
	return nil
}

// BuildHost assembles the provider, processor chain and targets of a worker.
func (l *Loader) BuildHost(name string, wcfg config.WorkerConfig, emitter diagnostics.Emitter) (*core.Host, error) {
	logger := l.logger.With("worker", name)

	provider, err := l.createProvider(name, wcfg.Provider, logger)
	if err != nil {
		return nil, err
	}

	chain, err := l.buildChain(wcfg, logger)
	if err != nil {
		return nil, err
	}

	host, err := core.NewHost(core.HostConfig{
		Name:                       name,
		Tenant:                     wcfg.Tenant,
		Provider:                   provider,
		Store:                      l.storageComp.Backend().State(),
		Chain:                      chain,
		Emitter:                    emitter,
		Logger:                     l.logger,
		Sleep:                      config.ParseDuration(wcfg.Sleep, 5*time.Minute),
		MaxRetries:                 wcfg.MaxRetries,
		BanDuration:                config.ParseDuration(wcfg.BanDuration, 24*time.Hour),
		RetryBackoff:               config.ParseDuration(wcfg.RetryBackoff, 0),
		DegreeOfParallelism:        wcfg.DegreeOfParallelism,
		IgnoreState:                wcfg.IgnoreState,
		SkipResourcesOlderThanDays: wcfg.SkipResourcesOlderThanDays,
		ResourceTimeout:            config.ParseDuration(wcfg.ResourceTimeout, 5*time.Minute),
		StateTimeout:               config.ParseDuration(wcfg.StateTimeout, 30*time.Second),
		ShutdownGrace:              config.ParseDuration(wcfg.ShutdownGrace, 30*time.Second),
		RunOnce:                    wcfg.RunOnce,
	})
	if err != nil {
		return nil, err
	}

	if notifier, ok := provider.(types.ChangeNotifier); ok {
		notifier.OnChange(host.Trigger)
	}
	return host, nil
}

func (l *Loader) buildChain(wcfg config.WorkerConfig, logger *slog.Logger) (*core.Chain, error) {
	chain := core.NewChain().WithLogger(logger)

	enabled := make(map[string]bool, len(wcfg.Processors))
	for _, pname := range wcfg.Processors {
		enabled[pname] = l.config.Processors[pname].IsEnabled()
	}

	for _, pname := range wcfg.Processors {
		pcfg := l.config.Processors[pname]
		if !enabled[pname] {
			logger.Info("Processor disabled, skipping", "processor", pname)
			continue
		}

		processor, err := l.createProcessor(pname, pcfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create processor %s: %w", pname, err)
		}

		var deps []string
		for _, dep := range pcfg.DependsOn {
			if on, listed := enabled[dep]; listed && !on {
				continue
			}
			deps = append(deps, dep)
		}
		chain.Add(processor, deps...)
	}

	for _, tname := range wcfg.Targets {
		tcfg := l.config.Targets[tname]
		if !tcfg.IsEnabled() {
			logger.Info("Target disabled, skipping", "target", tname)
			continue
		}

		target, err := l.createTarget(tname, tcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create target %s: %w", tname, err)
		}
		chain.Add(target)
	}

	return chain, nil
}

func (l *Loader) createProvider(name string, cfg config.ProviderConfig, logger *slog.Logger) (types.Provider, error) {
	switch cfg.Type {
	case "rss":
		return rss.FromSettings(name, cfg.Settings.RSSSettings, logger), nil
	case "directory":
		return directory.FromSettings(name, cfg.Settings.DirectorySettings, logger), nil
	case "script":
		return script.FromSettings(name, cfg.Settings.ScriptSettings, logger), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

func (l *Loader) createProcessor(name string, cfg config.ProcessorConfig, logger *slog.Logger) (types.Processor, error) {
	s := cfg.Settings

	switch cfg.Type {
	case names.Sanitize:
		return processors.NewSanitizeProcessor(name, s.Policy, s.MaxLength)

	case names.ExtractFields:
		return processors.NewExtractFields(name, processors.ExtractFieldsConfig{
			TitleSelector: s.TitleSelector,
			TextSelector:  s.TextSelector,
			LinkSelector:  s.LinkSelector,
			Fetch:         s.Fetch,
			MaxLength:     s.MaxLength,
			Client:        l.client,
		})

	case names.ExtractText:
		return processors.NewExtractText(name, s.MaxLength, l.client), nil

	case names.KeywordFilter:
		return filters.KeywordFilter(name, s.Keywords, s.Mode, s.Fields)

	case names.PublishedAtFilter:
		after, err := filters.ParseCutoff(s.After)
		if err != nil {
			return nil, fmt.Errorf("invalid after: %w", err)
		}
		before, err := filters.ParseCutoff(s.Before)
		if err != nil {
			return nil, fmt.Errorf("invalid before: %w", err)
		}
		return filters.PublishedAtFilter(name, after, before), nil

	case names.Dedupe:
		return filters.NewDedupeProcessor(name, config.ParseDuration(s.TTL, 24*time.Hour)), nil

	case names.Validate:
		return processors.NewValidateProcessor(name, processors.ValidateConfig{
			MaxBytes:     s.MaxBytes,
			ContentTypes: s.ContentTypes,
			RequireJSON:  s.RequireJSON,
			RequireUTF8:  s.RequireUTF8,
		}), nil

	case names.Lua:
		return processors.NewLuaProcessor(name, s.LuaSettings.Script, s.LuaSettings.ScriptPath, l.client, logger), nil

	case names.Template:
		return processors.NewTemplateProcessor(name, s.Template, s.TemplatePath, s.Output)

	case names.Summary:
		platform := cfg.Platform
		if platform == "" {
			platform = components.PlatformOllama
		}
		ollama, err := l.platformComp.Ollama(platform)
		if err != nil {
			return nil, err
		}
		return processors.NewSummaryProcessor(name, ollama, s.Model, s.Prompt)

	default:
		return nil, fmt.Errorf("unsupported processor type: %s", cfg.Type)
	}
}

func (l *Loader) createTarget(name string, cfg config.TargetConfig) (types.Processor, error) {
	switch cfg.Type {
	case "feed":
		return feedtarget.New(name, l.storageComp.Backend().Feed(), l.serverComp.Invalidate)

	case "discord":
		s := cfg.Settings.DiscordTargetSettings
		platform := cfg.Platform
		if platform == "" {
			platform = components.PlatformDiscord
		}
		d, err := l.platformComp.Discord(platform)
		if err != nil {
			return nil, err
		}
		return discord.New(name, d, discord.Config{
			ChannelID:     s.ChannelID,
			ChannelType:   s.ChannelType,
			EmbedTemplate: s.EmbedTemplate,
			ThreadName:    s.ForumThreadName,
			Sleep:         d.SleepDuration(),
		})

	case "bluesky":
		platform := cfg.Platform
		if platform == "" {
			platform = components.PlatformBluesky
		}
		b, err := l.platformComp.Bluesky(platform)
		if err != nil {
			return nil, err
		}
		return bluesky.New(name, b, bluesky.Config{
			PostTemplate: cfg.Settings.PostTemplate,
			Languages:    cfg.Settings.Languages,
			Sleep:        b.SleepDuration(),
		})

	case "file":
		return file.New(name, cfg.Settings.Dir)

	default:
		return nil, fmt.Errorf("unsupported target type: %s", cfg.Type)
	}
}

// LoadAndBuild reads the config at configPath and initializes it.
func LoadAndBuild(ctx context.Context, configPath string, logger *slog.Logger) (*state.State, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewLoader(cfg, logger).Initialize(ctx)
}
