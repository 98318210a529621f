// Package feed serves the entries written by the feed target as RSS, Atom
// and JSON Feed, plus a health endpoint with per-worker counters.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/feeds"

	"resourcewatch/internal/cache"
	"resourcewatch/internal/diagnostics"
	"resourcewatch/internal/storage"
)

const renderTTL = 5 * time.Minute

type Config struct {
	Port     string
	FeedSize int
	MaxItems int
}

// StatsSource reports worker counters for /health.
type StatsSource interface {
	Snapshot() map[string]diagnostics.WorkerStats
}

type Server struct {
	name      string
	config    Config
	feedStore storage.FeedStore
	stats     StatsSource
	cache     *cache.Cache[renderKey, string]
	server    *http.Server
	started   time.Time
}

func New(name string, config Config, feedStore storage.FeedStore, stats StatsSource) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.FeedSize == 0 {
		config.FeedSize = 100
	}
	if config.MaxItems == 0 {
		config.MaxItems = 50
	}

	return &Server{
		name:      name,
		config:    config,
		feedStore: feedStore,
		stats:     stats,
		cache:     newRenderCache(name),
		started:   time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /feed.rss", s.feedHandler(FormatRSS))
	mux.HandleFunc("GET /feed.atom", s.feedHandler(FormatAtom))
	mux.HandleFunc("GET /feed.json", s.feedHandler(FormatJSON))
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start binds the port and serves in the background. Bind errors are
// returned; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.config.Port)
	if err != nil {
		return fmt.Errorf("feed server %s: failed to listen on %s: %w", s.name, s.config.Port, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Feed server error", "server", s.name, "error", err)
		}
	}()

	slog.Info("Feed server listening", "server", s.name, "addr", ln.Addr().String(), "endpoints", []string{"/feed.rss", "/feed.atom", "/feed.json", "/health"})
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cache.Close()
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("feed server %s: shutdown: %w", s.name, err)
	}
	return nil
}

// Invalidate drops rendered feeds so the next request sees new entries.
func (s *Server) Invalidate() {
	s.cache.InvalidatePrefix(s.name + ":")
}

func (s *Server) feedHandler(format Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := renderKey{server: s.name, format: format}
		body, ok := s.cache.Get(key)
		if !ok {
			var err error
			body, err = s.render(r.Context(), format)
			if err != nil {
				slog.Error("Feed server failed to render feed", "server", s.name, "format", format, "error", err)
				http.Error(w, "failed to render feed", http.StatusInternalServerError)
				return
			}
			s.cache.Set(key, body)
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Cache-Control", "public, max-age=300")
		fmt.Fprint(w, body)
	}
}

func (s *Server) render(ctx context.Context, format Format) (string, error) {
	entries, err := s.feedStore.ListRecentEntries(ctx, s.config.FeedSize)
	if err != nil {
		return "", fmt.Errorf("failed to list entries: %w", err)
	}

	return format.encode(s.buildFeed(entries))
}

func (s *Server) buildFeed(entries []storage.FeedEntry) *feeds.Feed {
	items := make([]*feeds.Item, 0, len(entries))
	for _, entry := range entries {
		item := &feeds.Item{
			Id:          entry.ID,
			IsPermaLink: "false",
			Title:       entry.Title,
			Link:        &feeds.Link{Href: entry.Link},
			Description: entry.Description,
			Content:     entry.Content,
			Created:     entry.PublishedAt,
		}
		if entry.Author != "" {
			item.Author = &feeds.Author{Name: entry.Author}
		}
		if entry.ImageURL != "" {
			item.Enclosure = &feeds.Enclosure{Url: entry.ImageURL, Type: "image/jpeg", Length: "0"}
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Created.After(items[j].Created)
	})

	if len(items) > s.config.MaxItems {
		items = items[:s.config.MaxItems]
	}

	return &feeds.Feed{
		Title:       fmt.Sprintf("resourcewatch (%s)", s.name),
		Link:        &feeds.Link{Href: "http://localhost:" + s.config.Port + "/"},
		Description: "Resources processed by resourcewatch",
		Author:      &feeds.Author{Name: "resourcewatch"},
		Created:     time.Now().UTC(),
		Items:       items,
	}
}

type health struct {
	Status  string                             `json:"status"`
	Name    string                             `json:"name"`
	Time    time.Time                          `json:"time"`
	Uptime  string                             `json:"uptime"`
	Workers map[string]diagnostics.WorkerStats `json:"workers,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{
		Status: "ok",
		Name:   s.name,
		Time:   time.Now().UTC(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.stats != nil {
		h.Workers = s.stats.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h); err != nil {
		slog.Warn("Feed server failed to write health", "error", err)
	}
}
