package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"resourcewatch/internal/config"
	"resourcewatch/internal/loader"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "resourcewatch",
	Short:        "Watch resources, process what changed and deliver the results",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start every enabled worker and run until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			select {
			case sig := <-sigChan:
				fmt.Printf("\nReceived signal: %v\n", sig)
				fmt.Println("Shutting down gracefully...")
				cancel()
			case <-ctx.Done():
			}
		}()

		return run(ctx)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.AddCommand(runCmd, newStateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// shutdownMargin covers the cycle's own bookkeeping after its workers finish.
const shutdownMargin = 5 * time.Second

// shutdownTimeout is how long StopAll may take: the longest shutdown grace
// of any enabled worker, plus the state write a worker finishing within that
// grace still has to make.
func shutdownTimeout(cfg *config.Config) time.Duration {
	longest := time.Duration(0)
	for _, w := range cfg.Workers {
		if !w.IsEnabled() {
			continue
		}
		d := config.ParseDuration(w.ShutdownGrace, 30*time.Second) + config.ParseDuration(w.StateTimeout, 30*time.Second)
		if d > longest {
			longest = d
		}
	}
	return longest + shutdownMargin
}

func run(ctx context.Context) error {
	fmt.Printf("Loading configuration from: %s\n", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	st, err := loader.NewLoader(cfg, logger).Initialize(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Starting workers: %s\n", strings.Join(st.Manager.List(), ", "))

	errChan := make(chan error, 1)
	go func() {
		errChan <- st.Manager.StartAll(ctx)
		close(errChan)
	}()

	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		fmt.Println("\nInitiating shutdown...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer shutdownCancel()

		if err := st.Manager.StopAll(shutdownCtx); err != nil {
			runErr = fmt.Errorf("shutdown error: %w", err)
		}
		<-errChan
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := st.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	fmt.Println("Workers stopped successfully")
	return nil
}
