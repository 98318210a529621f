package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"resourcewatch/internal/components"
	"resourcewatch/internal/config"
	"resourcewatch/internal/storage"
	"resourcewatch/internal/types"

	_ "resourcewatch/internal/storage/jsonfile"
	_ "resourcewatch/internal/storage/memory"
	_ "resourcewatch/internal/storage/postgres"
	_ "resourcewatch/internal/storage/redis"
	_ "resourcewatch/internal/storage/sqlite"
)

func newStateCmd() *cobra.Command {
	var tenant string

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit persisted resource state",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the stored state of every resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(cfg *config.Config, store storage.StateStore) error {
				return listStates(cmd.Context(), store, tenantsOf(cfg, tenant))
			})
		},
	}

	unbanCmd := &cobra.Command{
		Use:   "unban <resource-id>",
		Short: "Clear the ban and retry count of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(cfg *config.Config, store storage.StateStore) error {
				return unban(cmd.Context(), store, tenantsOf(cfg, tenant), args[0])
			})
		},
	}

	stateCmd.PersistentFlags().StringVar(&tenant, "tenant", "", "Only this tenant (default: every configured worker's tenant)")
	stateCmd.AddCommand(listCmd, unbanCmd)
	return stateCmd
}

func withStore(ctx context.Context, fn func(*config.Config, storage.StateStore) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	comp := components.NewStorageComponent(cfg.Storage)
	if err := comp.Validate(); err != nil {
		return err
	}
	if err := comp.Initialize(ctx); err != nil {
		return err
	}
	defer comp.Close(context.Background())

	return fn(cfg, comp.Backend().State())
}

func tenantsOf(cfg *config.Config, only string) []string {
	if only != "" {
		return []string{only}
	}
	seen := make(map[string]bool)
	var tenants []string
	for _, w := range cfg.Workers {
		if w.Tenant == "" || seen[w.Tenant] {
			continue
		}
		seen[w.Tenant] = true
		tenants = append(tenants, w.Tenant)
	}
	sort.Strings(tenants)
	return tenants
}

func listStates(ctx context.Context, store storage.StateStore, tenants []string) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TENANT", "RESOURCE", "FINGERPRINT", "MODIFIED", "RETRIES", "BANNED UNTIL", "UPDATED"})

	now := time.Now()
	total := 0
	for _, tenant := range tenants {
		states, err := storage.CollectStates(ctx, store, tenant)
		if err != nil {
			return fmt.Errorf("failed to read states of %s: %w", tenant, err)
		}
		sort.Slice(states, func(i, j int) bool { return states[i].ResourceID < states[j].ResourceID })

		for _, s := range states {
			t.AppendRow(table.Row{
				s.Tenant,
				s.ResourceID,
				shorten(s.Fingerprint, 16),
				formatTime(s.Modified),
				s.RetryCount,
				bannedUntil(s, now),
				formatTime(s.UpdatedAt),
			})
			total++
		}
	}

	if total == 0 {
		fmt.Println(text.FgYellow.Sprint("No resource state found"))
		return nil
	}
	t.Render()
	fmt.Printf("%s %d resources\n", text.FgHiBlue.Sprint("Total:"), total)
	return nil
}

func unban(ctx context.Context, store storage.StateStore, tenants []string, resourceID string) error {
	for _, tenant := range tenants {
		s, ok, err := store.Get(ctx, tenant, resourceID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		s.RetryCount = 0
		s.BannedUntil = nil
		s.UpdatedAt = time.Now()
		if err := store.Upsert(ctx, tenant, resourceID, s); err != nil {
			return fmt.Errorf("failed to update %s/%s: %w", tenant, resourceID, err)
		}
		fmt.Printf("Unbanned %s/%s\n", tenant, resourceID)
		return nil
	}
	return fmt.Errorf("no state for resource %s", resourceID)
}

func bannedUntil(s types.ResourceState, now time.Time) string {
	if !s.IsBanned(now) {
		return "-"
	}
	return text.FgRed.Sprint(s.BannedUntil.Format(time.RFC3339))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
