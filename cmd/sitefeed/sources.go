package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pevans/sitefeed/extract"
	"github.com/pevans/sitefeed/scraper"
	"github.com/pevans/sitefeed/sources"
)

func newSourcesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and their last run status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}

			store, err := sources.NewStatusStore(a.cfg.StatusDSN)
			if err != nil {
				return fmt.Errorf("failed to open status store: %w", err)
			}
			defer store.Close()

			statuses, err := store.ListStatus()
			if err != nil {
				return err
			}

			printSourcesTable(cmd.OutOrStdout(), a.catalog.List(), statuses, time.Now())
			return nil
		},
	}
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and sources files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			if _, err := a.cfg.Settings(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, cfg := range a.catalog.List() {
				if _, err := extract.New(cfg); err != nil {
					return err
				}
				fmt.Fprintf(out, "ok  %-20s %d candidates  %s\n", cfg.ID, len(cfg.Strategy), cfg.URL)
			}
			fmt.Fprintf(out, "\n%d sources valid (profile %s)\n", a.catalog.Len(), a.cfg.Profile)
			return nil
		},
	}
}

// printSourcesTable prints one row per configured source, joined with its
// stored status when there is one.
func printSourcesTable(w io.Writer, configs []scraper.SourceConfig, statuses []sources.Status, now time.Time) {
	if len(configs) == 0 {
		fmt.Fprintln(w, "No sources configured.")
		return
	}

	byID := make(map[string]sources.Status, len(statuses))
	for _, s := range statuses {
		byID[s.SourceID] = s
	}

	fmt.Fprintf(w, "%-20s %-30s %-12s %-8s %-6s %-9s %s\n",
		"ID", "NAME", "OUTCOME", "LAST RUN", "ITEMS", "FAILURES", "URL")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------------------")

	for _, cfg := range configs {
		outcome, lastRun, items, failures := "-", "never", "-", "-"
		if s, ok := byID[cfg.ID]; ok {
			outcome = string(s.LastOutcome)
			lastRun = formatDuration(now.Sub(s.LastRunAt)) + " ago"
			items = fmt.Sprint(s.LastItemCount)
			failures = fmt.Sprint(s.ConsecutiveFailures)
		}

		fmt.Fprintf(w, "%-20s %-30s %-12s %-8s %-6s %-9s %s\n",
			truncate(cfg.ID, 20),
			truncate(cfg.Name, 30),
			outcome,
			lastRun,
			items,
			failures,
			cfg.URL,
		)
	}
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
