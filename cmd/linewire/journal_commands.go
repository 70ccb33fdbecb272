package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"linewire/internal/journal"
)

const payloadPreviewLimit = 60

func newJournalCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect events recorded with listen --journal",
	}
	cmd.AddCommand(newJournalListCommand(ctx))
	cmd.AddCommand(newJournalPruneCommand(ctx))
	return cmd
}

func newJournalListCommand(ctx *commandContext) *cobra.Command {
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent journal entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store, err := journal.OpenReadOnly(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limitFlag)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "journal is empty")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					strconv.FormatInt(entry.ID, 10),
					entry.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
					entry.Type,
					previewPayload(entry.Payload),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Received", "Type", "Payload"},
				rows,
				0,
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 50, "Maximum number of entries to show")
	return cmd
}

func newJournalPruneCommand(ctx *commandContext) *cobra.Command {
	var daysFlag int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			days := daysFlag
			if days <= 0 {
				days = cfg.Journal.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("retention must be positive (got %d days)", days)
			}

			store, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			cutoff := time.Now().AddDate(0, 0, -days)
			removed, err := store.Prune(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries older than %d days\n", removed, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&daysFlag, "days", 0, "Retention window in days (default from config)")
	return cmd
}

func previewPayload(payload []byte) string {
	s := string(payload)
	if s == "" {
		return "{}"
	}
	if len(s) > payloadPreviewLimit {
		return s[:payloadPreviewLimit-3] + "..."
	}
	return s
}
