package cli

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/inbox/common/logging"
	"github.com/telhawk-systems/inbox/internal/dlq"
	"github.com/telhawk-systems/inbox/internal/ingest"
)

var (
	dlqLimit  int
	dlqOutput string
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered envelopes",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered envelopes, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutput(dlqOutput, outputJSON, outputYAML, outputTable); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		q, err := a.requireQueue()
		if err != nil {
			return err
		}
		entries, err := q.List(cmd.Context(), dlqLimit)
		if err != nil {
			return err
		}
		if dlqOutput == outputTable {
			t := newTable("ID", "ENVELOPE", "REASON", "ATTEMPTS", "FAILED AT")
			for _, e := range entries {
				t.addRow(e.ID, e.Envelope.ID, e.Reason, strconv.Itoa(e.Attempts), e.Timestamp.Format(time.RFC3339))
			}
			t.render(cmd.OutOrStdout())
			return nil
		}
		if entries == nil {
			entries = []dlq.FailedEnvelope{}
		}
		return render(cmd.OutOrStdout(), dlqOutput, entries)
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutput(dlqOutput, outputJSON, outputYAML); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		q, err := a.requireQueue()
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), dlqOutput, q.Stats(cmd.Context()))
	},
}

var dlqDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete dead-lettered envelopes by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		q, err := a.requireQueue()
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := q.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
		}
		success(cmd.OutOrStdout(), "deleted %d entries", len(args))
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every dead-lettered envelope",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		q, err := a.requireQueue()
		if err != nil {
			return err
		}
		if err := q.Purge(cmd.Context()); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "dead-letter queue purged")
		return nil
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-ingest dead-lettered envelopes",
	Long: `Run every dead-lettered envelope through ingestion again. Entries that are
now processed or skipped are removed from the queue; entries that still fail
stay where they are.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{withoutDeadLetter: true})
		if err != nil {
			return err
		}
		defer a.Close()

		q, err := a.requireQueue()
		if err != nil {
			return err
		}
		entries, err := q.List(cmd.Context(), dlqLimit)
		if err != nil {
			return err
		}

		var total ingest.Summary
		for _, entry := range entries {
			sum, err := a.driver.Ingest(cmd.Context(), entry.Envelope)
			total.Add(sum)
			if err != nil {
				return err
			}
			if sum.Failed > 0 {
				warn(cmd.ErrOrStderr(), "%s still fails, left in queue", entry.ID)
				continue
			}
			if err := q.Delete(cmd.Context(), entry.ID); err != nil {
				a.logger.Warn("failed to remove replayed entry",
					slog.String("dlq_id", entry.ID),
					logging.Error(err))
			}
		}
		return writeSummary(cmd.OutOrStdout(), total)
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd, dlqStatsCmd, dlqDeleteCmd, dlqPurgeCmd, dlqReplayCmd)
	dlqCmd.PersistentFlags().IntVar(&dlqLimit, "limit", 0, "maximum entries to list or replay (0 means all)")
	dlqCmd.PersistentFlags().StringVarP(&dlqOutput, "output", "o", "json", "output format: json, yaml, table (list only)")
}
