package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/inbox/internal/ingest"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/payloads"
)

var (
	ingestWatch   bool
	ingestPublish bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest webhook payload files",
	Long: `Ingest every *.json file in dir (default ingest.payload_dir) as one batch,
in file-name order, and print the batch summary as JSON.

--watch keeps running and ingests files as they appear. --publish puts the
payloads on the message bus instead, for a running "inbox serve" to ingest.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "keep watching the directory for new payload files")
	ingestCmd.Flags().BoolVar(&ingestPublish, "publish", false, "publish payloads to inbox.webhooks.received instead of ingesting locally")
}

func runIngest(cmd *cobra.Command, args []string) error {
	dir := cfg.Ingest.PayloadDir
	if len(args) > 0 {
		dir = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	handle := func(ctx context.Context, envs []model.Envelope) error {
		if ingestPublish {
			return publishEnvelopes(ctx, a, envs)
		}
		sum, err := a.driver.IngestBatch(ctx, envs)
		if werr := writeSummary(cmd.OutOrStdout(), sum); werr != nil {
			return werr
		}
		return err
	}

	envs, err := payloads.LoadDir(dir)
	if err != nil {
		return err
	}
	if err := handle(ctx, envs); err != nil {
		return err
	}

	if !ingestWatch {
		return nil
	}
	return payloads.NewWatcher(dir, 0, logger.Logger).Run(ctx, handle)
}

func publishEnvelopes(ctx context.Context, a *app, envs []model.Envelope) error {
	if a.publisher == nil {
		return fmt.Errorf("--publish requires nats.enabled")
	}
	for _, env := range envs {
		if err := a.publisher.PublishWebhook(ctx, env); err != nil {
			return fmt.Errorf("publish %s: %w", env.ID, err)
		}
	}
	a.logger.Info("payloads published", slog.Int("count", len(envs)))
	return nil
}

func writeSummary(w io.Writer, sum ingest.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
