package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/inbox/common/logging"
	"github.com/telhawk-systems/inbox/internal/config"
	"github.com/telhawk-systems/inbox/internal/handlers"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/natsbus"
	"github.com/telhawk-systems/inbox/internal/payloads"
	"github.com/telhawk-systems/inbox/internal/repository"
	"github.com/telhawk-systems/inbox/internal/server"
	"github.com/telhawk-systems/inbox/internal/service"
)

var (
	serveMigrate bool
	serveIngest  bool
	serveWatch   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the conversation API on server.port.

With --ingest the payload directory is ingested before the listener starts,
and with --watch new payload files keep being ingested while serving. When
nats.enabled is set, webhooks published on inbox.webhooks.received are
ingested as well.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply database migrations before serving (postgres only)")
	serveCmd.Flags().BoolVar(&serveIngest, "ingest", false, "ingest ingest.payload_dir on startup")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "keep ingesting new files in ingest.payload_dir")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Component("serve")

	if serveMigrate {
		if err := migrateDatabase(cfg, true); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if serveIngest {
		if err := ingestDir(ctx, a, cfg.Ingest.PayloadDir); err != nil {
			return err
		}
	}

	var consumer *natsbus.Consumer
	if a.bus != nil {
		var consumerOpts []natsbus.ConsumerOption
		if a.queue != nil {
			consumerOpts = append(consumerOpts, natsbus.WithDeadLetter(a.queue))
		} else {
			logger.Warn("no dead-letter queue configured, webhooks received during a store outage will be dropped")
		}
		consumer = natsbus.NewConsumer(a.bus, a.driver, logger.Logger, consumerOpts...)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		defer consumer.Stop()
	}

	if serveWatch {
		w := payloads.NewWatcher(cfg.Ingest.PayloadDir, 0, logger.Logger)
		go func() {
			err := w.Run(ctx, func(ctx context.Context, envs []model.Envelope) error {
				_, err := a.driver.IngestBatch(ctx, envs)
				return err
			})
			if err != nil {
				log.Error("payload watcher stopped", logging.Error(err))
				stop()
			}
		}()
	}

	svc := service.NewInboxService(a.repo, a.engine, service.WithLocalSenderID(cfg.Inbox.LocalSenderID))
	handlerOpts := []handlers.Option{
		handlers.WithLogger(logger.Logger),
		handlers.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if a.bus != nil {
		handlerOpts = append(handlerOpts, handlers.WithBus(a.bus))
	}
	h := handlers.NewHandler(svc, a.driver, handlerOpts...)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(h, server.Options{AllowedOrigins: cfg.CORS.AllowedOrigins, Logger: logger.Logger}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("inbox listening",
			slog.String("addr", srv.Addr),
			slog.String("repository", cfg.Repository.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped gracefully")
	return nil
}

func migrateDatabase(cfg *config.Config, up bool) error {
	if cfg.Repository.Backend != config.BackendPostgres {
		return fmt.Errorf("migrations need repository.backend postgres, have %q", cfg.Repository.Backend)
	}
	direction := "up"
	if !up {
		direction = "down"
	}
	logger.Info("running database migrations",
		slog.String("dir", cfg.Migrations.Dir),
		slog.String("direction", direction))
	if err := repository.Migrate(cfg.Migrations.Dir, cfg.Database.Postgres.DSN(), up); err != nil {
		return err
	}
	logger.Info("database migrations completed")
	return nil
}

// ingestDir ingests every payload file in dir and logs the summary. Only
// an aborted batch is an error.
func ingestDir(ctx context.Context, a *app, dir string) error {
	envs, err := payloads.LoadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("payload directory missing, nothing to ingest", slog.String("dir", dir))
			return nil
		}
		return err
	}
	_, err = a.driver.IngestBatch(ctx, envs)
	return err
}
