package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/inbox/common/logging"
	natsclient "github.com/telhawk-systems/inbox/common/messaging/nats"
	"github.com/telhawk-systems/inbox/internal/config"
	"github.com/telhawk-systems/inbox/internal/dlq"
	"github.com/telhawk-systems/inbox/internal/ingest"
	"github.com/telhawk-systems/inbox/internal/merge"
	"github.com/telhawk-systems/inbox/internal/natsbus"
	"github.com/telhawk-systems/inbox/internal/parser"
	"github.com/telhawk-systems/inbox/internal/repository"
)

// deadLetterQueue is implemented by both DLQ backends.
type deadLetterQueue interface {
	dlq.Queue
	Delete(ctx context.Context, id string) error
}

// app holds the collaborators shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	repo      repository.Repository
	engine    *merge.Engine
	driver    *ingest.Driver
	queue     deadLetterQueue
	bus       *natsclient.Client
	publisher *natsbus.Publisher
}

type appOptions struct {
	// withoutDeadLetter keeps failed envelopes out of the DLQ, e.g. when
	// replaying entries that are already there.
	withoutDeadLetter bool
	// withoutBus skips the NATS connection even when enabled.
	withoutBus bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts appOptions) (*app, error) {
	if logger == nil {
		logger = logging.Default()
	}
	a := &app{cfg: cfg, logger: logger}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.repo = repo

	if cfg.NATS.Enabled && !opts.withoutBus {
		bus, err := natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "inbox",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
		}, logger.Logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.bus = bus
		a.publisher = natsbus.NewPublisher(bus)
	}

	mode, err := merge.ParseRedelivery(cfg.Merge.Redelivery)
	if err != nil {
		a.Close()
		return nil, err
	}
	engineOpts := []merge.Option{merge.WithRedelivery(mode), merge.WithLogger(logger.Logger)}
	if a.publisher != nil && cfg.NATS.Announce {
		engineOpts = append(engineOpts, merge.WithAnnouncer(a.publisher))
	}
	a.engine = merge.NewEngine(repo, engineOpts...)

	queue, err := a.openQueue(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.queue = queue

	driverOpts := []ingest.Option{
		ingest.WithParserOptions(parser.Options{FirstOnly: cfg.Ingest.FirstOnly}),
		ingest.WithLogger(logger.Logger),
	}
	if a.queue != nil && !opts.withoutDeadLetter {
		driverOpts = append(driverOpts, ingest.WithDeadLetter(a.queue))
	}
	a.driver = ingest.NewDriver(a.engine, driverOpts...)

	logger.Debug("app ready",
		slog.String("repository", cfg.Repository.Backend),
		slog.String("dlq", cfg.Ingest.DLQ.Backend),
		slog.Bool("nats", a.bus != nil),
		slog.String("redelivery", mode.String()))
	return a, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	switch cfg.Repository.Backend {
	case config.BackendMemory:
		return repository.NewInMemoryRepository(), nil

	case config.BackendPostgres:
		pc := repository.DefaultPostgresConfig()
		if cfg.Database.Postgres.MaxConns > 0 {
			pc.MaxConns = cfg.Database.Postgres.MaxConns
		}
		if cfg.Database.Postgres.MinConns > 0 {
			pc.MinConns = cfg.Database.Postgres.MinConns
		}
		repo, err := repository.NewPostgresRepository(ctx, cfg.Database.Postgres.DSN(), pc)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return repo, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		repo := repository.NewRedisRepository(client, cfg.Redis.Prefix)
		if err := repo.Ping(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown repository backend %q", cfg.Repository.Backend)
	}
}

func (a *app) openQueue(ctx context.Context) (deadLetterQueue, error) {
	switch a.cfg.Ingest.DLQ.Backend {
	case config.DLQFile:
		q, err := dlq.NewFileQueue(a.cfg.Ingest.DLQ.BasePath, a.logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("open dlq: %w", err)
		}
		return q, nil

	case config.DLQJetStream:
		if a.bus == nil {
			return nil, errors.New("jetstream dlq requires a nats connection")
		}
		js, err := natsclient.WrapJetStream(a.bus)
		if err != nil {
			return nil, fmt.Errorf("open jetstream: %w", err)
		}
		q, err := dlq.NewJetStreamQueue(ctx, js, a.logger.Logger)
		if err != nil {
			return nil, err
		}
		return q, nil

	default:
		return nil, nil
	}
}

// Close drains the bus and releases the store.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Drain(); err != nil {
			a.logger.Warn("failed to drain nats", logging.Error(err))
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warn("failed to close repository", logging.Error(err))
		}
	}
}

func (a *app) requireQueue() (deadLetterQueue, error) {
	if a.queue == nil {
		return nil, errors.New("no dead-letter queue configured (ingest.dlq.backend is none)")
	}
	return a.queue, nil
}
