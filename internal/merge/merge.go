// Package merge applies normalized records to the repository.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/inbox/common/logging"
	"github.com/telhawk-systems/inbox/internal/metrics"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/repository"
)

// Outcome describes what a single Apply did to the store.
type Outcome string

const (
	Inserted Outcome = "inserted"
	Replaced Outcome = "replaced"
	Updated  Outcome = "updated"
	Orphaned Outcome = "orphaned"
)

// Redelivery policies for messages whose id is already stored.
const (
	ReplaceAll        = repository.ReplaceAll
	KeepDeliveryState = repository.KeepDeliveryState
)

// ParseRedelivery maps the config value onto an upsert mode.
func ParseRedelivery(s string) (repository.UpsertMode, error) {
	switch s {
	case "", "replace", "overwrite":
		return ReplaceAll, nil
	case "preserve":
		return KeepDeliveryState, nil
	default:
		return ReplaceAll, fmt.Errorf("unknown redelivery mode %q", s)
	}
}

// Event is published after every successful Apply.
type Event struct {
	Outcome Outcome              `json:"outcome"`
	Record  *model.MessageRecord `json:"record,omitempty"`
	Status  *model.StatusUpdate  `json:"status,omitempty"`
	At      time.Time            `json:"at"`
}

// Announcer receives merge events, e.g. to fan them out on a bus. Failures
// are logged and never fail the merge.
type Announcer interface {
	Announce(ctx context.Context, ev Event) error
}

// Engine merges records into a repository.
type Engine struct {
	repo      repository.Repository
	mode      repository.UpsertMode
	announcer Announcer
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRedelivery sets the upsert mode used for messages.
func WithRedelivery(mode repository.UpsertMode) Option {
	return func(e *Engine) { e.mode = mode }
}

// WithAnnouncer sets the announcer notified after each merge.
func WithAnnouncer(a Announcer) Option {
	return func(e *Engine) { e.announcer = a }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(repo repository.Repository, opts ...Option) *Engine {
	e := &Engine{repo: repo, mode: ReplaceAll, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.Component("merge"))
	return e
}

// Apply upserts message records and update-only patches status updates.
// A status for an unknown id is Orphaned, not an error. Repository errors
// are returned wrapped.
func (e *Engine) Apply(ctx context.Context, rec model.Record) (Outcome, error) {
	start := time.Now()
	defer func() { metrics.MergeDuration.Observe(time.Since(start).Seconds()) }()

	switch r := rec.(type) {
	case model.MessageRecord:
		created, err := e.repo.Upsert(ctx, r, e.mode)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("upsert").Inc()
			return "", fmt.Errorf("upsert %s: %w", r.ID, err)
		}
		outcome := Replaced
		if created {
			outcome = Inserted
		}
		e.finish(ctx, model.KindMessage, Event{Outcome: outcome, Record: &r})
		return outcome, nil

	case model.StatusUpdate:
		matched, err := e.repo.UpdateFields(ctx, r.ExternalID, repository.Patch{
			State:        r.State,
			OccurredAtMs: r.OccurredAtMs,
		})
		if err != nil {
			metrics.StoreErrors.WithLabelValues("update_fields").Inc()
			return "", fmt.Errorf("update %s: %w", r.ExternalID, err)
		}
		if !matched {
			e.logger.DebugContext(ctx, "status for unknown record ignored",
				logging.RecordID(r.ExternalID),
				slog.String("state", string(r.State)))
			metrics.ChangesTotal.WithLabelValues(string(model.KindStatus), string(Orphaned)).Inc()
			return Orphaned, nil
		}
		e.finish(ctx, model.KindStatus, Event{Outcome: Updated, Status: &r})
		return Updated, nil

	default:
		return "", fmt.Errorf("merge: unsupported record %T", rec)
	}
}

// Insert stores a new record through the create-only path.
func (e *Engine) Insert(ctx context.Context, rec model.MessageRecord) (model.MessageRecord, error) {
	stored, err := e.repo.Insert(ctx, rec)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert").Inc()
		return model.MessageRecord{}, fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	e.finish(ctx, model.KindMessage, Event{Outcome: Inserted, Record: &stored})
	return stored, nil
}

func (e *Engine) finish(ctx context.Context, kind model.ChangeKind, ev Event) {
	metrics.ChangesTotal.WithLabelValues(string(kind), string(ev.Outcome)).Inc()
	if e.announcer == nil {
		return
	}
	ev.At = time.Now().UTC()
	if err := e.announcer.Announce(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "failed to announce merge",
			logging.Outcome(string(ev.Outcome)),
			logging.Error(err))
	}
}
