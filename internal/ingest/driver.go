// Package ingest runs envelopes through parse, normalize and merge.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/inbox/common/logging"
	"github.com/telhawk-systems/inbox/internal/dlq"
	"github.com/telhawk-systems/inbox/internal/merge"
	"github.com/telhawk-systems/inbox/internal/metrics"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/normalizer"
	"github.com/telhawk-systems/inbox/internal/parser"
	"github.com/telhawk-systems/inbox/internal/repository"
)

// Per-envelope outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// Diagnostic explains why one envelope was not processed.
type Diagnostic struct {
	EnvelopeID string `json:"envelope_id"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason"`
	Error      string `json:"error"`
}

// Summary is the end-of-batch report. Processed, Skipped and Failed count
// envelopes; Changes and Orphaned count individual changes.
type Summary struct {
	Processed int          `json:"processed"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Changes   int          `json:"changes"`
	Orphaned  int          `json:"orphaned"`
	Errors    []Diagnostic `json:"errors,omitempty"`
}

// Add folds other into s.
func (s *Summary) Add(other Summary) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Changes += other.Changes
	s.Orphaned += other.Orphaned
	s.Errors = append(s.Errors, other.Errors...)
}

// Driver ingests batches in order, isolating per-envelope failures.
type Driver struct {
	parser     *parser.Parser
	registry   *normalizer.Registry
	engine     *merge.Engine
	deadLetter dlq.Writer
	logger     *slog.Logger

	startedAt time.Time
	processed atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Driver.
type Option func(*Driver)

// WithParserOptions replaces the default parser options.
func WithParserOptions(opts parser.Options) Option {
	return func(d *Driver) { d.parser = parser.New(opts) }
}

// WithRegistry replaces the default normalizer registry.
func WithRegistry(r *normalizer.Registry) Option {
	return func(d *Driver) { d.registry = r }
}

// WithDeadLetter sends failed envelopes to w.
func WithDeadLetter(w dlq.Writer) Option {
	return func(d *Driver) { d.deadLetter = w }
}

// WithLogger sets the driver logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

func NewDriver(engine *merge.Engine, opts ...Option) *Driver {
	d := &Driver{
		parser:    parser.New(parser.Options{}),
		registry:  normalizer.Default(),
		engine:    engine,
		logger:    slog.Default(),
		startedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logging.Component("ingest"))
	return d
}

// IngestBatch processes envs strictly in order. Per-envelope failures are
// counted and reported in the summary. Only an unavailable store or a
// cancelled context stops the batch; the partial summary is returned with
// the error.
func (d *Driver) IngestBatch(ctx context.Context, envs []model.Envelope) (Summary, error) {
	var sum Summary

	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			metrics.BatchesAborted.Inc()
			return sum, fmt.Errorf("ingest aborted before %s: %w", env.ID, err)
		}

		res, err := d.ingestOne(ctx, env)
		sum.Add(res)
		if err != nil {
			metrics.BatchesAborted.Inc()
			d.logger.ErrorContext(ctx, "batch aborted",
				logging.EnvelopeID(env.ID),
				logging.Error(err),
				slog.Int("processed", sum.Processed),
				slog.Int("skipped", sum.Skipped),
				slog.Int("failed", sum.Failed))
			return sum, err
		}
	}

	d.logger.InfoContext(ctx, "batch complete",
		slog.Int("envelopes", len(envs)),
		slog.Int("processed", sum.Processed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
		slog.Int("changes", sum.Changes),
		slog.Int("orphaned", sum.Orphaned))
	return sum, nil
}

// Ingest processes a single envelope.
func (d *Driver) Ingest(ctx context.Context, env model.Envelope) (Summary, error) {
	return d.IngestBatch(ctx, []model.Envelope{env})
}

// ingestOne returns a non-nil error only when the batch must stop.
func (d *Driver) ingestOne(ctx context.Context, env model.Envelope) (Summary, error) {
	metrics.EnvelopeBytesTotal.Add(float64(len(env.Payload)))
	log := d.logger.With(logging.EnvelopeID(env.ID), slog.String("source", env.Source))

	changes, err := d.parser.Parse(env)
	if errors.Is(err, parser.ErrUnclassified) {
		log.InfoContext(ctx, "envelope skipped", slog.String("reason", err.Error()))
		return d.skip(env, err), nil
	}
	if err != nil {
		return d.fail(ctx, env, err), nil
	}

	// Normalize everything first so a bad change leaves the store untouched.
	records := make([]model.Record, 0, len(changes))
	for _, change := range changes {
		rec, err := d.registry.Normalize(ctx, change, env.ReceivedAt)
		if err != nil {
			return d.fail(ctx, env, err), nil
		}
		records = append(records, rec)
	}

	var sum Summary
	for _, rec := range records {
		outcome, err := d.engine.Apply(ctx, rec)
		if err != nil {
			if reason, ok := AbortReason(ctx, err); ok {
				metrics.EnvelopesTotal.WithLabelValues(env.Source, OutcomeAborted).Inc()
				sum.Errors = append(sum.Errors, Diagnostic{
					EnvelopeID: env.ID,
					Outcome:    OutcomeAborted,
					Reason:     reason,
					Error:      err.Error(),
				})
				return sum, fmt.Errorf("ingest %s: %w", env.ID, err)
			}
			failed := d.fail(ctx, env, err)
			failed.Changes, failed.Orphaned = sum.Changes, sum.Orphaned
			return failed, nil
		}
		if outcome == merge.Orphaned {
			sum.Orphaned++
		} else {
			sum.Changes++
		}
		log.DebugContext(ctx, "change merged",
			logging.RecordID(rec.RecordID()),
			logging.Outcome(string(outcome)))
	}

	sum.Processed = 1
	d.processed.Add(1)
	metrics.EnvelopesTotal.WithLabelValues(env.Source, OutcomeProcessed).Inc()
	return sum, nil
}

func (d *Driver) skip(env model.Envelope, err error) Summary {
	d.skipped.Add(1)
	metrics.EnvelopesTotal.WithLabelValues(env.Source, OutcomeSkipped).Inc()
	return Summary{
		Skipped: 1,
		Errors: []Diagnostic{{
			EnvelopeID: env.ID,
			Outcome:    OutcomeSkipped,
			Reason:     "unclassified",
			Error:      err.Error(),
		}},
	}
}

func (d *Driver) fail(ctx context.Context, env model.Envelope, err error) Summary {
	reason := Reason(err)
	d.failed.Add(1)
	metrics.EnvelopesTotal.WithLabelValues(env.Source, OutcomeFailed).Inc()

	d.logger.WarnContext(ctx, "envelope failed",
		logging.EnvelopeID(env.ID),
		slog.String("reason", reason),
		logging.Error(err))

	if d.deadLetter != nil {
		if dlqErr := d.deadLetter.Write(ctx, env, err, reason); dlqErr != nil {
			d.logger.ErrorContext(ctx, "failed to dead-letter envelope",
				logging.EnvelopeID(env.ID),
				logging.Error(dlqErr))
		} else {
			metrics.DLQWrites.WithLabelValues(reason).Inc()
		}
	}

	return Summary{
		Failed: 1,
		Errors: []Diagnostic{{
			EnvelopeID: env.ID,
			Outcome:    OutcomeFailed,
			Reason:     reason,
			Error:      err.Error(),
		}},
	}
}

// Reason maps a per-envelope error onto a dead-letter reason.
func Reason(err error) string {
	switch {
	case errors.Is(err, parser.ErrMalformedPayload):
		return dlq.ReasonMalformedPayload
	case errors.Is(err, normalizer.ErrMissingField):
		return dlq.ReasonMissingField
	case errors.Is(err, normalizer.ErrInvalidState):
		return dlq.ReasonInvalidState
	default:
		return dlq.ReasonProcessing
	}
}

// AbortReason reports whether err stops the batch and why. A done ctx
// means the caller gave up, even if the store surfaced it as an outage.
func AbortReason(ctx context.Context, err error) (string, bool) {
	switch {
	case ctx.Err() != nil:
		return dlq.ReasonCancelled, true
	case errors.Is(err, repository.ErrStoreUnavailable):
		return dlq.ReasonStoreUnavailable, true
	default:
		return "", false
	}
}

// Stats is a snapshot of lifetime driver counters.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Processed     uint64 `json:"processed"`
	Skipped       uint64 `json:"skipped"`
	Failed        uint64 `json:"failed"`
}

// Health returns lifetime counters for health endpoints.
func (d *Driver) Health() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
		Processed:     d.processed.Load(),
		Skipped:       d.skipped.Load(),
		Failed:        d.failed.Load(),
	}
}
