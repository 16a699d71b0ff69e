// Package natsbus connects the ingestion pipeline to the message bus: a
// queue consumer feeds webhooks into the driver and a publisher announces
// merged records.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/inbox/common/logging"
	"github.com/telhawk-systems/inbox/common/messaging"
	"github.com/telhawk-systems/inbox/internal/dlq"
	"github.com/telhawk-systems/inbox/internal/ingest"
	"github.com/telhawk-systems/inbox/internal/metrics"
	"github.com/telhawk-systems/inbox/internal/model"
)

// Ingester is the part of the ingestion driver the consumer needs.
type Ingester interface {
	Ingest(ctx context.Context, env model.Envelope) (ingest.Summary, error)
}

// Consumer applies webhook payloads received on the bus.
type Consumer struct {
	sub      messaging.Subscriber
	driver   Ingester
	logger   *slog.Logger
	subs     []messaging.Subscription
	deferred dlq.Writer
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter parks webhooks that could not be applied because the store
// was unavailable, so `inbox dlq replay` can apply them later. Core NATS
// does not redeliver, so without it such webhooks are dropped.
func WithDeadLetter(w dlq.Writer) ConsumerOption {
	return func(c *Consumer) { c.deferred = w }
}

func NewConsumer(sub messaging.Subscriber, driver Ingester, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		sub:    sub,
		driver: driver,
		logger: logger.With(logging.Component("nats_consumer")),
		subs:   make([]messaging.Subscription, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start joins the ingest worker queue group so each webhook is applied by
// exactly one instance.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.sub.QueueSubscribe(
		messaging.SubjectWebhooksReceived,
		messaging.QueueIngestWorkers,
		c.handleWebhook,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", messaging.SubjectWebhooksReceived, err)
	}
	c.subs = append(c.subs, sub)

	c.logger.InfoContext(ctx, "consumer started",
		logging.Subject(messaging.SubjectWebhooksReceived),
		slog.String("queue", messaging.QueueIngestWorkers))
	return nil
}

// Stop unsubscribes from all subjects.
func (c *Consumer) Stop() error {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe",
				logging.Subject(sub.Subject()),
				logging.Error(err))
		}
	}
	c.subs = nil
	c.logger.Info("consumer stopped")
	return nil
}

// handleWebhook ingests one message. Per-envelope failures are already
// recorded by the driver. An aborted envelope is parked in the dead-letter
// queue; the error is returned only when it could not be parked.
func (c *Consumer) handleWebhook(ctx context.Context, msg *messaging.Message) error {
	env := EnvelopeFromMessage(msg)
	sum, err := c.driver.Ingest(ctx, env)
	if err != nil {
		return c.park(ctx, env, err)
	}
	c.logger.DebugContext(ctx, "webhook ingested",
		logging.EnvelopeID(env.ID),
		slog.Int("processed", sum.Processed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed))
	return nil
}

func (c *Consumer) park(ctx context.Context, env model.Envelope, cause error) error {
	cause = fmt.Errorf("ingest %s: %w", env.ID, cause)
	if c.deferred == nil {
		return cause
	}

	reason, ok := ingest.AbortReason(ctx, cause)
	if !ok {
		reason = dlq.ReasonStoreUnavailable
	}
	// The handler context may be the reason for the abort.
	if err := c.deferred.Write(context.WithoutCancel(ctx), env, cause, reason); err != nil {
		return errors.Join(cause, fmt.Errorf("park %s: %w", env.ID, err))
	}
	metrics.DLQWrites.WithLabelValues(reason).Inc()
	c.logger.WarnContext(ctx, "webhook parked for replay",
		logging.EnvelopeID(env.ID),
		slog.String("reason", reason),
		logging.Error(cause))
	return nil
}

// EnvelopeFromMessage wraps a bus message. The id comes from the envelope id
// header when the publisher set one, then the broker sequence, then a fresh
// UUID.
func EnvelopeFromMessage(msg *messaging.Message) model.Envelope {
	id := msg.Header(messaging.HeaderEnvelopeID)
	if id == "" && msg.Sequence > 0 {
		id = "nats-" + strconv.FormatUint(msg.Sequence, 10)
	}
	if id == "" {
		id = uuid.NewString()
	}

	received := msg.Timestamp
	if received.IsZero() {
		received = time.Now().UTC()
	}

	return model.Envelope{
		ID:         id,
		Source:     model.SourceNATS,
		Payload:    msg.Data,
		ReceivedAt: received,
	}
}
