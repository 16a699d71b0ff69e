package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/inbox/common/messaging"
	"github.com/telhawk-systems/inbox/common/messaging/nats"
	"github.com/telhawk-systems/inbox/internal/model"
)

// JetStreamQueue publishes failed envelopes to the INBOX_DLQ stream on
// inbox.dlq.<reason>, so several instances share one queue.
type JetStreamQueue struct {
	js      *nats.JetStreamClient
	stream  jetstream.Stream
	logger  *slog.Logger
	written atomic.Uint64
}

// NewJetStreamQueue ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, errors.New("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger = logger.With(slog.String("component", "dlq"), slog.String("backend", "jetstream"))
	logger.Info("dlq stream ready", slog.String("stream", nats.DLQStream.Name))

	return &JetStreamQueue{js: js, stream: stream, logger: logger}, nil
}

func (q *JetStreamQueue) Write(ctx context.Context, env model.Envelope, cause error, reason string) error {
	if q == nil {
		return nil
	}

	failed := newFailed(env, cause, reason)
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	ack, err := q.js.PublishSync(ctx, &messaging.Message{
		Subject: messaging.DLQSubject(reason),
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderEnvelopeID: env.ID,
			messaging.HeaderSource:     env.Source,
		},
	})
	if err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	q.logger.InfoContext(ctx, "envelope dead-lettered",
		slog.Uint64("stream_seq", ack.Sequence),
		slog.String("envelope_id", env.ID),
		slog.String("reason", reason))
	return nil
}

// listPageSize bounds one FetchNoWait call while listing.
const listPageSize = 100

// List reads up to limit entries from the start of the stream without
// consuming them. limit <= 0 means all.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEnvelope, error) {
	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: nats.DLQStream.Subjects,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	var out []FailedEnvelope
	for {
		page := nextPage(limit, len(out))
		if page == 0 {
			return out, nil
		}

		batch, err := consumer.FetchNoWait(page)
		if err != nil {
			return nil, fmt.Errorf("fetch dlq entries: %w", err)
		}

		received := 0
		for msg := range batch.Messages() {
			received++
			var failed FailedEnvelope
			if err := json.Unmarshal(msg.Data(), &failed); err != nil {
				q.logger.WarnContext(ctx, "failed to parse dlq message", slog.String("error", err.Error()))
				continue
			}
			if meta, err := msg.Metadata(); err == nil {
				failed.ID = strconv.FormatUint(meta.Sequence.Stream, 10)
			}
			out = append(out, failed)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
			q.logger.WarnContext(ctx, "dlq fetch completed with error", slog.String("error", err.Error()))
			return out, nil
		}
		if received < page {
			return out, nil
		}
	}
}

// nextPage returns how many entries to fetch next, or 0 once limit is met.
func nextPage(limit, have int) int {
	if limit <= 0 {
		return listPageSize
	}
	return min(limit-have, listPageSize)
}

// Delete removes the entry with the given stream sequence.
func (q *JetStreamQueue) Delete(ctx context.Context, id string) error {
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid dlq id %q: %w", id, err)
	}
	if err := q.stream.DeleteMsg(ctx, seq); err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete dlq message: %w", err)
	}
	return nil
}

func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "dlq purged")
	return nil
}

func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "jetstream"}
	}

	stats := map[string]any{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": q.written.Load(),
	}

	infoCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	info, err := q.stream.Info(infoCtx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	return stats
}
