package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/inbox/common/messaging"
	"github.com/telhawk-systems/inbox/internal/dlq"
	"github.com/telhawk-systems/inbox/internal/ingest"
	"github.com/telhawk-systems/inbox/internal/merge"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/repository"
)

// loopback delivers published messages synchronously to queue subscribers.
type loopback struct {
	mu        sync.Mutex
	handlers  map[string]messaging.MessageHandler
	published []*messaging.Message
	seq       uint64
}

func newLoopback() *loopback {
	return &loopback{handlers: make(map[string]messaging.MessageHandler)}
}

func (l *loopback) Publish(ctx context.Context, subject string, data []byte) error {
	return l.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

func (l *loopback) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	l.mu.Lock()
	l.seq++
	msg.Sequence = l.seq
	msg.Timestamp = time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC)
	l.published = append(l.published, msg)
	h := l.handlers[msg.Subject]
	l.mu.Unlock()

	if h != nil {
		return h(ctx, msg)
	}
	return nil
}

func (l *loopback) Subscribe(subject string, h messaging.MessageHandler) (messaging.Subscription, error) {
	return l.QueueSubscribe(subject, "", h)
}

func (l *loopback) QueueSubscribe(subject, _ string, h messaging.MessageHandler) (messaging.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[subject] = h
	return &loopSub{bus: l, subject: subject}, nil
}

func (l *loopback) onSubject(subject string) []*messaging.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*messaging.Message
	for _, m := range l.published {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

type loopSub struct {
	bus     *loopback
	subject string
}

func (s *loopSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers, s.subject)
	return nil
}
func (s *loopSub) Subject() string { return s.subject }
func (s *loopSub) IsValid() bool   { return true }

const webhook = `{"entry":[{"changes":[{"value":{
	"contacts":[{"wa_id":"wa1","profile":{"name":"Alice"}}],
	"messages":[{"id":"m1","from":"wa1","timestamp":"1700000000","type":"text","text":{"body":"hi"}}]}}]}]}`

func TestConsumer_IngestsAndAnnounces(t *testing.T) {
	bus := newLoopback()
	repo := repository.NewInMemoryRepository()
	pub := NewPublisher(bus)
	driver := ingest.NewDriver(merge.NewEngine(repo, merge.WithAnnouncer(pub)))

	consumer := NewConsumer(bus, driver, nil)
	require.NoError(t, consumer.Start(context.Background()))

	err := pub.PublishWebhook(context.Background(), model.Envelope{
		ID: "hook-1", Source: model.SourceHTTP, Payload: json.RawMessage(webhook),
	})
	require.NoError(t, err)

	rec, err := repo.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "wa1", rec.CounterpartyID)
	assert.Equal(t, "Alice", rec.DisplayName)

	merged := bus.onSubject(messaging.SubjectRecordsMerged)
	require.Len(t, merged, 1)
	assert.Equal(t, string(merge.Inserted), merged[0].Header(messaging.HeaderOutcome))

	var ev merge.Event
	require.NoError(t, json.Unmarshal(merged[0].Data, &ev))
	assert.Equal(t, merge.Inserted, ev.Outcome)
	require.NotNil(t, ev.Record)
	assert.Equal(t, "m1", ev.Record.ID)

	require.NoError(t, consumer.Stop())
	assert.Empty(t, bus.handlers)
}

type failingIngester struct{ err error }

func (f failingIngester) Ingest(context.Context, model.Envelope) (ingest.Summary, error) {
	return ingest.Summary{}, f.err
}

func TestConsumer_ReturnsAbortErrorWithoutDeadLetter(t *testing.T) {
	bus := newLoopback()
	consumer := NewConsumer(bus, failingIngester{err: repository.ErrStoreUnavailable}, nil)
	require.NoError(t, consumer.Start(context.Background()))

	err := bus.Publish(context.Background(), messaging.SubjectWebhooksReceived, []byte(webhook))
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}

func TestConsumer_ParksWebhooksDuringOutage(t *testing.T) {
	ctx := context.Background()
	queue, err := dlq.NewFileQueue(t.TempDir(), nil)
	require.NoError(t, err)

	bus := newLoopback()
	outage := fmt.Errorf("upsert: %w: connection refused", repository.ErrStoreUnavailable)
	consumer := NewConsumer(bus, failingIngester{err: outage}, nil, WithDeadLetter(queue))
	require.NoError(t, consumer.Start(ctx))

	pub := NewPublisher(bus)
	require.NoError(t, pub.PublishWebhook(ctx, model.Envelope{
		ID: "hook-1", Source: model.SourceHTTP, Payload: json.RawMessage(webhook),
	}), "a parked webhook is not a handler failure")

	entries, err := queue.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dlq.ReasonStoreUnavailable, entries[0].Reason)
	assert.Equal(t, "hook-1", entries[0].Envelope.ID)
	assert.Contains(t, entries[0].Error, "connection refused")

	// Once the store is back, replaying the entry applies the webhook.
	repo := repository.NewInMemoryRepository()
	sum, err := ingest.NewDriver(merge.NewEngine(repo)).Ingest(ctx, entries[0].Envelope)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)

	rec, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", rec.DisplayName)
}

type brokenWriter struct{}

func (brokenWriter) Write(context.Context, model.Envelope, error, string) error {
	return errors.New("disk full")
}

func TestConsumer_ReportsParkFailure(t *testing.T) {
	bus := newLoopback()
	consumer := NewConsumer(bus, failingIngester{err: repository.ErrStoreUnavailable}, nil, WithDeadLetter(brokenWriter{}))
	require.NoError(t, consumer.Start(context.Background()))

	err := bus.Publish(context.Background(), messaging.SubjectWebhooksReceived, []byte(webhook))
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
	assert.ErrorContains(t, err, "disk full")
}

type refusingSubscriber struct{ loopback }

func (*refusingSubscriber) QueueSubscribe(string, string, messaging.MessageHandler) (messaging.Subscription, error) {
	return nil, errors.New("not connected")
}

func TestConsumer_StartFails(t *testing.T) {
	consumer := NewConsumer(&refusingSubscriber{}, failingIngester{}, nil)
	assert.ErrorContains(t, consumer.Start(context.Background()), "not connected")
}

func TestEnvelopeFromMessage(t *testing.T) {
	at := time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		msg    *messaging.Message
		wantID string
	}{
		{
			name:   "header id",
			msg:    &messaging.Message{Metadata: map[string]string{messaging.HeaderEnvelopeID: "file-1.json"}, Sequence: 9, Timestamp: at},
			wantID: "file-1.json",
		},
		{
			name:   "sequence",
			msg:    &messaging.Message{Sequence: 9, Timestamp: at},
			wantID: "nats-9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := EnvelopeFromMessage(tt.msg)
			assert.Equal(t, tt.wantID, env.ID)
			assert.Equal(t, model.SourceNATS, env.Source)
			assert.Equal(t, at, env.ReceivedAt)
		})
	}

	env := EnvelopeFromMessage(&messaging.Message{Data: []byte(`{}`)})
	assert.Len(t, env.ID, 36, "falls back to a uuid")
	assert.False(t, env.ReceivedAt.IsZero())
}
