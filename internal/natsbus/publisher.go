package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/inbox/common/messaging"
	"github.com/telhawk-systems/inbox/internal/merge"
	"github.com/telhawk-systems/inbox/internal/model"
)

// Publisher puts inbox events on the bus.
type Publisher struct {
	pub messaging.Publisher
}

func NewPublisher(pub messaging.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// Announce publishes a merge event on inbox.records.merged. It satisfies
// merge.Announcer.
func (p *Publisher) Announce(ctx context.Context, ev merge.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal merge event: %w", err)
	}
	return p.pub.PublishMsg(ctx, &messaging.Message{
		Subject: messaging.SubjectRecordsMerged,
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderOutcome: string(ev.Outcome),
		},
	})
}

// PublishWebhook hands a raw payload to whichever instance is consuming the
// ingest queue.
func (p *Publisher) PublishWebhook(ctx context.Context, env model.Envelope) error {
	return p.pub.PublishMsg(ctx, &messaging.Message{
		Subject: messaging.SubjectWebhooksReceived,
		Data:    env.Payload,
		Metadata: map[string]string{
			messaging.HeaderEnvelopeID: env.ID,
			messaging.HeaderSource:     env.Source,
		},
	})
}

var _ merge.Announcer = (*Publisher)(nil)
