package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/telhawk-systems/inbox/internal/model"
)

type messageInput struct {
	ExternalID string `json:"external_id" validate:"required"`
	SenderID   string `json:"sender_id" validate:"required"`
	Body       string `json:"body" validate:"required"`
}

// MessageNormalizer produces MessageRecord candidates from message changes.
type MessageNormalizer struct {
	validate *validator.Validate
}

// NewMessageNormalizer creates a MessageNormalizer.
func NewMessageNormalizer() *MessageNormalizer {
	return &MessageNormalizer{validate: newValidate()}
}

func (*MessageNormalizer) Supports(kind model.ChangeKind) bool {
	return kind == model.KindMessage
}

// Normalize builds a record in the sent state. Without a contact the record
// is filed under the unknown counterparty. A missing timestamp falls back to
// receivedAt.
func (n *MessageNormalizer) Normalize(_ context.Context, change model.Change, receivedAt time.Time) (model.Record, error) {
	mc, ok := change.(model.MessageChange)
	if !ok {
		return nil, fmt.Errorf("message normalizer: unexpected change %T", change)
	}

	if err := checkRequired(n.validate, model.KindMessage, messageInput{
		ExternalID: mc.ExternalID,
		SenderID:   mc.SenderID,
		Body:       mc.Body,
	}); err != nil {
		return nil, err
	}

	counterparty, name := model.UnknownCounterpartyID, model.UnknownDisplayName
	if mc.Contact != nil {
		if mc.Contact.CounterpartyID != "" {
			counterparty = mc.Contact.CounterpartyID
		}
		if mc.Contact.DisplayName != "" {
			name = mc.Contact.DisplayName
		}
	}

	occurred := ToMillis(mc.OccurredAt)
	if occurred == 0 && !receivedAt.IsZero() {
		occurred = receivedAt.UnixMilli()
	}

	return model.MessageRecord{
		ID:             mc.ExternalID,
		CounterpartyID: counterparty,
		DisplayName:    name,
		SenderID:       mc.SenderID,
		Body:           mc.Body,
		OccurredAtMs:   occurred,
		DeliveryState:  model.StateSent,
	}, nil
}
