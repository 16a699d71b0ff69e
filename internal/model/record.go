package model

import (
	"fmt"
	"strings"
)

// DeliveryState is the delivery lifecycle of a message record.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
	StateFailed    DeliveryState = "failed"
)

// Fallbacks applied when a message arrives without a contact descriptor.
const (
	UnknownCounterpartyID = "unknown"
	UnknownDisplayName    = "Unknown User"
)

// ParseDeliveryState maps a raw status string onto a DeliveryState.
func ParseDeliveryState(s string) (DeliveryState, error) {
	switch st := DeliveryState(strings.ToLower(strings.TrimSpace(s))); st {
	case StateSent, StateDelivered, StateRead, StateFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown delivery state %q", s)
	}
}

// Valid reports whether s is one of the known states.
func (s DeliveryState) Valid() bool {
	_, err := ParseDeliveryState(string(s))
	return err == nil
}

// Record is the output of normalization: either a MessageRecord candidate
// or a StatusUpdate.
type Record interface {
	RecordID() string
	isRecord()
}

// MessageRecord is the persisted canonical message. ID is the merge key.
// Seq is assigned by the repository on first insert and never changes.
type MessageRecord struct {
	ID             string        `json:"id" yaml:"id"`
	CounterpartyID string        `json:"counterparty_id" yaml:"counterparty_id"`
	DisplayName    string        `json:"display_name" yaml:"display_name"`
	SenderID       string        `json:"sender_id" yaml:"sender_id"`
	Body           string        `json:"body" yaml:"body"`
	OccurredAtMs   int64         `json:"occurred_at_ms" yaml:"occurred_at_ms"`
	DeliveryState  DeliveryState `json:"delivery_state" yaml:"delivery_state"`
	Seq            int64         `json:"seq" yaml:"seq"`
}

func (r MessageRecord) RecordID() string { return r.ID }
func (MessageRecord) isRecord()          {}

// StatusUpdate is a partial update to an existing record. A zero
// OccurredAtMs leaves the stored time untouched.
type StatusUpdate struct {
	ExternalID   string        `json:"external_id"`
	State        DeliveryState `json:"state"`
	OccurredAtMs int64         `json:"occurred_at_ms,omitempty"`
}

func (u StatusUpdate) RecordID() string { return u.ExternalID }
func (StatusUpdate) isRecord()          {}

// ConversationSummary is derived on read, one per counterparty.
type ConversationSummary struct {
	CounterpartyID   string `json:"counterparty_id" yaml:"counterparty_id"`
	DisplayName      string `json:"display_name" yaml:"display_name"`
	LastBody         string `json:"last_body" yaml:"last_body"`
	LastOccurredAtMs int64  `json:"last_occurred_at_ms" yaml:"last_occurred_at_ms"`
}
