package model

// ChangeKind names the variant of a Change.
type ChangeKind string

const (
	KindStatus  ChangeKind = "status"
	KindMessage ChangeKind = "message"
)

// Change is one classified event extracted from an envelope. It is
// implemented only by StatusChange and MessageChange.
type Change interface {
	Kind() ChangeKind
	isChange()
}

// StatusChange reports a delivery-state transition for a previously seen
// message. State is kept raw until normalization.
type StatusChange struct {
	ExternalID  string
	State       string
	OccurredAt  int64
	RecipientID string
}

func (StatusChange) Kind() ChangeKind { return KindStatus }
func (StatusChange) isChange()        {}

// MessageChange is an inbound message with an optional contact descriptor.
type MessageChange struct {
	ExternalID string
	SenderID   string
	Body       string
	Type       string
	OccurredAt int64
	Contact    *Contact
}

func (MessageChange) Kind() ChangeKind { return KindMessage }
func (MessageChange) isChange()        {}

// Contact identifies the counterparty of a conversation.
type Contact struct {
	CounterpartyID string
	DisplayName    string
}
