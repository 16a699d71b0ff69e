// Package service implements the inbox read and write operations on top of
// the repository and merge engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/telhawk-systems/inbox/internal/conversation"
	"github.com/telhawk-systems/inbox/internal/merge"
	"github.com/telhawk-systems/inbox/internal/metrics"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/repository"
)

// DefaultLocalSenderID is the business number outgoing messages are sent from.
const DefaultLocalSenderID = "918329446654"

// OutgoingIDPrefix prefixes generated outgoing message ids.
const OutgoingIDPrefix = "wamid."

// ErrInvalidInput is returned when an outgoing message fails validation.
var ErrInvalidInput = errors.New("invalid input")

// OutgoingMessage is a locally composed message.
type OutgoingMessage struct {
	CounterpartyID string `json:"counterparty_id" validate:"required"`
	Body           string `json:"body" validate:"required"`
	DisplayName    string `json:"display_name"`
}

// InboxService serves conversations and accepts outgoing messages.
type InboxService struct {
	repo          repository.Repository
	engine        *merge.Engine
	validate      *validator.Validate
	localSenderID string
	now           func() time.Time
	newID         func() (string, error)
}

// Option configures an InboxService.
type Option func(*InboxService)

// WithLocalSenderID overrides the sender id stamped on outgoing messages.
func WithLocalSenderID(id string) Option {
	return func(s *InboxService) {
		if id != "" {
			s.localSenderID = id
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *InboxService) { s.now = now }
}

func NewInboxService(repo repository.Repository, engine *merge.Engine, opts ...Option) *InboxService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})

	s := &InboxService{
		repo:          repo,
		engine:        engine,
		validate:      v,
		localSenderID: DefaultLocalSenderID,
		now:           time.Now,
		newID:         newOutgoingID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListConversations returns one summary per counterparty, most recent first.
func (s *InboxService) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	records, err := s.repo.QueryAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversation.Summarize(records), nil
}

// ListMessages returns the history of one counterparty, oldest first. An
// unknown counterparty yields an empty list.
func (s *InboxService) ListMessages(ctx context.Context, counterpartyID string) ([]model.MessageRecord, error) {
	records, err := s.repo.QueryByCounterparty(ctx, counterpartyID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", counterpartyID, err)
	}
	return conversation.History(records), nil
}

// SubmitOutgoingMessage stores a new message from the local sender in the
// sent state. Delivery to the messaging network is not attempted.
func (s *InboxService) SubmitOutgoingMessage(ctx context.Context, msg OutgoingMessage) (model.MessageRecord, error) {
	msg.CounterpartyID = strings.TrimSpace(msg.CounterpartyID)
	if err := s.validate.Struct(msg); err != nil {
		metrics.OutgoingMessages.WithLabelValues("invalid").Inc()
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.MessageRecord{}, fmt.Errorf("%w: %s is required", ErrInvalidInput, verrs[0].Field())
		}
		return model.MessageRecord{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	id, err := s.newID()
	if err != nil {
		metrics.OutgoingMessages.WithLabelValues("error").Inc()
		return model.MessageRecord{}, fmt.Errorf("generate message id: %w", err)
	}

	name := msg.DisplayName
	if name == "" {
		name, err = s.knownDisplayName(ctx, msg.CounterpartyID)
		if err != nil {
			metrics.OutgoingMessages.WithLabelValues("error").Inc()
			return model.MessageRecord{}, fmt.Errorf("submit outgoing message: %w", err)
		}
	}

	rec, err := s.engine.Insert(ctx, model.MessageRecord{
		ID:             id,
		CounterpartyID: msg.CounterpartyID,
		DisplayName:    name,
		SenderID:       s.localSenderID,
		Body:           msg.Body,
		OccurredAtMs:   s.now().UnixMilli(),
		DeliveryState:  model.StateSent,
	})
	if err != nil {
		metrics.OutgoingMessages.WithLabelValues("error").Inc()
		return model.MessageRecord{}, fmt.Errorf("submit outgoing message: %w", err)
	}

	metrics.OutgoingMessages.WithLabelValues("stored").Inc()
	return rec, nil
}

// knownDisplayName returns the newest real name stored for counterpartyID so
// an unnamed outgoing message does not rename the conversation.
func (s *InboxService) knownDisplayName(ctx context.Context, counterpartyID string) (string, error) {
	records, err := s.repo.QueryByCounterparty(ctx, counterpartyID)
	if err != nil {
		return "", fmt.Errorf("look up display name: %w", err)
	}
	history := conversation.History(records)
	for i := len(history) - 1; i >= 0; i-- {
		if name := history[i].DisplayName; name != "" && name != model.UnknownDisplayName {
			return name, nil
		}
	}
	return model.UnknownDisplayName, nil
}

// Ping reports whether the repository is reachable.
func (s *InboxService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func newOutgoingID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return OutgoingIDPrefix + strings.ReplaceAll(id.String(), "-", ""), nil
}
