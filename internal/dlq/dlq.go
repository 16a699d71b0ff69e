// Package dlq records envelopes that failed ingestion so they can be
// inspected and replayed.
package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/telhawk-systems/inbox/internal/model"
)

// Reasons attached to dead-lettered envelopes.
const (
	ReasonMalformedPayload = "malformed_payload"
	ReasonMissingField     = "missing_field"
	ReasonInvalidState     = "invalid_state"
	ReasonProcessing       = "processing_error"

	// Retryable: the envelope itself is fine and can be replayed as is.
	ReasonStoreUnavailable = "store_unavailable"
	ReasonCancelled        = "cancelled"
)

// ErrNotFound is returned when deleting an entry that does not exist.
var ErrNotFound = errors.New("dlq entry not found")

// FailedEnvelope is one dead-lettered envelope.
type FailedEnvelope struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Envelope    model.Envelope `json:"envelope"`
	Error       string         `json:"error"`
	Reason      string         `json:"reason"`
	Attempts    int            `json:"attempts"`
	LastAttempt time.Time      `json:"last_attempt"`
}

// Writer accepts failed envelopes.
type Writer interface {
	Write(ctx context.Context, env model.Envelope, cause error, reason string) error
}

// Queue is a Writer that can also be inspected.
type Queue interface {
	Writer
	List(ctx context.Context, limit int) ([]FailedEnvelope, error)
	Purge(ctx context.Context) error
	Stats(ctx context.Context) map[string]any
}

func newFailed(env model.Envelope, cause error, reason string) FailedEnvelope {
	now := time.Now().UTC()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return FailedEnvelope{
		Timestamp:   now,
		Envelope:    env,
		Error:       msg,
		Reason:      reason,
		Attempts:    1,
		LastAttempt: now,
	}
}
