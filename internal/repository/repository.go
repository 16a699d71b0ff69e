// Package repository persists message records. Every mutation is a single
// atomic store operation.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/telhawk-systems/inbox/internal/model"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")

	// ErrStoreUnavailable wraps failures to reach the backing store, as
	// opposed to errors the store returned for a well-formed request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// UpsertMode controls what a redelivered message does to an existing record.
type UpsertMode int

const (
	// ReplaceAll overwrites every field, resetting delivery state to the
	// candidate's value.
	ReplaceAll UpsertMode = iota

	// KeepDeliveryState overwrites content fields but keeps the delivery
	// state already stored.
	KeepDeliveryState
)

func (m UpsertMode) String() string {
	switch m {
	case ReplaceAll:
		return "replace"
	case KeepDeliveryState:
		return "preserve"
	default:
		return fmt.Sprintf("UpsertMode(%d)", int(m))
	}
}

// Patch is the partial update applied by a status event. A zero
// OccurredAtMs leaves the stored time unchanged.
type Patch struct {
	State        model.DeliveryState
	OccurredAtMs int64
}

// Repository is the keyed record store.
type Repository interface {
	// Upsert inserts rec or replaces the record with the same ID according
	// to mode. created reports whether a new record was inserted. Seq is
	// assigned on insert and kept on replace.
	Upsert(ctx context.Context, rec model.MessageRecord, mode UpsertMode) (created bool, err error)

	// UpdateFields applies patch to the record with id. It never creates a
	// record; matched is false when id is absent.
	UpdateFields(ctx context.Context, id string, patch Patch) (matched bool, err error)

	// Insert creates rec and returns it with Seq set. It fails with
	// ErrAlreadyExists when the id is taken.
	Insert(ctx context.Context, rec model.MessageRecord) (model.MessageRecord, error)

	// QueryAll returns every record in insertion order.
	QueryAll(ctx context.Context) ([]model.MessageRecord, error)

	// QueryByCounterparty returns the records of one counterparty in
	// insertion order.
	QueryByCounterparty(ctx context.Context, counterpartyID string) ([]model.MessageRecord, error)

	Get(ctx context.Context, id string) (model.MessageRecord, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
