// Package normalizer converts classified changes into canonical records.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/inbox/internal/model"
)

var (
	// ErrMissingField is matched by every *MissingFieldError.
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidState is returned for status strings outside the known
	// delivery states.
	ErrInvalidState = errors.New("invalid delivery state")

	// ErrNoNormalizer means no registered normalizer handles the change kind.
	ErrNoNormalizer = errors.New("no normalizer for change")
)

// MissingFieldError names the first required field found absent.
type MissingFieldError struct {
	Kind  model.ChangeKind
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", e.Kind, e.Field)
}

// Is makes errors.Is(err, ErrMissingField) hold.
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// Normalizer converts one kind of change into a record.
type Normalizer interface {
	Supports(kind model.ChangeKind) bool
	Normalize(ctx context.Context, change model.Change, receivedAt time.Time) (model.Record, error)
}

// Registry holds ordered normalizers and finds a match for a change.
type Registry struct {
	items []Normalizer
}

// NewRegistry constructs a registry with provided normalizers.
func NewRegistry(items ...Normalizer) *Registry {
	return &Registry{items: items}
}

// Default returns a registry handling status and message changes.
func Default() *Registry {
	v := newValidate()
	return NewRegistry(
		&StatusNormalizer{validate: v},
		&MessageNormalizer{validate: v},
	)
}

// Find returns the first normalizer that supports kind.
func (r *Registry) Find(kind model.ChangeKind) Normalizer {
	if r == nil {
		return nil
	}
	for _, n := range r.items {
		if n.Supports(kind) {
			return n
		}
	}
	return nil
}

// Normalize dispatches change to the matching normalizer.
func (r *Registry) Normalize(ctx context.Context, change model.Change, receivedAt time.Time) (model.Record, error) {
	if change == nil {
		return nil, fmt.Errorf("%w: nil change", ErrNoNormalizer)
	}
	n := r.Find(change.Kind())
	if n == nil {
		return nil, fmt.Errorf("%w: kind=%s", ErrNoNormalizer, change.Kind())
	}
	return n.Normalize(ctx, change, receivedAt)
}

// ToMillis converts a source timestamp to milliseconds. Values below 1e12
// are read as unix seconds, larger values as milliseconds. Non-positive
// values are unknown and yield 0.
func ToMillis(v int64) int64 {
	switch {
	case v <= 0:
		return 0
	case v < 1e12:
		return v * 1000
	default:
		return v
	}
}
