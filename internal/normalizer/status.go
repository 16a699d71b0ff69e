package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/telhawk-systems/inbox/internal/model"
)

type statusInput struct {
	ExternalID string `json:"external_id" validate:"required"`
	State      string `json:"state" validate:"required"`
}

// StatusNormalizer produces StatusUpdates from status changes.
type StatusNormalizer struct {
	validate *validator.Validate
}

// NewStatusNormalizer creates a StatusNormalizer.
func NewStatusNormalizer() *StatusNormalizer {
	return &StatusNormalizer{validate: newValidate()}
}

func (*StatusNormalizer) Supports(kind model.ChangeKind) bool {
	return kind == model.KindStatus
}

// Normalize requires an external id and a known state. A missing timestamp
// produces an update that leaves the stored time alone.
func (n *StatusNormalizer) Normalize(_ context.Context, change model.Change, _ time.Time) (model.Record, error) {
	sc, ok := change.(model.StatusChange)
	if !ok {
		return nil, fmt.Errorf("status normalizer: unexpected change %T", change)
	}

	if err := checkRequired(n.validate, model.KindStatus, statusInput{
		ExternalID: sc.ExternalID,
		State:      sc.State,
	}); err != nil {
		return nil, err
	}

	state, err := model.ParseDeliveryState(sc.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %q for %s", ErrInvalidState, sc.State, sc.ExternalID)
	}

	return model.StatusUpdate{
		ExternalID:   sc.ExternalID,
		State:        state,
		OccurredAtMs: ToMillis(sc.OccurredAt),
	}, nil
}
