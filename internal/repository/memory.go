package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/telhawk-systems/inbox/internal/model"
)

// InMemoryRepository keeps records in a map guarded by one mutex.
type InMemoryRepository struct {
	records map[string]model.MessageRecord
	seq     int64
	mu      sync.RWMutex
}

// abandoned wraps the context error of a caller that gave up. Memory never
// goes away, so this is not ErrStoreUnavailable.
func abandoned(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]model.MessageRecord),
	}
}

func (r *InMemoryRepository) Upsert(ctx context.Context, rec model.MessageRecord, mode UpsertMode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, abandoned("upsert", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.ID]
	if !ok {
		r.seq++
		rec.Seq = r.seq
		r.records[rec.ID] = rec
		return true, nil
	}

	rec.Seq = existing.Seq
	if mode == KeepDeliveryState {
		rec.DeliveryState = existing.DeliveryState
	}
	r.records[rec.ID] = rec
	return false, nil
}

func (r *InMemoryRepository) UpdateFields(ctx context.Context, id string, patch Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, abandoned("update fields", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false, nil
	}
	rec.DeliveryState = patch.State
	if patch.OccurredAtMs > 0 {
		rec.OccurredAtMs = patch.OccurredAtMs
	}
	r.records[id] = rec
	return true, nil
}

func (r *InMemoryRepository) Insert(ctx context.Context, rec model.MessageRecord) (model.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.MessageRecord{}, abandoned("insert", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return model.MessageRecord{}, ErrAlreadyExists
	}
	r.seq++
	rec.Seq = r.seq
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *InMemoryRepository) QueryAll(ctx context.Context) ([]model.MessageRecord, error) {
	return r.query(ctx, func(model.MessageRecord) bool { return true })
}

func (r *InMemoryRepository) QueryByCounterparty(ctx context.Context, counterpartyID string) ([]model.MessageRecord, error) {
	return r.query(ctx, func(rec model.MessageRecord) bool { return rec.CounterpartyID == counterpartyID })
}

func (r *InMemoryRepository) query(ctx context.Context, keep func(model.MessageRecord) bool) ([]model.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, abandoned("query", err)
	}

	r.mu.RLock()
	out := make([]model.MessageRecord, 0, len(r.records))
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id string) (model.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.MessageRecord{}, abandoned("get", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return model.MessageRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *InMemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

func (r *InMemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *InMemoryRepository) Close() error {
	return nil
}
