package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/inbox/internal/model"
)

// runContract exercises the behavior every backend must share. newRepo must
// return an empty repository.
func runContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("upsert inserts then replaces", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Upsert(ctx, record("m1", "wa1", 1000), ReplaceAll)
		require.NoError(t, err)
		assert.True(t, created)

		first, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Positive(t, first.Seq)

		updated := record("m1", "wa1", 2000)
		updated.Body = "edited"
		created, err = repo.Upsert(ctx, updated, ReplaceAll)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "edited", got.Body)
		assert.Equal(t, int64(2000), got.OccurredAtMs)
		assert.Equal(t, first.Seq, got.Seq, "seq is stable across replaces")

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("replace resets delivery state, preserve keeps it", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Upsert(ctx, record("m1", "wa1", 1000), ReplaceAll)
		require.NoError(t, err)
		matched, err := repo.UpdateFields(ctx, "m1", Patch{State: model.StateRead})
		require.NoError(t, err)
		require.True(t, matched)

		_, err = repo.Upsert(ctx, record("m1", "wa1", 1000), KeepDeliveryState)
		require.NoError(t, err)
		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, model.StateRead, got.DeliveryState)

		_, err = repo.Upsert(ctx, record("m1", "wa1", 1000), ReplaceAll)
		require.NoError(t, err)
		got, err = repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, model.StateSent, got.DeliveryState)
	})

	t.Run("update fields is update-only", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		matched, err := repo.UpdateFields(ctx, "ghost", Patch{State: model.StateDelivered, OccurredAtMs: 5})
		require.NoError(t, err)
		assert.False(t, matched)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		_, err = repo.Get(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update fields patches state and optional time", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		_, err := repo.Upsert(ctx, record("m1", "wa1", 1000), ReplaceAll)
		require.NoError(t, err)

		matched, err := repo.UpdateFields(ctx, "m1", Patch{State: model.StateDelivered})
		require.NoError(t, err)
		require.True(t, matched)
		got, err := repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, model.StateDelivered, got.DeliveryState)
		assert.Equal(t, int64(1000), got.OccurredAtMs)

		_, err = repo.UpdateFields(ctx, "m1", Patch{State: model.StateRead, OccurredAtMs: 1500})
		require.NoError(t, err)
		got, err = repo.Get(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, model.StateRead, got.DeliveryState)
		assert.Equal(t, int64(1500), got.OccurredAtMs)
		assert.Equal(t, "hello m1", got.Body, "other fields untouched")
	})

	t.Run("insert rejects duplicates", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		stored, err := repo.Insert(ctx, record("out1", "wa1", 1000))
		require.NoError(t, err)
		assert.Positive(t, stored.Seq)

		_, err = repo.Insert(ctx, record("out1", "wa2", 2000))
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := repo.Get(ctx, "out1")
		require.NoError(t, err)
		assert.Equal(t, "wa1", got.CounterpartyID, "failed insert leaves record intact")
	})

	t.Run("queries return insertion order", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		for i, cp := range []string{"wa1", "wa2", "wa1", "wa3", "wa1"} {
			_, err := repo.Upsert(ctx, record(fmt.Sprintf("m%d", i), cp, int64(100-i)), ReplaceAll)
			require.NoError(t, err)
		}

		all, err := repo.QueryAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i := 1; i < len(all); i++ {
			assert.Less(t, all[i-1].Seq, all[i].Seq)
		}

		wa1, err := repo.QueryByCounterparty(ctx, "wa1")
		require.NoError(t, err)
		require.Len(t, wa1, 3)
		assert.Equal(t, []string{"m0", "m2", "m4"}, ids(wa1))

		none, err := repo.QueryByCounterparty(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("moving a record between counterparties updates the index", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Upsert(ctx, record("m1", model.UnknownCounterpartyID, 1000), ReplaceAll)
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, record("m1", "wa1", 1000), ReplaceAll)
		require.NoError(t, err)

		unknown, err := repo.QueryByCounterparty(ctx, model.UnknownCounterpartyID)
		require.NoError(t, err)
		assert.Empty(t, unknown)
		wa1, err := repo.QueryByCounterparty(ctx, "wa1")
		require.NoError(t, err)
		assert.Len(t, wa1, 1)
	})

	t.Run("concurrent upserts of one id leave one record", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = repo.Upsert(ctx, record("m1", "wa1", 1000), ReplaceAll)
			}()
		}
		wg.Wait()

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newRepo(t).Ping(context.Background()))
	})
}

func record(id, counterparty string, occurredAtMs int64) model.MessageRecord {
	return model.MessageRecord{
		ID:             id,
		CounterpartyID: counterparty,
		DisplayName:    "Name " + counterparty,
		SenderID:       counterparty,
		Body:           "hello " + id,
		OccurredAtMs:   occurredAtMs,
		DeliveryState:  model.StateSent,
	}
}

func ids(recs []model.MessageRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
