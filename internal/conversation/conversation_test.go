package conversation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/inbox/internal/model"
)

func rec(id, cp, name, body string, at, seq int64) model.MessageRecord {
	return model.MessageRecord{
		ID: id, CounterpartyID: cp, DisplayName: name, Body: body,
		OccurredAtMs: at, Seq: seq, DeliveryState: model.StateSent,
	}
}

func TestSummarizeOrdersByRecency(t *testing.T) {
	records := []model.MessageRecord{
		rec("a", "wa1", "Alice", "old", 50, 1),
		rec("b", "wa1", "Alice", "latest", 100, 2),
		rec("c", "wa2", "Bob", "hey", 200, 3),
	}

	got := Summarize(records)
	require.Len(t, got, 2)
	assert.Equal(t, "wa2", got[0].CounterpartyID)
	assert.Equal(t, "wa1", got[1].CounterpartyID)
	assert.Equal(t, "latest", got[1].LastBody)
	assert.Equal(t, int64(100), got[1].LastOccurredAtMs)
}

func TestSummarizeTieBreaks(t *testing.T) {
	t.Run("equal timestamps pick the later insert", func(t *testing.T) {
		got := Summarize([]model.MessageRecord{
			rec("b", "wa1", "Alice v2", "second", 100, 7),
			rec("a", "wa1", "Alice", "first", 100, 3),
		})
		require.Len(t, got, 1)
		assert.Equal(t, "second", got[0].LastBody)
		assert.Equal(t, "Alice v2", got[0].DisplayName)
	})

	t.Run("equal recency orders by counterparty", func(t *testing.T) {
		got := Summarize([]model.MessageRecord{
			rec("a", "wa9", "Z", "x", 100, 1),
			rec("b", "wa1", "A", "y", 100, 2),
		})
		require.Len(t, got, 2)
		assert.Equal(t, "wa1", got[0].CounterpartyID)
		assert.Equal(t, "wa9", got[1].CounterpartyID)
	})
}

func TestSummarizeIsOrderIndependent(t *testing.T) {
	records := []model.MessageRecord{
		rec("1", "wa1", "A", "a1", 10, 1),
		rec("2", "wa2", "B", "b1", 30, 2),
		rec("3", "wa1", "A", "a2", 30, 3),
		rec("4", "wa3", "C", "c1", 5, 4),
		rec("5", "wa2", "B", "b2", 30, 5),
		rec("6", model.UnknownCounterpartyID, model.UnknownDisplayName, "u", 1, 6),
	}
	want := Summarize(records)

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.MessageRecord(nil), records...)
		rnd.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Summarize(shuffled))
	}
}

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestHistory(t *testing.T) {
	in := []model.MessageRecord{
		rec("c", "wa1", "A", "third", 300, 1),
		rec("a", "wa1", "A", "first", 100, 2),
		rec("b2", "wa1", "A", "tie later", 200, 5),
		rec("b1", "wa1", "A", "tie earlier", 200, 4),
	}
	got := History(in)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, ids)
	assert.Equal(t, "c", in[0].ID, "input is not reordered")
}
