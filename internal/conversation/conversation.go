// Package conversation derives conversation summaries from message records.
package conversation

import (
	"sort"

	"github.com/telhawk-systems/inbox/internal/model"
)

// Summarize returns one summary per counterparty, newest first. Within a
// counterparty the latest record wins, with the later-inserted record
// winning ties. Counterparties with equal recency are ordered by id. The
// result does not depend on the order of records.
func Summarize(records []model.MessageRecord) []model.ConversationSummary {
	latest := make(map[string]model.MessageRecord, len(records))
	for _, rec := range records {
		cur, ok := latest[rec.CounterpartyID]
		if !ok || newer(rec, cur) {
			latest[rec.CounterpartyID] = rec
		}
	}

	out := make([]model.ConversationSummary, 0, len(latest))
	for cp, rec := range latest {
		out = append(out, model.ConversationSummary{
			CounterpartyID:   cp,
			DisplayName:      rec.DisplayName,
			LastBody:         rec.Body,
			LastOccurredAtMs: rec.OccurredAtMs,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastOccurredAtMs != out[j].LastOccurredAtMs {
			return out[i].LastOccurredAtMs > out[j].LastOccurredAtMs
		}
		return out[i].CounterpartyID < out[j].CounterpartyID
	})
	return out
}

// History orders one counterparty's records oldest first, breaking ties by
// insertion order.
func History(records []model.MessageRecord) []model.MessageRecord {
	out := make([]model.MessageRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAtMs != out[j].OccurredAtMs {
			return out[i].OccurredAtMs < out[j].OccurredAtMs
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func newer(a, b model.MessageRecord) bool {
	if a.OccurredAtMs != b.OccurredAtMs {
		return a.OccurredAtMs > b.OccurredAtMs
	}
	return a.Seq > b.Seq
}
