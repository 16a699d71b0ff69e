package seeder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/inbox/internal/ingest"
	"github.com/telhawk-systems/inbox/internal/merge"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/parser"
	"github.com/telhawk-systems/inbox/internal/payloads"
	"github.com/telhawk-systems/inbox/internal/repository"
)

var start = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

func TestGenerate_Reproducible(t *testing.T) {
	opts := Options{Conversations: 4, MessagesPerConversation: 3, Seed: 42, Start: start}

	first, err := NewGenerator(opts).Generate()
	require.NoError(t, err)
	second, err := NewGenerator(opts).Generate()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGenerate_ParsesCleanly(t *testing.T) {
	out, err := NewGenerator(Options{Conversations: 3, MessagesPerConversation: 4, Seed: 7, Start: start}).Generate()
	require.NoError(t, err)

	messages := 0
	for i, p := range out {
		if i > 0 {
			assert.Less(t, out[i-1].Name, p.Name, "names sort in generation order")
		}
		changes, err := parser.Parse(model.Envelope{ID: p.Name, Payload: p.Data})
		require.NoError(t, err, p.Name)
		require.Len(t, changes, 1)

		switch p.Kind {
		case "message":
			messages++
			mc, ok := changes[0].(model.MessageChange)
			require.True(t, ok)
			require.NotNil(t, mc.Contact)
			assert.Equal(t, mc.SenderID, mc.Contact.CounterpartyID)
			assert.NotEmpty(t, mc.Body)
		case "status":
			_, ok := changes[0].(model.StatusChange)
			assert.True(t, ok)
		default:
			t.Fatalf("unexpected kind %q", p.Kind)
		}
	}
	assert.Equal(t, 12, messages)
}

func TestWriteDir_IngestsEndToEnd(t *testing.T) {
	dir := t.TempDir() + "/payloads"
	out, err := NewGenerator(Options{Conversations: 2, MessagesPerConversation: 5, Seed: 99, Start: start}).Generate()
	require.NoError(t, err)
	require.NoError(t, WriteDir(dir, out))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, len(out))

	envs, err := payloads.LoadDir(dir)
	require.NoError(t, err)

	repo := repository.NewInMemoryRepository()
	driver := ingest.NewDriver(merge.NewEngine(repo))
	sum, err := driver.IngestBatch(context.Background(), envs)
	require.NoError(t, err)

	assert.Equal(t, len(out), sum.Processed)
	assert.Zero(t, sum.Failed)
	assert.Zero(t, sum.Skipped)
	assert.Zero(t, sum.Orphaned, "statuses always follow their message")

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestNewGenerator_Defaults(t *testing.T) {
	g := NewGenerator(Options{})
	assert.Equal(t, 3, g.opts.Conversations)
	assert.Equal(t, 2, g.opts.MessagesPerConversation)
	assert.False(t, g.opts.Start.IsZero())
}
