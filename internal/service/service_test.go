package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/inbox/internal/merge"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/repository"
)

func newTestService(t *testing.T, opts ...Option) (*InboxService, *repository.InMemoryRepository) {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	return NewInboxService(repo, merge.NewEngine(repo), opts...), repo
}

func seed(t *testing.T, repo repository.Repository, recs ...model.MessageRecord) {
	t.Helper()
	for _, rec := range recs {
		_, err := repo.Upsert(context.Background(), rec, repository.ReplaceAll)
		require.NoError(t, err)
	}
}

func rec(id, counterparty string, at int64) model.MessageRecord {
	return model.MessageRecord{
		ID: id, CounterpartyID: counterparty, DisplayName: "name-" + counterparty,
		SenderID: counterparty, Body: "body-" + id, OccurredAtMs: at, DeliveryState: model.StateSent,
	}
}

func TestListConversations(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		rec("a", "wa1", 50),
		rec("b", "wa1", 100),
		rec("c", "wa2", 200),
	)

	got, err := svc.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "wa2", got[0].CounterpartyID)
	assert.Equal(t, "wa1", got[1].CounterpartyID)
	assert.Equal(t, "body-b", got[1].LastBody)
	assert.Equal(t, int64(100), got[1].LastOccurredAtMs)
}

func TestListConversations_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	got, err := svc.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListMessages(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		rec("late", "wa1", 300),
		rec("other", "wa2", 150),
		rec("early", "wa1", 100),
		rec("tie", "wa1", 100),
	)

	got, err := svc.ListMessages(context.Background(), "wa1")
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"early", "tie", "late"}, ids)

	none, err := svc.ListMessages(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// downRepo fails every read as an unreachable store would.
type downRepo struct {
	repository.Repository
}

func (downRepo) QueryByCounterparty(context.Context, string) ([]model.MessageRecord, error) {
	return nil, fmt.Errorf("query: %w: connection refused", repository.ErrStoreUnavailable)
}

func TestListMessages_StoreUnavailable(t *testing.T) {
	repo := downRepo{Repository: repository.NewInMemoryRepository()}
	svc := NewInboxService(repo, merge.NewEngine(repo))

	_, err := svc.ListMessages(context.Background(), "wa1")
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)

	_, err = svc.SubmitOutgoingMessage(context.Background(), OutgoingMessage{CounterpartyID: "wa1", Body: "hi"})
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}

func TestSubmitOutgoingMessage(t *testing.T) {
	now := time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	stored, err := svc.SubmitOutgoingMessage(ctx, OutgoingMessage{
		CounterpartyID: "919937320320",
		Body:           "Thanks, see you then",
		DisplayName:    "Ravi Kumar",
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^wamid\.[0-9a-f]{32}$`), stored.ID)
	assert.Equal(t, DefaultLocalSenderID, stored.SenderID)
	assert.Equal(t, model.StateSent, stored.DeliveryState)
	assert.Equal(t, now.UnixMilli(), stored.OccurredAtMs)
	assert.NotZero(t, stored.Seq)

	history, err := svc.ListMessages(ctx, "919937320320")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, stored, history[0])

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitOutgoingMessage_Options(t *testing.T) {
	svc, _ := newTestService(t, WithLocalSenderID("15550001111"))

	stored, err := svc.SubmitOutgoingMessage(context.Background(), OutgoingMessage{
		CounterpartyID: " wa1 ",
		Body:           "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "15550001111", stored.SenderID)
	assert.Equal(t, "wa1", stored.CounterpartyID)
	assert.Equal(t, model.UnknownDisplayName, stored.DisplayName)
}

func TestSubmitOutgoingMessage_KeepsConversationName(t *testing.T) {
	svc, repo := newTestService(t, WithClock(func() time.Time { return time.UnixMilli(5_000) }))
	ctx := context.Background()
	seed(t, repo,
		rec("in1", "wa1", 1_000),
		model.MessageRecord{ID: "in2", CounterpartyID: "wa1", DisplayName: model.UnknownDisplayName,
			SenderID: "wa1", Body: "no contact", OccurredAtMs: 2_000, DeliveryState: model.StateSent},
	)

	stored, err := svc.SubmitOutgoingMessage(ctx, OutgoingMessage{CounterpartyID: "wa1", Body: "reply"})
	require.NoError(t, err)
	assert.Equal(t, "name-wa1", stored.DisplayName)

	convs, err := svc.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "name-wa1", convs[0].DisplayName)
	assert.Equal(t, "reply", convs[0].LastBody)

	named, err := svc.SubmitOutgoingMessage(ctx, OutgoingMessage{CounterpartyID: "wa1", Body: "again", DisplayName: "Ravi"})
	require.NoError(t, err)
	assert.Equal(t, "Ravi", named.DisplayName, "an explicit name wins")
}

func TestSubmitOutgoingMessage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		msg     OutgoingMessage
		wantErr string
	}{
		{name: "missing counterparty", msg: OutgoingMessage{Body: "hi"}, wantErr: "counterparty_id is required"},
		{name: "blank counterparty", msg: OutgoingMessage{CounterpartyID: "  ", Body: "hi"}, wantErr: "counterparty_id is required"},
		{name: "missing body", msg: OutgoingMessage{CounterpartyID: "wa1"}, wantErr: "body is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService(t)

			_, err := svc.SubmitOutgoingMessage(context.Background(), tt.msg)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)

			n, _ := repo.Count(context.Background())
			assert.Zero(t, n)
		})
	}
}

func TestSubmitOutgoingMessage_DuplicateID(t *testing.T) {
	svc, _ := newTestService(t)
	svc.newID = func() (string, error) { return "wamid.fixed", nil }
	ctx := context.Background()

	_, err := svc.SubmitOutgoingMessage(ctx, OutgoingMessage{CounterpartyID: "wa1", Body: "one"})
	require.NoError(t, err)

	_, err = svc.SubmitOutgoingMessage(ctx, OutgoingMessage{CounterpartyID: "wa1", Body: "two"})
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
}

func TestSubmitOutgoingMessage_IDFailure(t *testing.T) {
	svc, _ := newTestService(t)
	svc.newID = func() (string, error) { return "", fmt.Errorf("entropy exhausted") }

	_, err := svc.SubmitOutgoingMessage(context.Background(), OutgoingMessage{CounterpartyID: "wa1", Body: "one"})
	assert.ErrorContains(t, err, "generate message id")
}

// Incoming message m1 then its delivered status, read back through the service.
func TestMessageThenStatusReadBack(t *testing.T) {
	svc, repo := newTestService(t)
	engine := merge.NewEngine(repo)
	ctx := context.Background()

	_, err := engine.Apply(ctx, model.MessageRecord{
		ID: "m1", CounterpartyID: "wa1", DisplayName: "Alice", SenderID: "919",
		Body: "hi", OccurredAtMs: 1700000000000, DeliveryState: model.StateSent,
	})
	require.NoError(t, err)
	_, err = engine.Apply(ctx, model.StatusUpdate{ExternalID: "m1", State: model.StateDelivered, OccurredAtMs: 1700000005000})
	require.NoError(t, err)

	got, err := svc.ListMessages(ctx, "wa1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.StateDelivered, got[0].DeliveryState)
}
