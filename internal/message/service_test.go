package message

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/observability"
	"github.com/healthmetrix/recontact-service/internal/repository/repotest"
)

var fixedNow = time.Date(2024, 5, 10, 14, 12, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *repotest.Store, *observability.Metrics) {
	t.Helper()

	store := repotest.NewStore()
	metrics := observability.NewMetricsWithRegistry("test", prometheus.NewRegistry())
	svc := NewService(store, store.Messages(), metrics, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc, store, metrics
}

func seedMessage(t *testing.T, store *repotest.Store, requestID, citizenID string, state domain.MessageState) *domain.Message {
	t.Helper()

	msg := domain.NewMessage(requestID, citizenID, domain.Content{Title: "Study invitation", Text: "Hello"},
		fixedNow.Add(-time.Hour))
	if state != domain.MessageStateCreated {
		msg = msg.WithState(state, fixedNow.Add(-time.Minute))
	}
	require.NoError(t, store.Messages().Upsert(context.Background(), msg))
	return msg
}

func TestService_ChangeState(t *testing.T) {
	ctx := context.Background()

	t.Run("moves forward and stamps updated at", func(t *testing.T) {
		svc, store, metrics := newTestService(t)
		msg := seedMessage(t, store, "PROJ-1", "citizen-a", domain.MessageStateCreated)

		updated, changed, err := svc.ChangeState(ctx, msg.ID, "citizen-a", domain.MessageStateRead)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.MessageStateRead, updated.State)
		require.NotNil(t, updated.UpdatedAt)
		assert.Equal(t, fixedNow, *updated.UpdatedAt)

		stored, err := store.Messages().FindByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStateRead, stored.State)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessageStateChanges.WithLabelValues("READ")))
	})

	noOps := []struct {
		name    string
		current domain.MessageState
		target  domain.MessageState
	}{
		{"same state", domain.MessageStateDelivered, domain.MessageStateDelivered},
		{"backward", domain.MessageStateRead, domain.MessageStateDelivered},
		{"back to created", domain.MessageStateDelivered, domain.MessageStateCreated},
		{"read is terminal", domain.MessageStateRead, domain.MessageStateRead},
	}
	for _, tt := range noOps {
		t.Run("no-op "+tt.name, func(t *testing.T) {
			svc, store, _ := newTestService(t)
			msg := seedMessage(t, store, "PROJ-1", "citizen-a", tt.current)

			result, changed, err := svc.ChangeState(ctx, msg.ID, "citizen-a", tt.target)
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, tt.current, result.State)
			assert.Equal(t, msg.UpdatedAt, result.UpdatedAt)
		})
	}

	t.Run("wrong citizen is not allowed", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		msg := seedMessage(t, store, "PROJ-1", "citizen-a", domain.MessageStateCreated)

		_, _, err := svc.ChangeState(ctx, msg.ID, "citizen-b", domain.MessageStateRead)
		assert.ErrorIs(t, err, domain.ErrNotAllowed)

		stored, err := store.Messages().FindByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStateCreated, stored.State)
		assert.Nil(t, stored.UpdatedAt)
	})

	t.Run("missing message", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, _, err := svc.ChangeState(ctx, uuid.New(), "citizen-a", domain.MessageStateRead)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("write failure rolls back", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		msg := seedMessage(t, store, "PROJ-1", "citizen-a", domain.MessageStateCreated)
		store.FailOn = func(op string) error {
			if op == "messages.Upsert" {
				return errors.New("connection reset")
			}
			return nil
		}

		_, changed, err := svc.ChangeState(ctx, msg.ID, "citizen-a", domain.MessageStateRead)
		require.Error(t, err)
		assert.False(t, changed)
	})
}

func TestService_ListByCitizenAndState(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	seedMessage(t, store, "PROJ-1", "citizen-a", domain.MessageStateCreated)
	seedMessage(t, store, "PROJ-2", "citizen-a", domain.MessageStateRead)
	seedMessage(t, store, "PROJ-1", "citizen-b", domain.MessageStateRead)

	all, err := svc.ListByCitizenAndState(ctx, "citizen-a", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	read := domain.MessageStateRead
	onlyRead, err := svc.ListByCitizenAndState(ctx, "citizen-a", &read)
	require.NoError(t, err)
	require.Len(t, onlyRead, 1)
	assert.Equal(t, "PROJ-2", onlyRead[0].LinkedRequest)

	none, err := svc.ListByCitizenAndState(ctx, "citizen-z", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_DeliverAll(t *testing.T) {
	ctx := context.Background()

	t.Run("marks created messages delivered", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		created := seedMessage(t, store, "PROJ-1", "citizen-a", domain.MessageStateCreated)
		read := seedMessage(t, store, "PROJ-2", "citizen-a", domain.MessageStateRead)

		results, err := svc.DeliverAll(ctx, "citizen-a", nil)
		require.NoError(t, err)
		require.Len(t, results, 2)

		byID := map[uuid.UUID]ChangeResult{}
		for _, r := range results {
			byID[r.Message.ID] = r
		}
		assert.True(t, byID[created.ID].Changed)
		assert.Equal(t, domain.MessageStateDelivered, byID[created.ID].Message.State)
		assert.False(t, byID[read.ID].Changed)
		assert.Equal(t, domain.MessageStateRead, byID[read.ID].Message.State)
	})

	t.Run("listing read messages changes nothing", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		seedMessage(t, store, "PROJ-1", "citizen-a", domain.MessageStateCreated)
		seedMessage(t, store, "PROJ-2", "citizen-a", domain.MessageStateRead)

		state := domain.MessageStateRead
		results, err := svc.DeliverAll(ctx, "citizen-a", &state)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.False(t, results[0].Changed)

		created := domain.MessageStateCreated
		stillCreated, err := svc.ListByCitizenAndState(ctx, "citizen-a", &created)
		require.NoError(t, err)
		assert.Len(t, stillCreated, 1)
	})

	t.Run("propagates list failure", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		store.FailOn = func(op string) error {
			if op == "messages.FindAllByCitizenAndState" {
				return errors.New("timeout")
			}
			return nil
		}

		_, err := svc.DeliverAll(ctx, "citizen-a", nil)
		assert.Error(t, err)
	})
}

func TestService_ChangeStates(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	mine := seedMessage(t, store, "PROJ-1", "citizen-a", domain.MessageStateDelivered)
	alreadyRead := seedMessage(t, store, "PROJ-2", "citizen-a", domain.MessageStateRead)
	theirs := seedMessage(t, store, "PROJ-1", "citizen-b", domain.MessageStateCreated)
	missing := uuid.New()

	result := svc.ChangeStates(ctx, "citizen-a", []StateChange{
		{MessageID: mine.ID, Target: domain.MessageStateRead},
		{MessageID: theirs.ID, Target: domain.MessageStateRead},
		{MessageID: missing, Target: domain.MessageStateRead},
		{MessageID: alreadyRead.ID, Target: domain.MessageStateRead},
	})

	require.Len(t, result.Updated, 2)
	assert.Equal(t, mine.ID, result.Updated[0].Message.ID)
	assert.True(t, result.Updated[0].Changed)
	assert.Equal(t, alreadyRead.ID, result.Updated[1].Message.ID)
	assert.False(t, result.Updated[1].Changed)
	assert.Equal(t, []uuid.UUID{theirs.ID, missing}, result.Failed)

	stored, err := store.Messages().FindByID(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStateCreated, stored.State)
}

func TestService_ChangeStatesLogsStorageFailures(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	var buf bytes.Buffer
	svc.logger = zerolog.New(&buf)

	msg := seedMessage(t, store, "PROJ-1", "citizen-a", domain.MessageStateCreated)
	store.FailOn = func(op string) error {
		if op == "messages.Upsert" {
			return errors.New("connection reset")
		}
		return nil
	}

	result := svc.ChangeStates(ctx, "citizen-a", []StateChange{{MessageID: msg.ID, Target: domain.MessageStateRead}})
	assert.Equal(t, []uuid.UUID{msg.ID}, result.Failed)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "citizen-a", entry["citizen_id"])
	assert.Equal(t, msg.ID.String(), entry["message_id"])
	assert.Equal(t, "connection reset", entry["error"])
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates message for existing request", func(t *testing.T) {
		svc, store, metrics := newTestService(t)
		require.NoError(t, store.Requests().Upsert(ctx, &domain.Request{ID: "PROJ-1", CreatedAt: fixedNow, Active: true}))

		msg, err := svc.Create(ctx, CreateInput{LinkedRequest: "PROJ-1", RecipientID: "citizen-a", Title: "Hi", Text: "There"})
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStateCreated, msg.State)
		assert.Equal(t, domain.Content{Title: "Hi", Text: "There"}, msg.Content)
		assert.Equal(t, fixedNow, msg.CreatedAt)
		assert.Len(t, store.AllMessages(), 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesCreated))

		_, err = svc.Create(ctx, CreateInput{LinkedRequest: "PROJ-1", RecipientID: "citizen-a"})
		assert.ErrorIs(t, err, domain.ErrDuplicate)
	})

	t.Run("unknown request", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.Create(ctx, CreateInput{LinkedRequest: "PROJ-404", RecipientID: "citizen-a"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("requires recipient", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.Create(ctx, CreateInput{LinkedRequest: "PROJ-1"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
