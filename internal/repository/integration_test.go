//go:build integration

package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/healthmetrix/recontact-service/internal/config"
	"github.com/healthmetrix/recontact-service/internal/database"
	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/repository"
)

// startPostgres runs a disposable PostgreSQL container with the schema applied.
func startPostgres(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("recontact_test"),
		tcpostgres.WithUsername("recontact"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := database.New(ctx, &config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            "recontact",
		Password:        "testpassword",
		Name:            "recontact_test",
		SSLMode:         config.SSLModeDisable,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
		ConnectTimeout:  10 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	migrator, err := database.NewMigrator(db, "../../migrations", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	return db
}

func TestPostgresStores(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := startPostgres(t)
	ctx := context.Background()
	stores := repository.NewStores(db)
	transactor := repository.NewPgTransactor(db)
	now := time.Date(2024, 5, 10, 14, 12, 0, 0, time.UTC)

	req := &domain.Request{
		ID:        "PROJ-42",
		CreatedAt: now,
		Cohort:    domain.Cohort{Name: "diabetes-2024", Citizens: []string{"citizen-a", "citizen-b"}},
		Message:   domain.RequestMessage{Content: domain.Content{Title: "Study invitation", Text: "Please get in touch."}},
		Active:    true,
	}
	content := req.Message.Content

	t.Run("request round trip", func(t *testing.T) {
		require.NoError(t, stores.Requests.Upsert(ctx, req))

		got, err := stores.Requests.FindByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, req.Cohort, got.Cohort)
		assert.Equal(t, content, got.Message.Content)
		assert.True(t, got.CreatedAt.Equal(now))

		_, err = stores.Requests.FindByID(ctx, "PROJ-404")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("create rejects an existing id", func(t *testing.T) {
		dup := *req
		dup.Message.Content.Title = "Overwritten"
		err := stores.Requests.Create(ctx, &dup)
		assert.ErrorIs(t, err, domain.ErrDuplicate)

		got, err := stores.Requests.FindByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, content.Title, got.Message.Content.Title)
	})

	t.Run("bulk insert skips existing pairs", func(t *testing.T) {
		first := []*domain.Message{
			domain.NewMessage(req.ID, "citizen-a", content, now),
			domain.NewMessage(req.ID, "citizen-b", content, now),
		}
		inserted, err := stores.Messages.UpsertMany(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)

		inserted, err = stores.Messages.UpsertMany(ctx, []*domain.Message{domain.NewMessage(req.ID, "citizen-a", content, now)})
		require.NoError(t, err)
		assert.Zero(t, inserted)

		msgs, err := stores.Messages.FindAllByRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("state change inside a transaction", func(t *testing.T) {
		msg, err := stores.Messages.FindByRequestAndCitizen(ctx, req.ID, "citizen-a")
		require.NoError(t, err)

		err = transactor.InTx(ctx, func(s repository.Stores) error {
			locked, err := s.Messages.FindByIDForUpdate(ctx, msg.ID)
			if err != nil {
				return err
			}
			return s.Messages.Upsert(ctx, locked.WithState(domain.MessageStateRead, now.Add(time.Minute)))
		})
		require.NoError(t, err)

		read := domain.MessageStateRead
		msgs, err := stores.Messages.FindAllByCitizenAndState(ctx, "citizen-a", &read)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, msg.ID, msgs[0].ID)

		updated, err := stores.Messages.FindAllUpdatedAfter(ctx, now)
		require.NoError(t, err)
		require.Len(t, updated, 1)
		assert.Equal(t, msg.ID, updated[0].ID)
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		msg, err := stores.Messages.FindByRequestAndCitizen(ctx, req.ID, "citizen-b")
		require.NoError(t, err)

		err = transactor.InTx(ctx, func(s repository.Stores) error {
			if err := s.Messages.Delete(ctx, msg.ID); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = stores.Messages.FindByID(ctx, msg.ID)
		assert.NoError(t, err)
	})

	t.Run("recent requests", func(t *testing.T) {
		older := *req
		older.ID = "PROJ-41"
		older.CreatedAt = now.Add(-time.Hour)
		older.Active = false
		older.Cohort.Citizens = []string{"citizen-x"}
		require.NoError(t, stores.Requests.Upsert(ctx, &older))

		recent, err := stores.Requests.FindRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "PROJ-42", recent[0].ID)
		assert.Equal(t, "PROJ-41", recent[1].ID)
		assert.Equal(t, []string{"citizen-x"}, recent[1].Cohort.Citizens)
	})
}
