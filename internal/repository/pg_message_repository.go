package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

const messageColumns = `id, linked_request, created_at, updated_at, state, recipient_id, content_title, content_text`

var _ MessageRepository = (*PgMessageRepository)(nil)

// PgMessageRepository is a PostgreSQL implementation of MessageRepository.
type PgMessageRepository struct {
	db DBTX
}

// NewPgMessageRepository creates a new PostgreSQL message repository.
func NewPgMessageRepository(db DBTX) *PgMessageRepository {
	return &PgMessageRepository{db: db}
}

// Upsert inserts msg or replaces the mutable columns of an existing message with the same id.
func (r *PgMessageRepository) Upsert(ctx context.Context, msg *domain.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	query := `
		INSERT INTO message (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			state = EXCLUDED.state,
			content_title = EXCLUDED.content_title,
			content_text = EXCLUDED.content_text`

	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.LinkedRequest, msg.CreatedAt, msg.UpdatedAt, string(msg.State),
		msg.RecipientID, msg.Content.Title, msg.Content.Text,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewDuplicateError("message", msg.LinkedRequest+"/"+msg.RecipientID)
		}
		return fmt.Errorf("failed to upsert message %s: %w", msg.ID, err)
	}
	return nil
}

// UpsertMany queues one insert per message in a single batch.
func (r *PgMessageRepository) UpsertMany(ctx context.Context, msgs []*domain.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO message (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (linked_request, recipient_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, msg := range msgs {
		if err := validateMessage(msg); err != nil {
			return 0, err
		}
		batch.Queue(query,
			msg.ID, msg.LinkedRequest, msg.CreatedAt, msg.UpdatedAt, string(msg.State),
			msg.RecipientID, msg.Content.Title, msg.Content.Text,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range msgs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert message at index %d: %w", i, err)
		}
		inserted += int(tag.RowsAffected())
	}

	return inserted, nil
}

// Delete removes the message with id.
func (r *PgMessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM message WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

// FindByID returns the message with id.
func (r *PgMessageRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message WHERE id = $1`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("message", id.String())
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// FindByIDForUpdate locks the message row until the surrounding transaction ends.
func (r *PgMessageRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message WHERE id = $1 FOR UPDATE`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query message for update: %w", err)
	}

	msg, err := scanSingleRow(rows, scanMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("message", id.String())
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return msg, nil
}

// FindByRequestAndCitizen returns the citizen's message for a request.
func (r *PgMessageRepository) FindByRequestAndCitizen(ctx context.Context, requestID, citizenID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message WHERE linked_request = $1 AND recipient_id = $2`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, requestID, citizenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("message", requestID+"/"+citizenID)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// FindAllByCitizenAndState lists the citizen's messages, optionally filtered by state.
func (r *PgMessageRepository) FindAllByCitizenAndState(ctx context.Context, citizenID string, state *domain.MessageState) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message WHERE recipient_id = $1`
	args := []interface{}{citizenID}
	if state != nil {
		query += ` AND state = $2`
		args = append(args, string(*state))
	}
	query += ` ORDER BY created_at, id`

	return r.list(ctx, query, args...)
}

// FindAllByRequest lists every message of a request.
func (r *PgMessageRepository) FindAllByRequest(ctx context.Context, requestID string) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message WHERE linked_request = $1 ORDER BY created_at, id`
	return r.list(ctx, query, requestID)
}

// FindAllUpdatedAfter lists messages changed after since.
func (r *PgMessageRepository) FindAllUpdatedAfter(ctx context.Context, since time.Time) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message WHERE updated_at > $1 ORDER BY updated_at`
	return r.list(ctx, query, since)
}

func (r *PgMessageRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Message, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs, err := collectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}
	return msgs, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		msg   domain.Message
		state string
	)
	err := row.Scan(
		&msg.ID, &msg.LinkedRequest, &msg.CreatedAt, &msg.UpdatedAt, &state,
		&msg.RecipientID, &msg.Content.Title, &msg.Content.Text,
	)
	if err != nil {
		return nil, err
	}
	msg.State = domain.MessageState(state)
	return &msg, nil
}

func validateMessage(msg *domain.Message) error {
	switch {
	case msg == nil:
		return domain.NewValidationError("message", "message cannot be nil")
	case msg.ID == uuid.Nil:
		return domain.NewValidationError("id", "message ID is required")
	case msg.LinkedRequest == "":
		return domain.NewValidationError("linked_request", "linked request is required")
	case msg.RecipientID == "":
		return domain.NewValidationError("recipient_id", "recipient is required")
	case !msg.State.IsValid():
		return domain.NewValidationError("state", fmt.Sprintf("unknown state %q", msg.State))
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
