package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

// MessageRepository persists per-citizen messages.
type MessageRepository interface {
	// Upsert inserts the message or replaces its state, content and updated_at.
	Upsert(ctx context.Context, msg *domain.Message) error

	// UpsertMany inserts messages in one batch. A message whose
	// (linked_request, recipient_id) pair already exists is skipped.
	// Returns the number of rows inserted.
	UpsertMany(ctx context.Context, msgs []*domain.Message) (int, error)

	// Delete removes a message. Deleting a missing message is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// FindByID returns domain.ErrNotFound if no message has this id.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)

	// FindByIDForUpdate is FindByID with a row lock. It must be called inside a transaction.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Message, error)

	// FindByRequestAndCitizen returns domain.ErrNotFound when the citizen has no
	// message for the request.
	FindByRequestAndCitizen(ctx context.Context, requestID, citizenID string) (*domain.Message, error)

	// FindAllByCitizenAndState lists a citizen's messages oldest first. A nil
	// state matches every state.
	FindAllByCitizenAndState(ctx context.Context, citizenID string, state *domain.MessageState) ([]*domain.Message, error)

	// FindAllByRequest lists every message of a request.
	FindAllByRequest(ctx context.Context, requestID string) ([]*domain.Message, error)

	// FindAllUpdatedAfter lists messages whose updated_at is after since.
	// Messages that were never updated are not returned.
	FindAllUpdatedAfter(ctx context.Context, since time.Time) ([]*domain.Message, error)
}
