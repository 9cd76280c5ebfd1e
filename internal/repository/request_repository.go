package repository

import (
	"context"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

// RequestRepository persists recontact requests together with their cohort.
type RequestRepository interface {
	// Create inserts a new request with its cohort. Returns
	// domain.ErrDuplicate if a request with this id already exists.
	Create(ctx context.Context, req *domain.Request) error

	// Upsert inserts the request or updates its mutable columns. Cohort
	// citizens are added when missing and never removed.
	Upsert(ctx context.Context, req *domain.Request) error

	// FindByID returns the request with its cohort citizens sorted by id.
	// Returns domain.ErrNotFound if no request has this id.
	FindByID(ctx context.Context, id string) (*domain.Request, error)

	// FindByIDForUpdate is FindByID with a row lock on the request.
	// It must be called inside a transaction.
	FindByIDForUpdate(ctx context.Context, id string) (*domain.Request, error)

	// FindRecent returns up to limit requests, newest first.
	FindRecent(ctx context.Context, limit int) ([]*domain.Request, error)
}
