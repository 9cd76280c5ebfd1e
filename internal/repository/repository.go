// Package repository provides data access interfaces and PostgreSQL
// implementations for recontact requests and their messages.
//
// # Transactions
//
// Stores accept a DBTX, so the same implementation runs against the pool or
// inside a transaction. Use a Transactor to obtain stores bound to one
// transaction:
//
//	err := transactor.InTx(ctx, func(s repository.Stores) error {
//	    req, err := s.Requests.FindByIDForUpdate(ctx, id)
//	    ...
//	    return s.Requests.Upsert(ctx, req)
//	})
//
// Methods ending in ForUpdate take a row lock and must run inside InTx.
//
// # Errors
//
// Missing rows are reported as *domain.NotFoundError. Other database errors are
// wrapped with context.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/healthmetrix/recontact-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// PostgreSQL error codes used for constraint violation detection.
const pgUniqueViolation = "23505"

// Stores groups the stores bound to one connection or transaction.
type Stores struct {
	Requests RequestRepository
	Messages MessageRepository
}

// Transactor runs a unit of work in a single transaction.
type Transactor interface {
	// InTx calls fn with stores bound to a new transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(Stores) error) error
}

// txRunner is satisfied by *database.DB.
type txRunner interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

var _ Transactor = (*PgTransactor)(nil)

// PgTransactor is the PostgreSQL Transactor.
type PgTransactor struct {
	db txRunner
}

// NewPgTransactor creates a transactor over db.
func NewPgTransactor(db txRunner) *PgTransactor {
	return &PgTransactor{db: db}
}

// InTx implements Transactor.
func (t *PgTransactor) InTx(ctx context.Context, fn func(Stores) error) error {
	return t.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(NewStores(tx))
	})
}

// NewStores binds the PostgreSQL stores to db.
func NewStores(db DBTX) Stores {
	return Stores{
		Requests: NewPgRequestRepository(db),
		Messages: NewPgMessageRepository(db),
	}
}
