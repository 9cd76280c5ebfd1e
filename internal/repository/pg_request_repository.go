package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

const requestColumns = `id, created_at, updated_at, cohort_name, message_content_title, message_content_text, active`

var _ RequestRepository = (*PgRequestRepository)(nil)

// PgRequestRepository is a PostgreSQL implementation of RequestRepository.
type PgRequestRepository struct {
	db DBTX
}

// NewPgRequestRepository creates a new PostgreSQL request repository.
func NewPgRequestRepository(db DBTX) *PgRequestRepository {
	return &PgRequestRepository{db: db}
}

// Create inserts the request row and its cohort. An existing row with the
// same id is left untouched and reported as a duplicate.
func (r *PgRequestRepository) Create(ctx context.Context, req *domain.Request) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	query := `
		INSERT INTO request (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		req.ID, req.CreatedAt, req.UpdatedAt, req.Cohort.Name,
		req.Message.Content.Title, req.Message.Content.Text, req.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to create request %s: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDuplicateError("request", req.ID)
	}

	return r.insertCohort(ctx, req)
}

// Upsert writes the request row and adds missing cohort citizens.
func (r *PgRequestRepository) Upsert(ctx context.Context, req *domain.Request) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	query := `
		INSERT INTO request (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			cohort_name = EXCLUDED.cohort_name,
			message_content_title = EXCLUDED.message_content_title,
			message_content_text = EXCLUDED.message_content_text,
			active = EXCLUDED.active`

	_, err := r.db.Exec(ctx, query,
		req.ID, req.CreatedAt, req.UpdatedAt, req.Cohort.Name,
		req.Message.Content.Title, req.Message.Content.Text, req.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert request %s: %w", req.ID, err)
	}

	return r.insertCohort(ctx, req)
}

func (r *PgRequestRepository) insertCohort(ctx context.Context, req *domain.Request) error {
	if len(req.Cohort.Citizens) == 0 {
		return nil
	}

	query := `
		INSERT INTO citizen_cohort (cohort_id, citizen_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (cohort_id, citizen_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, req.ID, req.Cohort.Citizens); err != nil {
		return fmt.Errorf("failed to upsert cohort of request %s: %w", req.ID, err)
	}
	return nil
}

func validateRequest(req *domain.Request) error {
	if req == nil {
		return domain.NewValidationError("request", "request cannot be nil")
	}
	if req.ID == "" {
		return domain.NewValidationError("id", "request ID is required")
	}
	return nil
}

// FindByID returns the request with its cohort.
func (r *PgRequestRepository) FindByID(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM request WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("request", id)
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	if err := r.loadCitizens(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// FindByIDForUpdate locks the request row until the surrounding transaction ends.
func (r *PgRequestRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM request WHERE id = $1 FOR UPDATE`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query request for update: %w", err)
	}

	req, err := scanSingleRow(rows, scanRequest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("request", id)
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	if err := r.loadCitizens(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// FindRecent returns up to limit requests ordered by creation time, newest first.
func (r *PgRequestRepository) FindRecent(ctx context.Context, limit int) ([]*domain.Request, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "limit must be positive")
	}

	query := `SELECT ` + requestColumns + ` FROM request ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	requests, err := collectRows(rows, scanRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to scan requests: %w", err)
	}
	if len(requests) == 0 {
		return requests, nil
	}

	byID := make(map[string]*domain.Request, len(requests))
	ids := make([]string, len(requests))
	for i, req := range requests {
		byID[req.ID] = req
		ids[i] = req.ID
	}

	cohortQuery := `
		SELECT cohort_id, citizen_id FROM citizen_cohort
		WHERE cohort_id = ANY($1)
		ORDER BY cohort_id, citizen_id`

	cohortRows, err := r.db.Query(ctx, cohortQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list cohorts: %w", err)
	}
	defer cohortRows.Close()

	for cohortRows.Next() {
		var cohortID, citizenID string
		if err := cohortRows.Scan(&cohortID, &citizenID); err != nil {
			return nil, fmt.Errorf("failed to scan cohort row: %w", err)
		}
		if req, ok := byID[cohortID]; ok {
			req.Cohort.Citizens = append(req.Cohort.Citizens, citizenID)
		}
	}
	if err := cohortRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cohorts: %w", err)
	}

	return requests, nil
}

func (r *PgRequestRepository) loadCitizens(ctx context.Context, req *domain.Request) error {
	rows, err := r.db.Query(ctx,
		`SELECT citizen_id FROM citizen_cohort WHERE cohort_id = $1 ORDER BY citizen_id`, req.ID)
	if err != nil {
		return fmt.Errorf("failed to load cohort of request %s: %w", req.ID, err)
	}

	citizens, err := collectRows(rows, func(row pgx.Row) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan cohort of request %s: %w", req.ID, err)
	}

	req.Cohort.Citizens = citizens
	return nil
}

// scanRequest scans the requestColumns of one row. Citizens start empty.
func scanRequest(row pgx.Row) (*domain.Request, error) {
	req := &domain.Request{Cohort: domain.Cohort{Citizens: []string{}}}
	err := row.Scan(
		&req.ID, &req.CreatedAt, &req.UpdatedAt, &req.Cohort.Name,
		&req.Message.Content.Title, &req.Message.Content.Text, &req.Active,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// scanSingleRow scans the first row of rows and closes them. It returns
// pgx.ErrNoRows when there is none.
func scanSingleRow[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) (T, error) {
	defer rows.Close()

	var zero T
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, err
		}
		return zero, pgx.ErrNoRows
	}
	return scan(rows)
}

// collectRows scans every row and closes rows. The result is never nil.
func collectRows[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
