// Package request implements the recontact request lifecycle: creation from a
// ticket's cohort with message fan-out, cancellation, lookup and the status
// report over recent requests.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/jira"
	"github.com/healthmetrix/recontact-service/internal/observability"
	"github.com/healthmetrix/recontact-service/internal/repository"
)

// DefaultReportLimit is the number of requests GenerateReport covers when
// the caller has no preference.
const DefaultReportLimit = 500

// CreateInput describes a request raised from a ticket.
type CreateInput struct {
	ID    string
	Title string
	Text  string
}

// ReportEntry is one request with its message counts per state.
type ReportEntry struct {
	Request      *domain.Request
	MessageStats map[domain.MessageState]int
}

// Report splits recent requests into active and cancelled ones.
type Report struct {
	Active   []ReportEntry
	Inactive []ReportEntry
}

// Service manages requests and their messages.
type Service struct {
	tx       repository.Transactor
	requests repository.RequestRepository
	messages repository.MessageRepository
	jira     jira.Client
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a request service. requests and messages serve
// read-only queries outside transactions.
func NewService(
	tx repository.Transactor,
	requests repository.RequestRepository,
	messages repository.MessageRepository,
	jiraClient jira.Client,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		tx:       tx,
		requests: requests,
		messages: messages,
		jira:     jiraClient,
		metrics:  metrics,
		logger:   observability.WithComponent(logger, "request-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateFromRemote creates a request for the ticket in. The cohort is read
// from the ticket; a ticket whose cohort cannot be read is invalidated and a
// *domain.RemoteCohortError is returned. The request and one CREATED message
// per citizen are written in one transaction.
func (s *Service) CreateFromRemote(ctx context.Context, in CreateInput) (*domain.Request, error) {
	if in.ID == "" {
		return nil, domain.NewValidationError("id", "ticket ID is required")
	}
	logger := observability.WithRequestContext(s.logger, in.ID)

	if _, err := s.requests.FindByID(ctx, in.ID); err == nil {
		return nil, domain.NewDuplicateError("request", in.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("checking for existing request: %w", err)
	}

	def, err := s.jira.FetchCohort(ctx, in.ID)
	if err != nil {
		kind := jira.CohortErrorKind(err)
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("cohort unavailable, invalidating ticket")

		if invErr := s.jira.Invalidate(ctx, in.ID, err.Error()); invErr != nil {
			logger.Error().Err(invErr).Msg("failed to invalidate ticket")
		}
		return nil, domain.NewRemoteCohortError(in.ID, kind, err)
	}

	now := s.now()
	content := domain.Content{Title: in.Title, Text: in.Text}
	citizens := domain.CitizenSet(def.CitizenIDs())

	req := &domain.Request{
		ID:        in.ID,
		CreatedAt: now,
		UpdatedAt: &now,
		Cohort:    domain.Cohort{Name: def.Cohort.Name, Citizens: citizens},
		Message:   domain.RequestMessage{Content: content},
		Active:    true,
	}

	msgs := make([]*domain.Message, len(citizens))
	for i, citizen := range citizens {
		msgs[i] = domain.NewMessage(req.ID, citizen, content, now)
	}

	var inserted int
	err = s.tx.InTx(ctx, func(st repository.Stores) error {
		if err := st.Requests.Create(ctx, req); err != nil {
			return err
		}
		n, err := st.Messages.UpsertMany(ctx, msgs)
		if err != nil {
			return err
		}
		inserted = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing request %s: %w", in.ID, err)
	}

	s.metrics.RecordRequestCreated(inserted)
	logger.Info().
		Str("cohort", req.Cohort.Name).
		Int("citizens", len(citizens)).
		Int("messages", inserted).
		Msg("request created")

	return req, nil
}

// Cancel deactivates the request and deletes every message of its cohort.
// Cancelling an inactive request fails with domain.ErrAlreadyCancelled.
func (s *Service) Cancel(ctx context.Context, id string) error {
	deleted := 0

	err := s.tx.InTx(ctx, func(st repository.Stores) error {
		req, err := st.Requests.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := req.Cancel(s.now()); err != nil {
			return err
		}
		if err := st.Requests.Upsert(ctx, req); err != nil {
			return err
		}

		for _, citizen := range req.Cohort.Citizens {
			msg, err := st.Messages.FindByRequestAndCitizen(ctx, id, citizen)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := st.Messages.Delete(ctx, msg.ID); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordRequestCancelled()
	logger := observability.WithRequestContext(s.logger, id)
	logger.Info().
		Int("deleted_messages", deleted).
		Msg("request cancelled")
	return nil
}

// Get returns the request with its cohort.
func (s *Service) Get(ctx context.Context, id string) (*domain.Request, error) {
	return s.requests.FindByID(ctx, id)
}

// GenerateReport covers the newest limit requests.
func (s *Service) GenerateReport(ctx context.Context, limit int) (*Report, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("report limit must be positive, got %d", limit)
	}

	requests, err := s.requests.FindRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent requests: %w", err)
	}

	report := &Report{
		Active:   make([]ReportEntry, 0),
		Inactive: make([]ReportEntry, 0),
	}
	for _, req := range requests {
		msgs, err := s.messages.FindAllByRequest(ctx, req.ID)
		if err != nil {
			return nil, fmt.Errorf("listing messages of request %s: %w", req.ID, err)
		}

		entry := ReportEntry{Request: req, MessageStats: domain.CountByState(msgs)}
		if req.Active {
			report.Active = append(report.Active, entry)
		} else {
			report.Inactive = append(report.Inactive, entry)
		}
	}
	return report, nil
}
