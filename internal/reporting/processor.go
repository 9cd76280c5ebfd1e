package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/eventbus"
	"github.com/healthmetrix/recontact-service/internal/jira"
	"github.com/healthmetrix/recontact-service/internal/observability"
	"github.com/healthmetrix/recontact-service/internal/repository"
)

// ProcessorConfig controls event-driven pushes.
type ProcessorConfig struct {
	// UpdateReportImmediately pushes a report on every request update.
	// When false, reports are left to the sweeper.
	UpdateReportImmediately bool
}

// Processor pushes request reports and cohort info to the ticketing system.
// Its handlers log failures and never return them.
type Processor struct {
	requests repository.RequestRepository
	messages repository.MessageRepository
	jira     jira.Client
	cfg      ProcessorConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(
	requests repository.RequestRepository,
	messages repository.MessageRepository,
	client jira.Client,
	cfg ProcessorConfig,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		requests: requests,
		messages: messages,
		jira:     client,
		cfg:      cfg,
		logger:   observability.WithComponent(logger, "report-processor"),
		now:      time.Now,
	}
}

// Subscribe registers the processor's handlers on bus.
func (p *Processor) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(domain.EventTypeRequestUpdated, func(ctx context.Context, event eventbus.Event) error {
		ev, ok := event.(domain.RequestUpdatedEvent)
		if !ok {
			return fmt.Errorf("unexpected event %T for %s", event, domain.EventTypeRequestUpdated)
		}
		p.HandleRequestUpdated(ctx, ev)
		return nil
	})

	bus.Subscribe(domain.EventTypeCohortInfoChanged, func(ctx context.Context, event eventbus.Event) error {
		ev, ok := event.(domain.CohortInfoChangedEvent)
		if !ok {
			return fmt.Errorf("unexpected event %T for %s", event, domain.EventTypeCohortInfoChanged)
		}
		p.HandleCohortInfoChanged(ctx, ev)
		return nil
	})
}

// HandleRequestUpdated pushes the current report of the updated request.
func (p *Processor) HandleRequestUpdated(ctx context.Context, ev domain.RequestUpdatedEvent) {
	if !p.cfg.UpdateReportImmediately {
		return
	}

	if err := p.PushReport(ctx, ev.RequestID); err != nil {
		logger := observability.WithRequestContext(p.logger, ev.RequestID)
		logger.Error().
			Err(err).
			Str("update_type", string(ev.UpdateType)).
			Msg("failed to push report")
	}
}

// PushReport recomputes the report of a request and writes it to the
// request's ticket.
func (p *Processor) PushReport(ctx context.Context, requestID string) error {
	req, err := p.requests.FindByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("loading request: %w", err)
	}

	msgs, err := p.messages.FindAllByRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	report := NewReport(req, msgs, p.now())
	if err := p.jira.UpdateReportField(ctx, requestID, report.String()); err != nil {
		return fmt.Errorf("updating report field: %w", err)
	}

	logger := observability.WithRequestContext(p.logger, requestID)
	logger.Debug().
		Int("total", report.Total).
		Int("delivered", report.Delivered).
		Int("read", report.Read).
		Msg("report pushed")
	return nil
}

// HandleCohortInfoChanged renders the ticket's cohort into its cohort info
// field. When the cohort cannot be read, a message naming the problem is
// written instead.
func (p *Processor) HandleCohortInfoChanged(ctx context.Context, ev domain.CohortInfoChangedEvent) {
	logger := observability.WithIssueContext(p.logger, ev.IssueID)

	var text string
	def, err := p.jira.FetchCohort(ctx, ev.IssueID)
	if err != nil {
		kind := jira.CohortErrorKind(err)
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("cohort unavailable")
		text = CohortFailureText(kind)
	} else {
		text = CohortInfo(def.Cohort).String()
	}

	if err := p.jira.UpdateCohortInfoField(ctx, ev.IssueID, text); err != nil {
		logger.Error().Err(err).Msg("failed to push cohort info")
		return
	}
	logger.Debug().Msg("cohort info pushed")
}
