package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/observability"
	"github.com/healthmetrix/recontact-service/internal/repository"
)

// SweeperConfig schedules the report sweep. Cron, when set, replaces
// Interval.
type SweeperConfig struct {
	Interval time.Duration
	Cron     string
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	// Requests is the number of distinct requests with recent message updates.
	Requests int
	Pushed   int
	Failed   int
}

// ReportPusher writes the current report of a request to its ticket.
type ReportPusher interface {
	PushReport(ctx context.Context, requestID string) error
}

// Sweeper periodically pushes reports of requests whose messages changed
// since the previous sweep. The window is approximate: updates that land
// between two runs may be covered twice or, after downtime, not at all.
type Sweeper struct {
	messages repository.MessageRepository
	pusher   ReportPusher
	cfg      SweeperConfig
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewSweeper creates a Sweeper. It fails on an invalid cron expression or a
// non-positive interval.
func NewSweeper(
	messages repository.MessageRepository,
	pusher ReportPusher,
	cfg SweeperConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Sweeper, error) {
	if cfg.Cron != "" {
		if !gronx.IsValid(cfg.Cron) {
			return nil, fmt.Errorf("invalid sweep cron expression: %q", cfg.Cron)
		}
	} else if cfg.Interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}

	return &Sweeper{
		messages: messages,
		pusher:   pusher,
		cfg:      cfg,
		metrics:  metrics,
		logger:   observability.WithComponent(logger, "report-sweeper"),
	}, nil
}

// Since returns the start of the window swept at now.
func (s *Sweeper) Since(now time.Time) (time.Time, error) {
	if s.cfg.Cron != "" {
		prev, err := gronx.PrevTickBefore(s.cfg.Cron, now.Truncate(time.Minute), false)
		if err != nil {
			return time.Time{}, fmt.Errorf("computing previous sweep tick: %w", err)
		}
		return prev, nil
	}
	return now.Add(-s.cfg.Interval.Truncate(time.Minute)), nil
}

// SweepOnce pushes the report of every request with a message updated in the
// window ending at now. A failing request is logged and skipped.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	since, err := s.Since(now)
	if err != nil {
		return result, err
	}

	msgs, err := s.messages.FindAllUpdatedAfter(ctx, since)
	if err != nil {
		return result, fmt.Errorf("listing updated messages: %w", err)
	}

	seen := make(map[string]struct{})
	requestIDs := make([]string, 0)
	for _, msg := range msgs {
		if _, ok := seen[msg.LinkedRequest]; ok {
			continue
		}
		seen[msg.LinkedRequest] = struct{}{}
		requestIDs = append(requestIDs, msg.LinkedRequest)
	}
	result.Requests = len(requestIDs)

	for _, id := range requestIDs {
		if err := s.pusher.PushReport(ctx, id); err != nil {
			logger := observability.WithRequestContext(s.logger, id)
			logger.Error().Err(err).Msg("sweep failed to push report")
			result.Failed++
			continue
		}
		result.Pushed++
	}

	s.metrics.RecordSweep(result.Pushed, result.Failed)
	s.logger.Info().
		Time("since", since).
		Int("requests", result.Requests).
		Int("pushed", result.Pushed).
		Int("failed", result.Failed).
		Msg("report sweep finished")

	return result, nil
}

// Run sweeps on schedule until ctx is cancelled. A sweep in progress when
// ctx is cancelled runs to completion.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Str("cron", s.cfg.Cron).
		Msg("report sweeper started")
	defer s.logger.Info().Msg("report sweeper stopped")

	if s.cfg.Cron != "" {
		return s.runCron(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case tick := <-ticker.C:
			s.sweep(ctx, tick)
		}
	}
}

func (s *Sweeper) runCron(ctx context.Context) error {
	for {
		next, err := gronx.NextTickAfter(s.cfg.Cron, time.Now(), false)
		if err != nil {
			return fmt.Errorf("computing next sweep tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.sweep(ctx, next)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	if _, err := s.SweepOnce(context.WithoutCancel(ctx), now); err != nil {
		s.logger.Error().Err(err).Msg("report sweep failed")
	}
}
