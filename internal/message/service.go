// Package message implements the citizen-facing message lifecycle: listing,
// delivery and read state transitions, guarded by recipient ownership.
package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/observability"
	"github.com/healthmetrix/recontact-service/internal/repository"
)

// ChangeResult is a message after a state change attempt.
type ChangeResult struct {
	Message *domain.Message
	// Changed is false when the target was not after the current state.
	Changed bool
}

// StateChange asks to move one message to Target.
type StateChange struct {
	MessageID uuid.UUID
	Target    domain.MessageState
}

// BulkResult collects the outcome of ChangeStates.
type BulkResult struct {
	Updated []ChangeResult
	Failed  []uuid.UUID
}

// CreateInput describes a message created outside fan-out.
type CreateInput struct {
	LinkedRequest string
	RecipientID   string
	Title         string
	Text          string
}

// Service applies message state transitions. It never publishes events;
// callers decide what to announce from the returned Changed flags.
type Service struct {
	tx       repository.Transactor
	messages repository.MessageRepository
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a message service. messages serves read-only queries
// outside transactions.
func NewService(
	tx repository.Transactor,
	messages repository.MessageRepository,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		tx:       tx,
		messages: messages,
		metrics:  metrics,
		logger:   observability.WithComponent(logger, "message-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ChangeState moves the message to target on behalf of citizenID. The message
// row is locked for the duration of the check and write. A target that is not
// strictly after the current state leaves the message unchanged.
func (s *Service) ChangeState(
	ctx context.Context,
	messageID uuid.UUID,
	citizenID string,
	target domain.MessageState,
) (*domain.Message, bool, error) {
	var (
		result  *domain.Message
		changed bool
	)

	err := s.tx.InTx(ctx, func(st repository.Stores) error {
		msg, err := st.Messages.FindByIDForUpdate(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.RecipientID != citizenID {
			return fmt.Errorf("message %s: %w", messageID, domain.ErrNotAllowed)
		}

		if !msg.State.CanTransitionTo(target) {
			result = msg
			return nil
		}

		updated := msg.WithState(target, s.now())
		if err := st.Messages.Upsert(ctx, updated); err != nil {
			return err
		}
		result, changed = updated, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.metrics.RecordStateChange(string(target))
		logger := observability.WithMessageContext(s.logger, messageID.String(), result.LinkedRequest)
		logger.Debug().
			Str("state", string(target)).
			Msg("message state changed")
	}
	return result, changed, nil
}

// ListByCitizenAndState lists the citizen's messages oldest first. A nil
// state lists every state.
func (s *Service) ListByCitizenAndState(ctx context.Context, citizenID string, state *domain.MessageState) ([]*domain.Message, error) {
	msgs, err := s.messages.FindAllByCitizenAndState(ctx, citizenID, state)
	if err != nil {
		return nil, fmt.Errorf("listing messages of citizen: %w", err)
	}
	return msgs, nil
}

// DeliverAll lists the citizen's messages and marks each DELIVERED. A message
// that fails to update is logged and left out of the result.
func (s *Service) DeliverAll(ctx context.Context, citizenID string, state *domain.MessageState) ([]ChangeResult, error) {
	msgs, err := s.ListByCitizenAndState(ctx, citizenID, state)
	if err != nil {
		return nil, err
	}

	logger := observability.WithCitizenContext(s.logger, citizenID)
	results := make([]ChangeResult, 0, len(msgs))
	for _, msg := range msgs {
		updated, changed, err := s.ChangeState(ctx, msg.ID, msg.RecipientID, domain.MessageStateDelivered)
		if err != nil {
			msgLogger := observability.WithMessageContext(logger, msg.ID.String(), msg.LinkedRequest)
			msgLogger.Error().Err(err).Msg("failed to mark message delivered")
			continue
		}
		results = append(results, ChangeResult{Message: updated, Changed: changed})
	}
	return results, nil
}

// ChangeStates applies each change in its own transaction. A change that fails
// is reported in Failed and does not affect the others.
func (s *Service) ChangeStates(ctx context.Context, citizenID string, changes []StateChange) BulkResult {
	result := BulkResult{
		Updated: make([]ChangeResult, 0, len(changes)),
		Failed:  make([]uuid.UUID, 0),
	}

	logger := observability.WithCitizenContext(s.logger, citizenID)
	for _, change := range changes {
		msg, changed, err := s.ChangeState(ctx, change.MessageID, citizenID, change.Target)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrNotAllowed) {
				logger.Error().Err(err).
					Str("message_id", change.MessageID.String()).
					Msg("failed to change message state")
			}
			result.Failed = append(result.Failed, change.MessageID)
			continue
		}
		result.Updated = append(result.Updated, ChangeResult{Message: msg, Changed: changed})
	}
	return result
}

// Create stores a CREATED message for an existing request.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Message, error) {
	if in.LinkedRequest == "" || in.RecipientID == "" {
		return nil, domain.NewValidationError("message", "linked request and recipient are required")
	}

	msg := domain.NewMessage(in.LinkedRequest, in.RecipientID,
		domain.Content{Title: in.Title, Text: in.Text}, s.now())

	err := s.tx.InTx(ctx, func(st repository.Stores) error {
		if _, err := st.Requests.FindByID(ctx, in.LinkedRequest); err != nil {
			return err
		}
		if _, err := st.Messages.FindByRequestAndCitizen(ctx, in.LinkedRequest, in.RecipientID); err == nil {
			return domain.NewDuplicateError("message", in.LinkedRequest+"/"+in.RecipientID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return st.Messages.Upsert(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordMessageCreated()
	return msg, nil
}
