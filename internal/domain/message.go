package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageState is the delivery state of a message. States only move forward:
// CREATED < DELIVERED < READ.
type MessageState string

const (
	MessageStateCreated   MessageState = "CREATED"
	MessageStateDelivered MessageState = "DELIVERED"
	MessageStateRead      MessageState = "READ"
)

// MessageStates lists every state in lattice order.
var MessageStates = []MessageState{MessageStateCreated, MessageStateDelivered, MessageStateRead}

func (s MessageState) rank() int {
	switch s {
	case MessageStateCreated:
		return 1
	case MessageStateDelivered:
		return 2
	case MessageStateRead:
		return 3
	default:
		return 0
	}
}

// IsValid reports whether s is a known state.
func (s MessageState) IsValid() bool {
	return s.rank() > 0
}

// CanTransitionTo reports whether target is strictly after s.
func (s MessageState) CanTransitionTo(target MessageState) bool {
	return s.IsValid() && target.IsValid() && target.rank() > s.rank()
}

// ParseMessageState parses a state name case-insensitively.
func ParseMessageState(raw string) (MessageState, error) {
	state := MessageState(strings.ToUpper(strings.TrimSpace(raw)))
	if !state.IsValid() {
		return "", NewValidationError("state", fmt.Sprintf("unknown message state %q", raw))
	}
	return state, nil
}

// UpdateAction is a state change a citizen may request on a message.
type UpdateAction string

// UpdateActionRead is the only action a citizen may request.
const UpdateActionRead UpdateAction = "READ"

// ParseUpdateAction parses an action name case-insensitively.
func ParseUpdateAction(raw string) (UpdateAction, error) {
	if strings.EqualFold(strings.TrimSpace(raw), string(UpdateActionRead)) {
		return UpdateActionRead, nil
	}
	return "", NewValidationError("action", fmt.Sprintf("unknown action %q", raw))
}

// TargetState is the message state an action leads to.
func (a UpdateAction) TargetState() MessageState {
	return MessageStateRead
}

// Content is the title and body shown to a citizen.
type Content struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

// Message is one citizen's copy of a recontact request.
type Message struct {
	ID            uuid.UUID    `json:"id"`
	LinkedRequest string       `json:"linkedRequest"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     *time.Time   `json:"updatedAt"`
	Content       Content      `json:"content"`
	RecipientID   string       `json:"recipientId"`
	State         MessageState `json:"state"`
}

// NewMessage creates a CREATED message for recipient with a fresh id.
func NewMessage(requestID, recipientID string, content Content, now time.Time) *Message {
	return &Message{
		ID:            uuid.New(),
		LinkedRequest: requestID,
		CreatedAt:     now,
		Content:       content,
		RecipientID:   recipientID,
		State:         MessageStateCreated,
	}
}

// WithState returns a copy of m moved to state and stamped with now.
func (m Message) WithState(state MessageState, now time.Time) *Message {
	m.State = state
	m.UpdatedAt = &now
	return &m
}

// CountByState tallies messages per state. Every known state is present in the result.
func CountByState(messages []*Message) map[MessageState]int {
	counts := make(map[MessageState]int, len(MessageStates))
	for _, s := range MessageStates {
		counts[s] = 0
	}
	for _, m := range messages {
		counts[m.State]++
	}
	return counts
}
