package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/message"
)

// updateMessageBody is the JSON request body for a citizen action on one message.
type updateMessageBody struct {
	Action string `json:"action"`
}

// bulkUpdateBody is the JSON request body for actions on several messages.
type bulkUpdateBody struct {
	ToUpdate []bulkUpdateItem `json:"toUpdate" validate:"required,dive"`
}

type bulkUpdateItem struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Action    string `json:"action"`
}

// listMessages handles GET /v1/messages?state=. Every listed message is
// marked DELIVERED.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	citizenID := citizenIDFromContext(ctx)

	var state *domain.MessageState
	if raw := r.URL.Query().Get("state"); raw != "" {
		parsed, err := domain.ParseMessageState(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidState)
			return
		}
		state = &parsed
	}

	results, err := s.messages.DeliverAll(ctx, citizenID, state)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	msgs := make([]messageResponse, len(results))
	for i, res := range results {
		s.announceChange(ctx, res)
		msgs[i] = domainMessageToResponse(res.Message)
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{Messages: msgs})
}

// getMessage handles GET /v1/message/{messageID}. The message is marked DELIVERED.
func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	s.changeMessageState(w, r, domain.MessageStateDelivered)
}

// updateMessage handles POST /v1/message/{messageID}.
func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request) {
	var body updateMessageBody
	if !s.decodeBody(w, r, &body) {
		return
	}

	action, err := domain.ParseUpdateAction(body.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidAction)
		return
	}

	s.changeMessageState(w, r, action.TargetState())
}

func (s *Server) changeMessageState(w http.ResponseWriter, r *http.Request, target domain.MessageState) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message ID")
		return
	}

	msg, changed, err := s.messages.ChangeState(ctx, id, citizenIDFromContext(ctx), target)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.announceChange(ctx, message.ChangeResult{Message: msg, Changed: changed})
	writeJSON(w, http.StatusOK, domainMessageToResponse(msg))
}

// updateMessages handles POST /v1/messages. Each action names a target
// state and every action must be valid before any message is touched.
func (s *Server) updateMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body bulkUpdateBody
	if !s.decodeBody(w, r, &body) {
		return
	}

	changes := make([]message.StateChange, len(body.ToUpdate))
	for i, item := range body.ToUpdate {
		target, err := domain.ParseMessageState(item.Action)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidState)
			return
		}
		changes[i] = message.StateChange{
			MessageID: uuid.MustParse(item.MessageID),
			Target:    target,
		}
	}

	result := s.messages.ChangeStates(ctx, citizenIDFromContext(ctx), changes)

	resp := bulkUpdateResponse{
		Messages: make([]messageResponse, len(result.Updated)),
		Errors:   make([]string, 0, len(result.Failed)),
	}
	for i, res := range result.Updated {
		s.announceChange(ctx, res)
		resp.Messages[i] = domainMessageToResponse(res.Message)
	}
	for _, id := range result.Failed {
		resp.Errors = append(resp.Errors, id.String())
	}

	writeJSON(w, http.StatusOK, resp)
}

// announceChange publishes a state change of the linked request when the
// message actually changed.
func (s *Server) announceChange(ctx context.Context, res message.ChangeResult) {
	if !res.Changed {
		return
	}
	s.publisher.Publish(ctx, domain.RequestUpdatedEvent{
		RequestID:  res.Message.LinkedRequest,
		UpdateType: domain.UpdateTypeMessageStateChanged,
	})
}

// debugCreateMessageBody is the JSON request body for creating a message directly.
type debugCreateMessageBody struct {
	LinkedRequest string `json:"linkedRequest" validate:"required"`
	RecipientID   string `json:"recipientId" validate:"required"`
	Title         string `json:"title"`
	Text          string `json:"text"`
}

// debugCreateMessage handles POST /v1/debug/messages.
func (s *Server) debugCreateMessage(w http.ResponseWriter, r *http.Request) {
	var body debugCreateMessageBody
	if !s.decodeBody(w, r, &body) {
		return
	}

	msg, err := s.messages.Create(r.Context(), message.CreateInput{
		LinkedRequest: body.LinkedRequest,
		RecipientID:   body.RecipientID,
		Title:         body.Title,
		Text:          body.Text,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domainMessageToResponse(msg))
}

// debugListMessages handles GET /v1/debug/messages. It lists a citizen's
// messages without changing their state. The citizen comes from the
// citizenId query parameter or the citizen header.
func (s *Server) debugListMessages(w http.ResponseWriter, r *http.Request) {
	citizenID := strings.TrimSpace(r.URL.Query().Get("citizenId"))
	if citizenID == "" {
		citizenID = strings.TrimSpace(r.Header.Get(CitizenHeader))
	}
	if citizenID == "" {
		writeError(w, http.StatusBadRequest, "citizenId is required")
		return
	}

	msgs, err := s.messages.ListByCitizenAndState(r.Context(), citizenID, nil)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{Messages: domainMessagesToResponse(msgs)})
}
