package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/observability"
	"github.com/healthmetrix/recontact-service/internal/request"
)

const maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies

// Response messages fixed by API clients.
const (
	msgDuplicateRequest = "Request with this Ticket ID already created."
	msgRemoteFailure    = "Connection with Api failed."
	msgAlreadyCancelled = "Request is cancelled and cannot be cancelled again."
	msgInvalidState     = "State must be one of [CREATED, DELIVERED, READ]."
	msgInvalidAction    = "Action must be one of [READ]."
)

// jiraEventCohortInfo is the only ticket event the webhook understands.
const jiraEventCohortInfo = "cohortinfo"

// createRequestBody is the JSON request body for creating a request from a ticket.
type createRequestBody struct {
	ID      string `json:"id" validate:"required,max=255"`
	Message string `json:"message" validate:"required"`
	Title   string `json:"title" validate:"required"`
}

// createRequest handles POST /v1/requests.
func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body createRequestBody
	if !s.decodeBody(w, r, &body) {
		return
	}

	req, err := s.requests.CreateFromRemote(ctx, request.CreateInput{
		ID:    strings.TrimSpace(body.ID),
		Title: body.Title,
		Text:  body.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicate):
			writeError(w, http.StatusConflict, msgDuplicateRequest)
		case errors.Is(err, domain.ErrRemoteCohort), errors.Is(err, domain.ErrRemoteCall):
			s.logError(r, err, "failed to create request from ticket")
			writeError(w, http.StatusInternalServerError, msgRemoteFailure)
		default:
			s.writeDomainError(w, r, err)
		}
		return
	}

	s.publisher.Publish(ctx, domain.RequestUpdatedEvent{RequestID: req.ID, UpdateType: domain.UpdateTypeRequestCreated})
	s.publisher.Publish(ctx, domain.CohortInfoChangedEvent{IssueID: req.ID})

	writeJSON(w, http.StatusCreated, createRequestResponse{RequestID: req.ID})
}

// getRequest handles GET /v1/request/{requestID}.
func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.Get(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domainRequestToResponse(req))
}

// cancelRequest handles DELETE /v1/request/{requestID}.
func (s *Server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "requestID")

	if err := s.requests.Cancel(ctx, requestID); err != nil {
		if errors.Is(err, domain.ErrAlreadyCancelled) {
			writeError(w, http.StatusOK, msgAlreadyCancelled)
			return
		}
		s.writeDomainError(w, r, err)
		return
	}

	s.publisher.Publish(ctx, domain.RequestUpdatedEvent{RequestID: requestID, UpdateType: domain.UpdateTypeRequestCancelled})
	w.WriteHeader(http.StatusOK)
}

// generateReport handles GET /v1/reports.
func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.requests.GenerateReport(r.Context(), s.cfg.ReportLimit)
	if err != nil {
		s.logError(r, err, "failed to generate report")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{
		Active:   reportEntriesToResponse(report.Active),
		Inactive: reportEntriesToResponse(report.Inactive),
	})
}

// processJiraEvent handles POST /v1/jira/issue/{issueID}?event=.
func (s *Server) processJiraEvent(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "issueID")
	event := r.URL.Query().Get("event")

	if !strings.EqualFold(event, jiraEventCohortInfo) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported event %q", event))
		return
	}

	s.publisher.Publish(r.Context(), domain.CohortInfoChangedEvent{IssueID: issueID})
	w.WriteHeader(http.StatusOK)
}

// decodeBody reads, decodes and validates a JSON body into v. It writes a
// 400 response and returns false on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage turns validator errors into a client message.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request body"
	}

	parts := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		parts[i] = fmt.Sprintf("%s failed on %s", field, fe.Tag())
	}
	return "invalid request body: " + strings.Join(parts, "; ")
}

// writeDomainError maps domain errors to HTTP status codes. Not found and
// not allowed carry no body. Unknown errors are logged and reported as 500
// without details.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, domain.ErrNotAllowed):
		w.WriteHeader(http.StatusUnauthorized)
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Message)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, domain.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrRemoteCohort), errors.Is(err, domain.ErrRemoteCall):
		s.logError(r, err, "remote call failed")
		writeError(w, http.StatusInternalServerError, msgRemoteFailure)
	default:
		s.logError(r, err, "request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) logError(r *http.Request, err error, msg string) {
	logger := observability.FromContext(r.Context(), s.logger)
	logger.Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(msg)
}
