package httpserver

import (
	"time"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/request"
)

// Response types for JSON serialization.

type infoResponse struct {
	Message string `json:"message"`
}

type contentResponse struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type messageResponse struct {
	ID            string          `json:"id"`
	LinkedRequest string          `json:"linkedRequest"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     *time.Time      `json:"updatedAt"`
	Content       contentResponse `json:"content"`
	RecipientID   string          `json:"recipientId"`
	State         string          `json:"state"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

type bulkUpdateResponse struct {
	Messages []messageResponse `json:"messages"`
	Errors   []string          `json:"errors"`
}

type createRequestResponse struct {
	RequestID string `json:"requestId"`
}

type cohortResponse struct {
	Name     string   `json:"name"`
	Citizens []string `json:"citizens"`
}

type requestMessageResponse struct {
	Content contentResponse `json:"content"`
}

type requestResponse struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt *time.Time             `json:"updatedAt"`
	Cohort    cohortResponse         `json:"cohort"`
	Message   requestMessageResponse `json:"message"`
	Active    bool                   `json:"active"`
}

type reportEntryResponse struct {
	Request      requestResponse `json:"request"`
	MessageStats map[string]int  `json:"messageStats"`
}

type reportResponse struct {
	Active   []reportEntryResponse `json:"active"`
	Inactive []reportEntryResponse `json:"inactive"`
}

// Converter functions

func domainMessageToResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:            m.ID.String(),
		LinkedRequest: m.LinkedRequest,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Content:       contentResponse{Title: m.Content.Title, Text: m.Content.Text},
		RecipientID:   m.RecipientID,
		State:         string(m.State),
	}
}

func domainMessagesToResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = domainMessageToResponse(m)
	}
	return out
}

func domainRequestToResponse(r *domain.Request) requestResponse {
	citizens := r.Cohort.Citizens
	if citizens == nil {
		citizens = []string{}
	}
	return requestResponse{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Cohort:    cohortResponse{Name: r.Cohort.Name, Citizens: citizens},
		Message: requestMessageResponse{
			Content: contentResponse{Title: r.Message.Content.Title, Text: r.Message.Content.Text},
		},
		Active: r.Active,
	}
}

func reportEntriesToResponse(entries []request.ReportEntry) []reportEntryResponse {
	out := make([]reportEntryResponse, len(entries))
	for i, e := range entries {
		stats := make(map[string]int, len(e.MessageStats))
		for state, n := range e.MessageStats {
			stats[string(state)] = n
		}
		out[i] = reportEntryResponse{Request: domainRequestToResponse(e.Request), MessageStats: stats}
	}
	return out
}
