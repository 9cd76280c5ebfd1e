// Package jira talks to the ticketing system recontact requests originate from.
//
// The HTTPClient reads the encrypted cohort attachment of a ticket, writes the
// report and cohort-info custom fields, and moves invalid tickets to the
// invalid status. MockClient stands in when the integration is disabled.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/observability"
)

const (
	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 5 * time.Second

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 5.0

	// DefaultMaxRetries is the default number of retries for 429 and 5xx responses.
	DefaultMaxRetries = 2

	source = "jira"

	// maxBodySize bounds issue and attachment downloads.
	maxBodySize = 10 << 20
)

// Client is the ticketing system API used by the request lifecycle and reporting.
type Client interface {
	// FetchCohort downloads and decodes the cohort attachment of an issue.
	FetchCohort(ctx context.Context, issueID string) (*domain.CohortDefinition, error)

	// UpdateReportField writes text into the report custom field.
	UpdateReportField(ctx context.Context, issueID, text string) error

	// UpdateCohortInfoField writes text into the cohort-info custom field.
	UpdateCohortInfoField(ctx context.Context, issueID, text string) error

	// Invalidate transitions an issue to the invalid status and marks both fields.
	Invalidate(ctx context.Context, issueID, reason string) error
}

// Config holds configuration for the Jira client.
type Config struct {
	// BaseURL is the REST API root, e.g. https://jira.example.com/rest/api/2.
	BaseURL string

	// Username and Password are the basic auth credentials.
	Username string
	Password string

	// ReportFieldName is matched against custom field labels to find the report field.
	ReportFieldName string

	// CohortInfoFieldName is matched against custom field labels to find the cohort-info field.
	CohortInfoFieldName string

	// InvalidStatusName is matched against transition targets to find the invalid status.
	InvalidStatusName string

	// PlaintextJSONAllowed lets an unencrypted json attachment serve as the cohort.
	PlaintextJSONAllowed bool

	// CohortKey is the 32-byte shared cohort key.
	CohortKey []byte

	Timeout    time.Duration
	RateLimit  float64
	MaxRetries int
	RetryDelay time.Duration
}

// Ensure HTTPClient implements Client interface.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the Jira REST v2 implementation of Client.
type HTTPClient struct {
	config    Config
	http      *transport
	decrypter *Decrypter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// New creates a Jira client. It fails when the cohort key is not a valid
// ChaCha20-Poly1305 key.
func New(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*HTTPClient, error) {
	decrypter, err := NewDecrypter(cfg.CohortKey)
	if err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPClient{
		config: cfg,
		http: newTransport(transportConfig{
			Timeout:    cfg.Timeout,
			RateLimit:  cfg.RateLimit,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Username:   cfg.Username,
			Password:   cfg.Password,
		}),
		decrypter: decrypter,
		metrics:   metrics,
		logger:    observability.WithComponent(logger, "jira-client"),
	}, nil
}

// UpdateReportField implements Client.
func (c *HTTPClient) UpdateReportField(ctx context.Context, issueID, text string) (err error) {
	defer c.observe(observability.JiraOpUpdateReportField, issueID, time.Now(), &err)
	return c.updateCustomField(ctx, issueID, c.config.ReportFieldName, text)
}

// UpdateCohortInfoField implements Client.
func (c *HTTPClient) UpdateCohortInfoField(ctx context.Context, issueID, text string) (err error) {
	defer c.observe(observability.JiraOpUpdateCohortField, issueID, time.Now(), &err)
	return c.updateCustomField(ctx, issueID, c.config.CohortInfoFieldName, text)
}

// Invalidate moves the issue through the first transition whose target status
// contains the configured invalid status name, then writes InvalidText into
// both custom fields.
func (c *HTTPClient) Invalidate(ctx context.Context, issueID, reason string) (err error) {
	defer c.observe(observability.JiraOpInvalidate, issueID, time.Now(), &err)

	c.logger.Info().Str("issue_id", issueID).Str("reason", reason).Msg("invalidating issue")

	transitionsURL := c.issueURL(issueID) + "/transitions"

	var transitions transitionsResponse
	if err := c.doJSON(ctx, http.MethodGet, transitionsURL, nil, &transitions); err != nil {
		return fmt.Errorf("listing transitions of %s: %w", issueID, err)
	}

	transitionID, ok := transitions.invalidTransition(c.config.InvalidStatusName)
	if !ok {
		return fmt.Errorf("%w: no transition to %q on issue %s", ErrTransitionNotFound, c.config.InvalidStatusName, issueID)
	}

	body := transitionUpdate{Transition: transitionRef{ID: transitionID}}
	if err := c.doJSON(ctx, http.MethodPost, transitionsURL, body, nil); err != nil {
		return fmt.Errorf("transitioning %s: %w", issueID, err)
	}

	return errors.Join(
		c.UpdateReportField(ctx, issueID, InvalidText),
		c.UpdateCohortInfoField(ctx, issueID, InvalidText),
	)
}

// FetchCohort picks the cohort attachment of an issue. A single binary
// attachment is decrypted. Otherwise a single json attachment is parsed when
// plaintext is allowed.
func (c *HTTPClient) FetchCohort(ctx context.Context, issueID string) (def *domain.CohortDefinition, err error) {
	defer c.observe(observability.JiraOpFetchCohort, issueID, time.Now(), &err)

	issue, err := c.getIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}

	binary, plain, err := issue.attachments()
	if err != nil {
		return nil, fmt.Errorf("decoding attachments of %s: %w", issueID, err)
	}

	switch {
	case len(binary) == 1:
		payload, err := c.download(ctx, binary[0].Content)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", binary[0].Filename, err)
		}
		return c.decrypter.DecodeCohort(payload)

	case len(plain) == 1 && c.config.PlaintextJSONAllowed:
		payload, err := c.download(ctx, plain[0].Content)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", plain[0].Filename, err)
		}
		var parsed domain.CohortDefinition
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", plain[0].Filename, err)
		}
		return &parsed, nil

	case len(binary) > 1 || len(plain) > 1:
		return nil, fmt.Errorf("issue %s: %w", issueID, ErrMultipleCohorts)

	default:
		return nil, fmt.Errorf("issue %s: %w", issueID, ErrCohortNotFound)
	}
}

func (c *HTTPClient) updateCustomField(ctx context.Context, issueID, fieldName, value string) error {
	issue, err := c.getIssue(ctx, issueID)
	if err != nil {
		return err
	}

	fieldID, ok := issue.customField(fieldName)
	if !ok {
		return &CustomFieldNotFoundError{IssueID: issueID, FieldName: fieldName}
	}

	body := issueUpdate{Fields: map[string]string{fieldID: value}}
	if err := c.doJSON(ctx, http.MethodPut, c.issueURL(issueID), body, nil); err != nil {
		return fmt.Errorf("updating %s of %s: %w", fieldID, issueID, err)
	}
	return nil
}

func (c *HTTPClient) getIssue(ctx context.Context, issueID string) (*issueResponse, error) {
	var issue issueResponse
	if err := c.doJSON(ctx, http.MethodGet, c.issueURL(issueID)+"?expand=names,renderedFields", nil, &issue); err != nil {
		return nil, fmt.Errorf("fetching issue %s: %w", issueID, err)
	}
	return &issue, nil
}

func (c *HTTPClient) issueURL(issueID string) string {
	return c.config.BaseURL + "/issue/" + url.PathEscape(issueID)
}

// doJSON sends body as JSON and decodes a 2xx response into out when out is non-nil.
func (c *HTTPClient) doJSON(ctx context.Context, method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	return payload, nil
}

// send executes req and maps transport failures and non-2xx responses to
// *domain.ExternalAPIError. The caller closes the body of a returned response.
func (c *HTTPClient) send(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var exhausted *retriesExhaustedError
		if errors.As(err, &exhausted) {
			return nil, domain.NewExternalAPIError(source, exhausted.status, err.Error(), err)
		}
		return nil, domain.NewExternalAPIError(source, 0, err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(source, resp.StatusCode, string(body), nil)
	}
	return resp, nil
}

func (c *HTTPClient) observe(operation, issueID string, start time.Time, err *error) {
	c.metrics.RecordJiraCall(operation, time.Since(start).Seconds(), *err)
	if *err != nil {
		c.logger.Error().Err(*err).
			Str("issue_id", issueID).
			Str("operation", operation).
			Msg("jira call failed")
	}
}
