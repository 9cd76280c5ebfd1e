package jira

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/observability"
)

// MockCohortSize is the number of citizens in the cohort MockClient returns.
const MockCohortSize = 20

// Ensure MockClient implements Client interface.
var _ Client = (*MockClient)(nil)

// MockClient succeeds on every call without contacting Jira. FetchCohort
// returns a fixed distribution with fresh random pseudonym ids.
type MockClient struct {
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewMockClient creates a MockClient.
func NewMockClient(metrics *observability.Metrics, logger zerolog.Logger) *MockClient {
	return &MockClient{
		metrics: metrics,
		logger:  observability.WithComponent(logger, "jira-mock"),
	}
}

// FetchCohort implements Client.
func (m *MockClient) FetchCohort(_ context.Context, issueID string) (*domain.CohortDefinition, error) {
	m.record(observability.JiraOpFetchCohort, issueID)
	return FakeCohort(), nil
}

// UpdateReportField implements Client.
func (m *MockClient) UpdateReportField(_ context.Context, issueID, _ string) error {
	m.record(observability.JiraOpUpdateReportField, issueID)
	return nil
}

// UpdateCohortInfoField implements Client.
func (m *MockClient) UpdateCohortInfoField(_ context.Context, issueID, _ string) error {
	m.record(observability.JiraOpUpdateCohortField, issueID)
	return nil
}

// Invalidate implements Client.
func (m *MockClient) Invalidate(_ context.Context, issueID, _ string) error {
	m.record(observability.JiraOpInvalidate, issueID)
	return nil
}

func (m *MockClient) record(operation, issueID string) {
	m.metrics.RecordJiraCall(operation, 0, nil)
	m.logger.Debug().Str("issue_id", issueID).Str("operation", operation).Msg("mock jira call")
}

// FakeCohort builds the cohort served by MockClient.
func FakeCohort() *domain.CohortDefinition {
	ids := make([]string, MockCohortSize)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	minAge, maxAge := 40, 49
	return &domain.CohortDefinition{
		Cohort: domain.CohortDetails{
			Name:           "some-rp-specific-value",
			DatasetVersion: "1.0",
			Distribution: domain.CohortDistribution{
				Age: []domain.AgeBucket{{Min: &minAge, Max: &maxAge, Count: 5}},
				Gender: []domain.GenderBucket{
					{Gender: "MALE", Count: 5},
					{Gender: "FEMALE", Count: 6},
				},
			},
			PseudonymIDs: ids,
			QueryParams:  []domain.QueryParam{},
		},
	}
}
