package jira

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient(t *testing.T) {
	ctx := context.Background()
	client := NewMockClient(nil, zerolog.Nop())

	def, err := client.FetchCohort(ctx, "PROJ-1")
	require.NoError(t, err)
	assert.Len(t, def.CitizenIDs(), MockCohortSize)
	assert.Equal(t, "1.0", def.Cohort.DatasetVersion)
	require.Len(t, def.Cohort.Distribution.Age, 1)
	assert.Equal(t, 40, *def.Cohort.Distribution.Age[0].Min)

	other, err := client.FetchCohort(ctx, "PROJ-1")
	require.NoError(t, err)
	assert.NotEqual(t, def.Cohort.PseudonymIDs, other.Cohort.PseudonymIDs)

	assert.NoError(t, client.UpdateReportField(ctx, "PROJ-1", "report"))
	assert.NoError(t, client.UpdateCohortInfoField(ctx, "PROJ-1", "info"))
	assert.NoError(t, client.Invalidate(ctx, "PROJ-1", "reason"))
}
