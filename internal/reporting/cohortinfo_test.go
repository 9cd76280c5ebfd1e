package reporting

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

func intPtr(v int) *int { return &v }

func sampleCohort() domain.CohortDetails {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	// A repeated id is counted once.
	ids = append(ids, ids[0])

	return domain.CohortDetails{
		Name:           "some-rp-specific-value",
		DatasetVersion: "1.0",
		Distribution: domain.CohortDistribution{
			Age: []domain.AgeBucket{
				{Min: intPtr(50), Max: intPtr(59), Count: 5},
				{Min: intPtr(40), Max: intPtr(49), Count: 5},
				{Count: 1},
			},
			Gender: []domain.GenderBucket{
				{Gender: "MALE", Count: 5},
				{Gender: "FEMALE", Count: 6},
			},
		},
		PseudonymIDs: ids,
		QueryParams: []domain.QueryParam{
			{Content: []domain.QueryContent{
				{Name: "someFilter", IsExcluded: true},
				{Name: "someFilterB", IsExcluded: true},
			}},
			{Content: []domain.QueryContent{
				{
					Name: "someOtherFilter",
					Attributes: []domain.QueryAttribute{
						{Name: "patient.attributes.Gender", Constraints: []string{"M", "F"}},
					},
				},
			}},
		},
	}
}

func TestCohortInfo_String(t *testing.T) {
	t.Run("with query parameters", func(t *testing.T) {
		want := "Size: 20\n" +
			"Dataset version: 1.0\n" +
			"\n" +
			"Age distribution: \n" +
			"+ [N/A - N/A]: 1\n" +
			"+ [40 - 49]: 5\n" +
			"+ [50 - 59]: 5\n" +
			"\n" +
			"Gender distribution: \n" +
			"+ Female: 6\n" +
			"+ Male: 5\n" +
			"\n" +
			"Query parameters:\n" +
			"+ Filter Name: \"someFilter\" | Excluded: yes; + Filter Name: \"someFilterB\" | Excluded: yes\n" +
			"+ Filter Name: \"someOtherFilter\" | Excluded: no | Attributes: [patient.attributes.Gender: M, F]"

		assert.Equal(t, want, CohortInfo(sampleCohort()).String())
	})

	t.Run("without query parameters", func(t *testing.T) {
		cohort := sampleCohort()
		cohort.QueryParams = nil

		want := "Size: 20\n" +
			"Dataset version: 1.0\n" +
			"\n" +
			"Age distribution: \n" +
			"+ [N/A - N/A]: 1\n" +
			"+ [40 - 49]: 5\n" +
			"+ [50 - 59]: 5\n" +
			"\n" +
			"Gender distribution: \n" +
			"+ Female: 6\n" +
			"+ Male: 5\n" +
			"\n" +
			"Query parameters:\n" +
			"none"

		assert.Equal(t, want, CohortInfo(cohort).String())
	})

	t.Run("does not reorder the input", func(t *testing.T) {
		cohort := sampleCohort()
		_ = CohortInfo(cohort).String()
		assert.Equal(t, 50, *cohort.Distribution.Age[0].Min)
		assert.Equal(t, "MALE", cohort.Distribution.Gender[0].Gender)
	})

	t.Run("multiple attributes", func(t *testing.T) {
		content := domain.QueryContent{
			Name: "f",
			Attributes: []domain.QueryAttribute{
				{Name: "a", Constraints: []string{"1"}},
				{Name: "b", Constraints: []string{"2", "3"}},
			},
		}
		assert.Equal(t, `+ Filter Name: "f" | Excluded: no | Attributes: [a: 1],[b: 2, 3]`, renderQueryContent(content))
	})
}

func TestCohortFailureText(t *testing.T) {
	assert.Equal(t, "No Cohort Info file has been provided!", CohortFailureText(domain.RemoteCohortNotFound))
	assert.Equal(t, "More than one Cohort Info file has been provided!", CohortFailureText(domain.RemoteCohortMultiple))
	assert.Equal(t, "The Cohort Info file could not be decrypted!", CohortFailureText(domain.RemoteCohortDecryptionFailed))
	assert.Equal(t, "The Cohort Info file could not be processed successfully!", CohortFailureText(domain.RemoteCohortOther))
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Female", capitalize("FEMALE"))
	assert.Equal(t, "Diverse", capitalize("diverse"))
	assert.Equal(t, "", capitalize(""))
}
