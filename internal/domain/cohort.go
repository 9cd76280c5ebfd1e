package domain

// CohortDefinition is the decrypted cohort attachment of a ticket.
type CohortDefinition struct {
	Cohort CohortDetails `json:"cohort"`
}

// CohortDetails describes who is in a cohort and how it was selected.
type CohortDetails struct {
	Name           string             `json:"name"`
	Distribution   CohortDistribution `json:"distribution"`
	DatasetVersion string             `json:"datasetVersion"`
	PseudonymIDs   []string           `json:"pseudonymIds"`
	QueryParams    []QueryParam       `json:"queryParams"`
}

// CohortDistribution holds the age and gender breakdown of a cohort.
type CohortDistribution struct {
	Age    []AgeBucket    `json:"age"`
	Gender []GenderBucket `json:"gender"`
}

// AgeBucket counts citizens in an age range. Either bound may be open.
type AgeBucket struct {
	Min   *int `json:"min,omitempty"`
	Max   *int `json:"max,omitempty"`
	Count int  `json:"count"`
}

// GenderBucket counts citizens of one gender.
type GenderBucket struct {
	Gender string `json:"gender"`
	Count  int    `json:"count"`
}

// QueryParam is one group of filters used to select the cohort.
type QueryParam struct {
	Content []QueryContent `json:"content"`
}

// QueryContent is a single named filter.
type QueryContent struct {
	Name       string           `json:"name"`
	Attributes []QueryAttribute `json:"attributes,omitempty"`
	IsExcluded bool             `json:"isExcluded"`
}

// QueryAttribute restricts a filter to a set of values.
type QueryAttribute struct {
	Name        string   `json:"name"`
	Constraints []string `json:"constraints"`
}

// CitizenIDs returns the distinct pseudonym ids in first-seen order.
func (d *CohortDefinition) CitizenIDs() []string {
	seen := make(map[string]struct{}, len(d.Cohort.PseudonymIDs))
	out := make([]string, 0, len(d.Cohort.PseudonymIDs))
	for _, id := range d.Cohort.PseudonymIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
