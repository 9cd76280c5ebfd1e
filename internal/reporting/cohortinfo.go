package reporting

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

// Texts pushed to the cohort info field when the cohort cannot be read.
const (
	CohortInfoMissing       = "No Cohort Info file has been provided!"
	CohortInfoMultiple      = "More than one Cohort Info file has been provided!"
	CohortInfoUndecryptable = "The Cohort Info file could not be decrypted!"
	CohortInfoUnprocessable = "The Cohort Info file could not be processed successfully!"
)

// CohortFailureText is the cohort info text for a failure of kind.
func CohortFailureText(kind domain.RemoteCohortKind) string {
	switch kind {
	case domain.RemoteCohortNotFound:
		return CohortInfoMissing
	case domain.RemoteCohortMultiple:
		return CohortInfoMultiple
	case domain.RemoteCohortDecryptionFailed:
		return CohortInfoUndecryptable
	default:
		return CohortInfoUnprocessable
	}
}

// CohortInfo renders a cohort as ticket text.
type CohortInfo domain.CohortDetails

// String renders the size, dataset version, distributions and query
// parameters of the cohort.
func (c CohortInfo) String() string {
	distinct := make(map[string]struct{}, len(c.PseudonymIDs))
	for _, id := range c.PseudonymIDs {
		distinct[id] = struct{}{}
	}

	ages := append([]domain.AgeBucket(nil), c.Distribution.Age...)
	sort.SliceStable(ages, func(i, j int) bool {
		a, b := ages[i].Min, ages[j].Min
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return *a < *b
	})
	ageLines := make([]string, len(ages))
	for i, age := range ages {
		ageLines[i] = "+ [" + optionalInt(age.Min) + " - " + optionalInt(age.Max) + "]: " + strconv.Itoa(age.Count)
	}

	genders := append([]domain.GenderBucket(nil), c.Distribution.Gender...)
	sort.SliceStable(genders, func(i, j int) bool { return genders[i].Gender < genders[j].Gender })
	genderLines := make([]string, len(genders))
	for i, g := range genders {
		genderLines[i] = "+ " + capitalize(g.Gender) + ": " + strconv.Itoa(g.Count)
	}

	queryLines := []string{"none"}
	if len(c.QueryParams) > 0 {
		queryLines = make([]string, len(c.QueryParams))
		for i, param := range c.QueryParams {
			contents := make([]string, len(param.Content))
			for j, content := range param.Content {
				contents[j] = renderQueryContent(content)
			}
			queryLines[i] = strings.Join(contents, "; ")
		}
	}

	lines := []string{
		"Size: " + strconv.Itoa(len(distinct)),
		"Dataset version: " + c.DatasetVersion,
		"",
		"Age distribution: ",
		strings.Join(ageLines, "\n"),
		"",
		"Gender distribution: ",
		strings.Join(genderLines, "\n"),
		"",
		"Query parameters:",
		strings.Join(queryLines, "\n"),
	}
	return strings.Join(lines, "\n")
}

func renderQueryContent(content domain.QueryContent) string {
	excluded := "no"
	if content.IsExcluded {
		excluded = "yes"
	}

	out := `+ Filter Name: "` + content.Name + `" | Excluded: ` + excluded
	if len(content.Attributes) == 0 {
		return out
	}

	attrs := make([]string, len(content.Attributes))
	for i, attr := range content.Attributes {
		attrs[i] = "[" + attr.Name + ": " + strings.Join(attr.Constraints, ", ") + "]"
	}
	return out + " | Attributes: " + strings.Join(attrs, ",")
}

func optionalInt(v *int) string {
	if v == nil {
		return "N/A"
	}
	return strconv.Itoa(*v)
}

// capitalize lowercases s and upper-cases its first letter.
func capitalize(s string) string {
	s = strings.ToLower(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
