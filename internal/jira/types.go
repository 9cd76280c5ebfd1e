package jira

import (
	"encoding/json"
	"sort"
	"strings"
)

// InvalidText is written to both custom fields of an invalidated issue.
const InvalidText = "This issue contains invalid cohort info and has been invalidated. " +
	"Please contact IT or create a new issue with the correct cohort file"

// issueResponse is the subset of GET /issue/{id}?expand=names,renderedFields the client reads.
type issueResponse struct {
	ID             string                     `json:"id"`
	Key            string                     `json:"key"`
	Names          map[string]string          `json:"names"`
	RenderedFields map[string]json.RawMessage `json:"renderedFields"`
}

type attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
}

type transitionsResponse struct {
	Transitions []transition `json:"transitions"`
}

type transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"to"`
}

type issueUpdate struct {
	Fields map[string]string `json:"fields"`
}

type transitionUpdate struct {
	Transition transitionRef `json:"transition"`
}

type transitionRef struct {
	ID string `json:"id"`
}

// customField returns the id of the first custom field, in id order, that is
// rendered on the issue and whose label contains name.
func (r *issueResponse) customField(name string) (string, bool) {
	needle := strings.ToLower(name)

	ids := make([]string, 0, len(r.Names))
	for id := range r.Names {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !strings.HasPrefix(id, "customfield") {
			continue
		}
		if _, ok := r.RenderedFields[id]; !ok {
			continue
		}
		if strings.Contains(strings.ToLower(r.Names[id]), needle) {
			return id, true
		}
	}
	return "", false
}

// attachments splits the rendered attachments into binary and json candidates.
func (r *issueResponse) attachments() (binary, plain []attachment, err error) {
	raw, ok := r.RenderedFields["attachment"]
	if !ok {
		return nil, nil, nil
	}

	var all []attachment
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, nil, err
	}

	for _, a := range all {
		switch {
		case strings.Contains(a.MimeType, "octet-stream"):
			binary = append(binary, a)
		case strings.Contains(a.MimeType, "json"):
			plain = append(plain, a)
		}
	}
	return binary, plain, nil
}

// invalidTransition returns the first transition leading to a status whose
// name contains statusName.
func (r *transitionsResponse) invalidTransition(statusName string) (string, bool) {
	needle := strings.ToLower(statusName)
	for _, t := range r.Transitions {
		if strings.Contains(strings.ToLower(t.To.Name), needle) {
			return t.ID, true
		}
	}
	return "", false
}
