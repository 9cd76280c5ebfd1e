package domain

import (
	"sort"
	"time"
)

// Request is a recontact request raised from a ticket. Its id is the ticket id.
type Request struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt *time.Time     `json:"updatedAt"`
	Cohort    Cohort         `json:"cohort"`
	Message   RequestMessage `json:"message"`
	Active    bool           `json:"active"`
}

// Cohort is the set of citizens a request addresses.
type Cohort struct {
	Citizens []string `json:"citizens"`
	Name     string   `json:"name"`
}

// RequestMessage is the template copied into every fanned-out message.
type RequestMessage struct {
	Content Content `json:"content"`
}

// Cancel marks the request inactive. It fails with ErrAlreadyCancelled when
// the request is already inactive.
func (r *Request) Cancel(now time.Time) error {
	if !r.Active {
		return ErrAlreadyCancelled
	}
	r.Active = false
	r.UpdatedAt = &now
	return nil
}

// CitizenSet deduplicates and sorts citizen ids.
func CitizenSet(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
