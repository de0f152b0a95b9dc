package wizard

import (
	"strings"
	"time"
)

// Candidate is one selectable entry of a stage.
type Candidate struct {
	Value string `json:"value"`
	Label string `json:"label"`
	// Capacity and Remaining are set for capacity-limited entries such as
	// time slots. Capacity 0 means unlimited.
	Capacity  int               `json:"capacity,omitempty"`
	Remaining int               `json:"remaining,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Available reports whether the candidate can still be booked.
func (c Candidate) Available() bool {
	return c.Capacity == 0 || c.Remaining > 0
}

// CandidateList is the set of options for a stage, valid only while the
// upstream selections still produce Fingerprint.
type CandidateList struct {
	StageID     StageID     `json:"stage_id"`
	Fingerprint string      `json:"fingerprint"`
	Items       []Candidate `json:"items"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

// Find returns the candidate with the given value.
func (l *CandidateList) Find(value string) (Candidate, bool) {
	if l == nil {
		return Candidate{}, false
	}
	for _, c := range l.Items {
		if c.Value == value {
			return c, true
		}
	}
	return Candidate{}, false
}

// Filter returns a copy of l holding only items whose label or value
// contains query, case-insensitively.
func (l *CandidateList) Filter(query string) *CandidateList {
	q := strings.ToLower(strings.TrimSpace(query))
	out := &CandidateList{StageID: l.StageID, Fingerprint: l.Fingerprint, FetchedAt: l.FetchedAt}
	for _, c := range l.Items {
		if q == "" || strings.Contains(strings.ToLower(c.Label), q) || strings.Contains(strings.ToLower(c.Value), q) {
			out.Items = append(out.Items, c)
		}
	}
	return out
}
