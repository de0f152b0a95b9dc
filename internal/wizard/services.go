package wizard

import "context"

// LookupService fetches candidates for a stage given its upstream selections.
type LookupService interface {
	FetchCandidates(ctx context.Context, stage Stage, upstream Upstream) ([]Candidate, error)
}

// Searcher is an optional LookupService capability for free-text lookups
// such as patient search-as-you-type.
type Searcher interface {
	SearchCandidates(ctx context.Context, stage Stage, upstream Upstream, query string) ([]Candidate, error)
}

// Payload maps submission field names to selected values.
type Payload map[string]string

// Confirmation describes a record created by the submission service.
type Confirmation struct {
	ID               string `json:"id"`
	ConfirmationCode string `json:"confirmation_code"`
	Summary          string `json:"summary,omitempty"`
}

// SubmissionService creates the record a completed wizard describes. It
// returns *ValidationError for rejected payloads; any other error is treated
// as a server error.
type SubmissionService interface {
	CreateRecord(ctx context.Context, payload Payload) (*Confirmation, error)
}

// Metrics receives wizard instrumentation. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveLookup(stage, result string, seconds float64)
	ObserveDedup(stage string)
	ObserveStale(stage string)
	ObserveSubmission(result string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveLookup(string, string, float64) {}
func (noopMetrics) ObserveDedup(string)                   {}
func (noopMetrics) ObserveStale(string)                   {}
func (noopMetrics) ObserveSubmission(string, float64)     {}
