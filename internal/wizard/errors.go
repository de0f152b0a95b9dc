package wizard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrPrerequisiteMissing is returned when a stage is loaded or selected
	// before every stage it depends on has a selection.
	ErrPrerequisiteMissing = errors.New("wizard: prerequisite stage not selected")

	// ErrOutOfOrderSelection is returned when a selection targets a stage
	// ahead of the current stage.
	ErrOutOfOrderSelection = errors.New("wizard: selection ahead of current stage")

	// ErrLookupFailed matches every *LookupError.
	ErrLookupFailed = errors.New("wizard: candidate lookup failed")

	// ErrSubmissionInProgress is returned by Submit while another submit is pending.
	ErrSubmissionInProgress = errors.New("wizard: submission already in progress")

	// ErrValidationFailed matches every *ValidationError.
	ErrValidationFailed = errors.New("wizard: validation failed")

	// ErrServerError matches every *ServerError.
	ErrServerError = errors.New("wizard: submission service error")

	ErrUnknownStage         = errors.New("wizard: unknown stage")
	ErrTerminalStage        = errors.New("wizard: terminal stage takes no selection")
	ErrAtFirstStage         = errors.New("wizard: already at first stage")
	ErrStaleCandidates      = errors.New("wizard: candidates superseded by newer selections")
	ErrSelectionMissing     = errors.New("wizard: current stage has no selection")
	ErrEmptyValue           = errors.New("wizard: selection value is empty")
	ErrCandidateUnavailable = errors.New("wizard: candidate not available")
)

// LookupError reports a failed candidate fetch for one stage.
type LookupError struct {
	StageID StageID
	Stage   string
	Cause   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("wizard: lookup %s (stage %d) failed: %v", e.Stage, e.StageID, e.Cause)
}

func (e *LookupError) Unwrap() error { return e.Cause }

func (e *LookupError) Is(target error) bool { return target == ErrLookupFailed }

// ValidationError carries per-field messages, keyed by payload field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(kv ...string) *ValidationError {
	v := &ValidationError{Fields: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Fields[kv[i]] = kv[i+1]
	}
	return v
}

// Add records a message for field, keeping the first one reported.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

// Empty reports whether no field errors were recorded.
func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "wizard: validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

// ServerError wraps an unexpected failure from the submission service.
type ServerError struct {
	Cause error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("wizard: submission failed: %v", e.Cause)
}

func (e *ServerError) Unwrap() error { return e.Cause }

func (e *ServerError) Is(target error) bool { return target == ErrServerError }
