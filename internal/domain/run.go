package domain

import (
	"encoding/json"
	"time"
)

// PlaceholderID marks a Run that exists only for the duration of a single
// scoring request and is never persisted. Downstream consumers can compare
// against it to recognize synthetic runs.
const PlaceholderID = "00000000-0000-4000-8000-000000000000"

const (
	RunTypeLLM = "llm"

	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// Run is the canonical record of one model invocation. It is a transient
// value: the orchestrator builds it, the cost calculator prices it, and the
// check engine scores it. Only the derived EvaluationResult is stored.
type Run struct {
	ID        string
	ProjectID string
	Type      string
	Name      string

	Input      json.RawMessage
	Output     json.RawMessage
	InputText  string
	OutputText string

	Status string
	Error  string

	// DurationMS is the invocation latency in milliseconds; cost pricing
	// reads it. DurationSec is derived from it exactly once, before checks
	// run, because check parameters are expressed in seconds.
	DurationMS  int64
	DurationSec float64

	PromptTokens     int
	CompletionTokens int
	Cost             float64

	CreatedAt time.Time
	EndedAt   time.Time

	// Present only in evaluation contexts.
	IdealOutput string
	Context     string
}

// Failed reports whether the underlying model invocation errored.
func (r Run) Failed() bool {
	return r.Status == RunStatusError
}

// Synthetic reports whether the run was supplied by a caller rather than
// produced by a model invocation owned by an evaluation.
func (r Run) Synthetic() bool {
	return r.ID == PlaceholderID
}
