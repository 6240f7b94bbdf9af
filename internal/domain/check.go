package domain

import (
	"encoding/json"
	"time"
)

// CheckSpec names a check kind plus kind-specific parameters. The check
// engine resolves Kind against its registry; Params is decoded by the
// matching evaluator.
type CheckSpec struct {
	ID     string          `json:"id,omitempty"`
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ReportID returns the identifier used for the check in result reporting:
// the explicit ID when set, otherwise the kind.
func (c CheckSpec) ReportID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Kind
}

// CheckResult is the outcome of one check applied to one Run.
type CheckResult struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Passed  bool           `json:"passed"`
	Details map[string]any `json:"details,omitempty"`
}

// Checklist is a project-scoped, named, reusable set of check specifications,
// addressed by slug from the SDK run path.
type Checklist struct {
	ID        string
	ProjectID string
	OwnerID   string
	Slug      string
	Name      string
	Checks    []CheckSpec
	CreatedAt time.Time
}

// EvaluationResult is the persisted outcome of one expanded job, keyed by
// (evaluation, prompt, variation, model). VariationID is empty for the
// implicit empty-binding variation of a prompt that has none.
type EvaluationResult struct {
	ID           string
	EvaluationID string
	PromptID     string
	VariationID  string
	Model        string

	Status string
	Output string
	Error  string

	Passed  bool
	Results []CheckResult

	Cost             float64
	DurationMS       int64
	PromptTokens     int
	CompletionTokens int

	CreatedAt time.Time
}

// ResultRow joins a persisted result with the prompt content and variation
// bindings it was produced from, for reporting.
type ResultRow struct {
	EvaluationResult
	PromptContent json.RawMessage   `json:"promptContent,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	IdealOutput   string            `json:"idealOutput,omitempty"`
}
