package domain

import (
	"encoding/json"
	"time"
)

// Evaluation is a named batch of prompt/model/check combinations. It is
// written once at creation and never mutated afterward; only results
// accumulate against it.
type Evaluation struct {
	ID        string
	Name      string
	OwnerID   string
	ProjectID string
	CreatedAt time.Time

	Models []string

	// Exactly one of Checks (inline specification) or ChecklistID (reference
	// to a project-scoped checklist) is set at creation.
	Checks      []CheckSpec
	ChecklistID string

	// DatasetID is set when the prompts were resolved from a stored dataset.
	DatasetID string

	Prompts []Prompt
}

// Prompt belongs to an Evaluation. Content is either a JSON string holding a
// template, or a JSON array of {role, content} messages whose content fields
// are templates.
type Prompt struct {
	ID           string
	EvaluationID string
	Content      json.RawMessage
	Extra        map[string]any
	Variations   []Variation
}

// Variation binds template variables for one rendering of a Prompt. The
// optional IdealOutput is the reference answer checks may compare against.
type Variation struct {
	ID          string
	PromptID    string
	Variables   map[string]string
	Context     string
	IdealOutput string
}

// EvaluationSummary is the project-listing projection of an Evaluation.
type EvaluationSummary struct {
	ID        string
	Name      string
	OwnerID   string
	ProjectID string
	CreatedAt time.Time
}
