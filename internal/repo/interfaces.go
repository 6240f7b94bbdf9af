package repo

import (
	"context"
	"errors"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

// ErrNotFound is returned by stores when a row is absent.
var ErrNotFound = errors.New("not found")

// EvaluationRepository is the durable store for evaluation definitions and
// their nested prompts and variations.
type EvaluationRepository interface {
	InsertEvaluation(ctx context.Context, evaluation domain.Evaluation) error
	InsertPrompt(ctx context.Context, prompt domain.Prompt) error
	InsertVariation(ctx context.Context, variation domain.Variation) error

	// GetEvaluation returns the evaluation with prompts and variations
	// nested, regardless of the row order the underlying join produces.
	GetEvaluation(ctx context.Context, id string) (domain.Evaluation, error)

	ListByProject(ctx context.Context, projectID string, limit int) ([]domain.EvaluationSummary, error)
}

// ResultRepository stores one row per expanded evaluation job. Listing
// returns rows joined with their prompt and variation content.
type ResultRepository interface {
	InsertResult(ctx context.Context, result domain.EvaluationResult) error
	ListByEvaluation(ctx context.Context, evaluationID string) ([]domain.ResultRow, error)
}

// ChecklistRepository stores project-scoped named check sets.
type ChecklistRepository interface {
	InsertChecklist(ctx context.Context, checklist domain.Checklist) error
	GetBySlug(ctx context.Context, projectID, slug string) (domain.Checklist, error)
	GetByID(ctx context.Context, projectID, id string) (domain.Checklist, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.Checklist, error)
}

// DatasetRepository resolves stored prompt sets for dataset-driven
// evaluations.
type DatasetRepository interface {
	// GetPrompts returns the prompts (with variations) of a dataset scoped
	// to a project, or ErrNotFound when the dataset is absent.
	GetPrompts(ctx context.Context, projectID, datasetID string) ([]domain.Prompt, error)
}
