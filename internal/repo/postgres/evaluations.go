package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

type EvaluationStore struct {
	db DB
}

func NewEvaluationStore(db DB) *EvaluationStore {
	if db == nil {
		return nil
	}
	return &EvaluationStore{db: db}
}

const insertEvaluationQuery = `INSERT INTO evaluations (
	evaluation_id,
	project_id,
	owner_id,
	name,
	models,
	checks,
	checklist_id,
	dataset_id,
	created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

func (s *EvaluationStore) InsertEvaluation(ctx context.Context, evaluation domain.Evaluation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("evaluation store not initialized")
	}
	if strings.TrimSpace(evaluation.ID) == "" {
		return fmt.Errorf("evaluation id is required")
	}
	if strings.TrimSpace(evaluation.ProjectID) == "" {
		return fmt.Errorf("project id is required")
	}
	modelsJSON, err := json.Marshal(evaluation.Models)
	if err != nil {
		return fmt.Errorf("encode models: %w", err)
	}
	checksJSON, err := encodeChecks(evaluation.Checks)
	if err != nil {
		return fmt.Errorf("encode checks: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertEvaluationQuery,
		strings.TrimSpace(evaluation.ID),
		strings.TrimSpace(evaluation.ProjectID),
		strings.TrimSpace(evaluation.OwnerID),
		strings.TrimSpace(evaluation.Name),
		modelsJSON,
		checksJSON,
		nullIfEmpty(evaluation.ChecklistID),
		nullIfEmpty(evaluation.DatasetID),
		normalizeTime(evaluation.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

func (s *EvaluationStore) InsertPrompt(ctx context.Context, prompt domain.Prompt) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("evaluation store not initialized")
	}
	if strings.TrimSpace(prompt.ID) == "" || strings.TrimSpace(prompt.EvaluationID) == "" {
		return fmt.Errorf("prompt id and evaluation id are required")
	}
	extraJSON, err := encodeJSONMap(prompt.Extra)
	if err != nil {
		return fmt.Errorf("encode extra: %w", err)
	}
	content := prompt.Content
	if len(content) == 0 {
		content = json.RawMessage(`""`)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO evaluation_prompts (prompt_id, evaluation_id, content, extra)
		 VALUES ($1,$2,$3,$4)`,
		strings.TrimSpace(prompt.ID),
		strings.TrimSpace(prompt.EvaluationID),
		[]byte(content),
		extraJSON,
	)
	if err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return nil
}

func (s *EvaluationStore) InsertVariation(ctx context.Context, variation domain.Variation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("evaluation store not initialized")
	}
	if strings.TrimSpace(variation.ID) == "" || strings.TrimSpace(variation.PromptID) == "" {
		return fmt.Errorf("variation id and prompt id are required")
	}
	variablesJSON, err := encodeStringMap(variation.Variables)
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO evaluation_prompt_variations (variation_id, prompt_id, variables, context, ideal_output)
		 VALUES ($1,$2,$3,$4,$5)`,
		strings.TrimSpace(variation.ID),
		strings.TrimSpace(variation.PromptID),
		variablesJSON,
		nullIfEmpty(variation.Context),
		nullIfEmpty(variation.IdealOutput),
	)
	if err != nil {
		return fmt.Errorf("insert variation: %w", err)
	}
	return nil
}

const selectEvaluationQuery = `SELECT
	e.evaluation_id, e.project_id, e.owner_id, e.name, e.models, e.checks,
	e.checklist_id, e.dataset_id, e.created_at,
	p.prompt_id, p.content, p.extra,
	pv.variation_id, pv.variables, pv.context, pv.ideal_output
FROM evaluations e
LEFT JOIN evaluation_prompts p ON p.evaluation_id = e.evaluation_id
LEFT JOIN evaluation_prompt_variations pv ON pv.prompt_id = p.prompt_id
WHERE e.evaluation_id = $1`

// GetEvaluation reconstructs the nested evaluation from the flattened join.
// Rows are grouped by prompt id in a single pass, so the result does not
// depend on the order the database returns them in.
func (s *EvaluationStore) GetEvaluation(ctx context.Context, id string) (domain.Evaluation, error) {
	if s == nil || s.db == nil {
		return domain.Evaluation{}, fmt.Errorf("evaluation store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Evaluation{}, fmt.Errorf("evaluation id is required")
	}

	rows, err := s.db.QueryContext(ctx, selectEvaluationQuery, id)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("get evaluation: %w", err)
	}
	defer rows.Close()

	var (
		evaluation domain.Evaluation
		seen       bool
		prompts    = map[string]*domain.Prompt{}
		order      []string
	)
	for rows.Next() {
		var (
			modelsJSON  []byte
			checksJSON  []byte
			checklistID sql.NullString
			datasetID   sql.NullString

			promptID      sql.NullString
			promptContent []byte
			promptExtra   []byte

			variationID sql.NullString
			variables   []byte
			varContext  sql.NullString
			idealOutput sql.NullString
		)
		if err := rows.Scan(
			&evaluation.ID, &evaluation.ProjectID, &evaluation.OwnerID, &evaluation.Name,
			&modelsJSON, &checksJSON, &checklistID, &datasetID, &evaluation.CreatedAt,
			&promptID, &promptContent, &promptExtra,
			&variationID, &variables, &varContext, &idealOutput,
		); err != nil {
			return domain.Evaluation{}, fmt.Errorf("scan evaluation: %w", err)
		}
		if !seen {
			seen = true
			if err := json.Unmarshal(modelsJSON, &evaluation.Models); err != nil {
				return domain.Evaluation{}, fmt.Errorf("decode models: %w", err)
			}
			checks, err := decodeChecks(checksJSON)
			if err != nil {
				return domain.Evaluation{}, fmt.Errorf("decode checks: %w", err)
			}
			evaluation.Checks = checks
			if checklistID.Valid {
				evaluation.ChecklistID = checklistID.String
			}
			if datasetID.Valid {
				evaluation.DatasetID = datasetID.String
			}
		}
		if !promptID.Valid {
			continue
		}
		prompt, ok := prompts[promptID.String]
		if !ok {
			extra, err := decodeJSONMap(promptExtra)
			if err != nil {
				return domain.Evaluation{}, fmt.Errorf("decode prompt extra: %w", err)
			}
			prompt = &domain.Prompt{
				ID:           promptID.String,
				EvaluationID: evaluation.ID,
				Content:      json.RawMessage(promptContent),
				Extra:        extra,
			}
			prompts[promptID.String] = prompt
			order = append(order, promptID.String)
		}
		if !variationID.Valid {
			continue
		}
		vars, err := decodeStringMap(variables)
		if err != nil {
			return domain.Evaluation{}, fmt.Errorf("decode variables: %w", err)
		}
		variation := domain.Variation{
			ID:        variationID.String,
			PromptID:  prompt.ID,
			Variables: vars,
		}
		if varContext.Valid {
			variation.Context = varContext.String
		}
		if idealOutput.Valid {
			variation.IdealOutput = idealOutput.String
		}
		prompt.Variations = append(prompt.Variations, variation)
	}
	if err := rows.Err(); err != nil {
		return domain.Evaluation{}, fmt.Errorf("get evaluation: %w", err)
	}
	if !seen {
		return domain.Evaluation{}, handleNotFound(sql.ErrNoRows)
	}

	evaluation.Prompts = make([]domain.Prompt, 0, len(order))
	for _, pid := range order {
		evaluation.Prompts = append(evaluation.Prompts, *prompts[pid])
	}
	return evaluation, nil
}

const listEvaluationsQuery = `SELECT evaluation_id, name, owner_id, project_id, created_at
FROM evaluations
WHERE project_id = $1
ORDER BY created_at DESC`

func (s *EvaluationStore) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.EvaluationSummary, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("evaluation store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	query := listEvaluationsQuery
	args := []any{projectID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	summaries := make([]domain.EvaluationSummary, 0)
	for rows.Next() {
		var summary domain.EvaluationSummary
		if err := rows.Scan(&summary.ID, &summary.Name, &summary.OwnerID, &summary.ProjectID, &summary.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return summaries, nil
}
