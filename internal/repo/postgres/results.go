package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

type ResultStore struct {
	db DB
}

func NewResultStore(db DB) *ResultStore {
	if db == nil {
		return nil
	}
	return &ResultStore{db: db}
}

const insertResultQuery = `INSERT INTO evaluation_results (
	result_id,
	evaluation_id,
	prompt_id,
	variation_id,
	model,
	status,
	output,
	error,
	passed,
	results,
	cost,
	duration_ms,
	prompt_tokens,
	completion_tokens,
	created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

func (s *ResultStore) InsertResult(ctx context.Context, result domain.EvaluationResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store not initialized")
	}
	if strings.TrimSpace(result.ID) == "" {
		return fmt.Errorf("result id is required")
	}
	if strings.TrimSpace(result.EvaluationID) == "" {
		return fmt.Errorf("evaluation id is required")
	}
	if strings.TrimSpace(result.PromptID) == "" {
		return fmt.Errorf("prompt id is required")
	}
	if strings.TrimSpace(result.Model) == "" {
		return fmt.Errorf("model is required")
	}
	checkResults := result.Results
	if checkResults == nil {
		checkResults = []domain.CheckResult{}
	}
	resultsJSON, err := json.Marshal(checkResults)
	if err != nil {
		return fmt.Errorf("encode check results: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		insertResultQuery,
		strings.TrimSpace(result.ID),
		strings.TrimSpace(result.EvaluationID),
		strings.TrimSpace(result.PromptID),
		nullIfEmpty(result.VariationID),
		strings.TrimSpace(result.Model),
		strings.TrimSpace(result.Status),
		result.Output,
		nullIfEmpty(result.Error),
		result.Passed,
		resultsJSON,
		result.Cost,
		result.DurationMS,
		result.PromptTokens,
		result.CompletionTokens,
		normalizeTime(result.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

const listResultsQuery = `SELECT
	r.result_id, r.evaluation_id, r.prompt_id, r.variation_id, r.model,
	r.status, r.output, r.error, r.passed, r.results,
	r.cost, r.duration_ms, r.prompt_tokens, r.completion_tokens, r.created_at,
	p.content, pv.variables, pv.ideal_output
FROM evaluation_results r
LEFT JOIN evaluation_prompts p ON p.prompt_id = r.prompt_id
LEFT JOIN evaluation_prompt_variations pv ON pv.variation_id = r.variation_id
WHERE r.evaluation_id = $1
ORDER BY r.created_at ASC, r.result_id ASC`

func (s *ResultStore) ListByEvaluation(ctx context.Context, evaluationID string) ([]domain.ResultRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store not initialized")
	}
	evaluationID = strings.TrimSpace(evaluationID)
	if evaluationID == "" {
		return nil, fmt.Errorf("evaluation id is required")
	}

	rows, err := s.db.QueryContext(ctx, listResultsQuery, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	results := make([]domain.ResultRow, 0)
	for rows.Next() {
		var (
			result        domain.ResultRow
			variationID   sql.NullString
			errMsg        sql.NullString
			resultsJSON   []byte
			promptContent []byte
			variables     []byte
			idealOutput   sql.NullString
		)
		if err := rows.Scan(
			&result.ID, &result.EvaluationID, &result.PromptID, &variationID, &result.Model,
			&result.Status, &result.Output, &errMsg, &result.Passed, &resultsJSON,
			&result.Cost, &result.DurationMS, &result.PromptTokens, &result.CompletionTokens, &result.CreatedAt,
			&promptContent, &variables, &idealOutput,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if variationID.Valid {
			result.VariationID = variationID.String
		}
		if errMsg.Valid {
			result.Error = errMsg.String
		}
		if err := json.Unmarshal(resultsJSON, &result.Results); err != nil {
			return nil, fmt.Errorf("decode check results: %w", err)
		}
		if len(promptContent) > 0 {
			result.PromptContent = json.RawMessage(promptContent)
		}
		if len(variables) > 0 {
			vars, err := decodeStringMap(variables)
			if err != nil {
				return nil, fmt.Errorf("decode variables: %w", err)
			}
			result.Variables = vars
		}
		if idealOutput.Valid {
			result.IdealOutput = idealOutput.String
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}
