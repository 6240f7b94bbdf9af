package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

type DatasetStore struct {
	db DB
}

func NewDatasetStore(db DB) *DatasetStore {
	if db == nil {
		return nil
	}
	return &DatasetStore{db: db}
}

const selectDatasetPromptsQuery = `SELECT
	d.dataset_id,
	p.prompt_id, p.content, p.extra,
	pv.variation_id, pv.variables, pv.context, pv.ideal_output
FROM datasets d
LEFT JOIN dataset_prompts p ON p.dataset_id = d.dataset_id
LEFT JOIN dataset_prompt_variations pv ON pv.prompt_id = p.prompt_id
WHERE d.project_id = $1 AND d.dataset_id = $2`

// GetPrompts resolves a dataset's prompts with their variations, grouped by
// prompt id. A dataset with no prompts yields an empty slice, not an error;
// a missing dataset yields repo.ErrNotFound.
func (s *DatasetStore) GetPrompts(ctx context.Context, projectID, datasetID string) ([]domain.Prompt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	datasetID = strings.TrimSpace(datasetID)
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("project id and dataset id are required")
	}

	rows, err := s.db.QueryContext(ctx, selectDatasetPromptsQuery, projectID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("get dataset prompts: %w", err)
	}
	defer rows.Close()

	var (
		seen    bool
		prompts = map[string]*domain.Prompt{}
		order   []string
	)
	for rows.Next() {
		var (
			dsID sql.NullString

			promptID      sql.NullString
			promptContent []byte
			promptExtra   []byte

			variationID sql.NullString
			variables   []byte
			varContext  sql.NullString
			idealOutput sql.NullString
		)
		if err := rows.Scan(
			&dsID,
			&promptID, &promptContent, &promptExtra,
			&variationID, &variables, &varContext, &idealOutput,
		); err != nil {
			return nil, fmt.Errorf("scan dataset prompt: %w", err)
		}
		seen = true
		if !promptID.Valid {
			continue
		}
		prompt, ok := prompts[promptID.String]
		if !ok {
			extra, err := decodeJSONMap(promptExtra)
			if err != nil {
				return nil, fmt.Errorf("decode prompt extra: %w", err)
			}
			prompt = &domain.Prompt{
				ID:      promptID.String,
				Content: json.RawMessage(promptContent),
				Extra:   extra,
			}
			prompts[promptID.String] = prompt
			order = append(order, promptID.String)
		}
		if !variationID.Valid {
			continue
		}
		vars, err := decodeStringMap(variables)
		if err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
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
		return nil, fmt.Errorf("get dataset prompts: %w", err)
	}
	if !seen {
		return nil, handleNotFound(sql.ErrNoRows)
	}

	out := make([]domain.Prompt, 0, len(order))
	for _, pid := range order {
		out = append(out, *prompts[pid])
	}
	return out, nil
}
