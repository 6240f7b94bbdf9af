package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

type ChecklistStore struct {
	db DB
}

func NewChecklistStore(db DB) *ChecklistStore {
	if db == nil {
		return nil
	}
	return &ChecklistStore{db: db}
}

func (s *ChecklistStore) InsertChecklist(ctx context.Context, checklist domain.Checklist) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("checklist store not initialized")
	}
	if strings.TrimSpace(checklist.ID) == "" {
		return fmt.Errorf("checklist id is required")
	}
	if strings.TrimSpace(checklist.ProjectID) == "" {
		return fmt.Errorf("project id is required")
	}
	if strings.TrimSpace(checklist.Slug) == "" {
		return fmt.Errorf("slug is required")
	}
	checksJSON, err := encodeChecks(checklist.Checks)
	if err != nil {
		return fmt.Errorf("encode checks: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO checklists (checklist_id, project_id, owner_id, slug, name, checks, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		strings.TrimSpace(checklist.ID),
		strings.TrimSpace(checklist.ProjectID),
		strings.TrimSpace(checklist.OwnerID),
		strings.TrimSpace(checklist.Slug),
		strings.TrimSpace(checklist.Name),
		checksJSON,
		normalizeTime(checklist.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert checklist: %w", err)
	}
	return nil
}

const selectChecklistBySlugQuery = `SELECT checklist_id, project_id, owner_id, slug, name, checks, created_at
FROM checklists
WHERE project_id = $1 AND slug = $2`

func (s *ChecklistStore) GetBySlug(ctx context.Context, projectID, slug string) (domain.Checklist, error) {
	return s.get(ctx, selectChecklistBySlugQuery, projectID, slug)
}

const selectChecklistByIDQuery = `SELECT checklist_id, project_id, owner_id, slug, name, checks, created_at
FROM checklists
WHERE project_id = $1 AND checklist_id = $2`

func (s *ChecklistStore) GetByID(ctx context.Context, projectID, id string) (domain.Checklist, error) {
	return s.get(ctx, selectChecklistByIDQuery, projectID, id)
}

func (s *ChecklistStore) get(ctx context.Context, query, projectID, key string) (domain.Checklist, error) {
	if s == nil || s.db == nil {
		return domain.Checklist{}, fmt.Errorf("checklist store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	key = strings.TrimSpace(key)
	if projectID == "" || key == "" {
		return domain.Checklist{}, fmt.Errorf("project id and checklist key are required")
	}

	var (
		checklist  domain.Checklist
		checksJSON []byte
	)
	row := s.db.QueryRowContext(ctx, query, projectID, key)
	if err := row.Scan(&checklist.ID, &checklist.ProjectID, &checklist.OwnerID,
		&checklist.Slug, &checklist.Name, &checksJSON, &checklist.CreatedAt); err != nil {
		return domain.Checklist{}, handleNotFound(err)
	}
	checks, err := decodeChecks(checksJSON)
	if err != nil {
		return domain.Checklist{}, fmt.Errorf("decode checks: %w", err)
	}
	checklist.Checks = checks
	return checklist, nil
}

func (s *ChecklistStore) ListByProject(ctx context.Context, projectID string) ([]domain.Checklist, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("checklist store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT checklist_id, project_id, owner_id, slug, name, checks, created_at
		 FROM checklists
		 WHERE project_id = $1
		 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checklists: %w", err)
	}
	defer rows.Close()

	checklists := make([]domain.Checklist, 0)
	for rows.Next() {
		var (
			checklist  domain.Checklist
			checksJSON []byte
		)
		if err := rows.Scan(&checklist.ID, &checklist.ProjectID, &checklist.OwnerID,
			&checklist.Slug, &checklist.Name, &checksJSON, &checklist.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checklist: %w", err)
		}
		checks, err := decodeChecks(checksJSON)
		if err != nil {
			return nil, fmt.Errorf("decode checks: %w", err)
		}
		checklist.Checks = checks
		checklists = append(checklists, checklist)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checklists: %w", err)
	}
	return checklists, nil
}
