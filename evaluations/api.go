package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/engine"
	"github.com/verdict-labs/verdict-go/internal/export"
	"github.com/verdict-labs/verdict-go/internal/platform/auth"
	"github.com/verdict-labs/verdict-go/internal/repo"
)

type evaluationsAPI struct {
	logger     *slog.Logger
	engine     *engine.Orchestrator
	checklists repo.ChecklistRepository
	exporter   *export.Exporter
	now        func() time.Time
}

func newEvaluationsAPI(logger *slog.Logger, orchestrator *engine.Orchestrator, checklists repo.ChecklistRepository, exporter *export.Exporter) *evaluationsAPI {
	return &evaluationsAPI{
		logger:     logger,
		engine:     orchestrator,
		checklists: checklists,
		exporter:   exporter,
		now:        time.Now,
	}
}

func (api *evaluationsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /evaluations", api.handleCreateEvaluation)
	mux.HandleFunc("GET /evaluations", api.handleListEvaluations)
	mux.HandleFunc("POST /evaluations/run", api.handleRunSingle)
	mux.HandleFunc("GET /evaluations/{evaluation_id}", api.handleGetEvaluation)
	mux.HandleFunc("GET /evaluations/{evaluation_id}/results", api.handleListResults)
	mux.HandleFunc("POST /evaluations/{evaluation_id}/export", api.handleExportResults)

	mux.HandleFunc("POST /checklists", api.handleCreateChecklist)
	mux.HandleFunc("GET /checklists", api.handleListChecklists)
	mux.HandleFunc("GET /checklists/{slug}", api.handleGetChecklist)
}

type variationPayload struct {
	Variables   map[string]string `json:"variables,omitempty"`
	Context     string            `json:"context,omitempty"`
	IdealOutput string            `json:"idealOutput,omitempty"`
}

type promptPayload struct {
	ID         string             `json:"id,omitempty"`
	Content    json.RawMessage    `json:"content"`
	Extra      map[string]any     `json:"extra,omitempty"`
	Variations []variationPayload `json:"variations,omitempty"`
}

type createEvaluationRequest struct {
	Name        string             `json:"name,omitempty"`
	Models      []string           `json:"models"`
	Checks      []domain.CheckSpec `json:"checks,omitempty"`
	ChecklistID string             `json:"checklistId,omitempty"`
	Prompts     []promptPayload    `json:"prompts,omitempty"`
	DatasetID   string             `json:"datasetId,omitempty"`
}

// POST /evaluations runs the whole batch before responding; the 201 means
// every job's result is already persisted.
func (api *evaluationsAPI) handleCreateEvaluation(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	projectID, ok := auth.ProjectIDFromContext(r.Context())
	if !ok || projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}

	var req createEvaluationRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	prompts := make([]engine.PromptInput, 0, len(req.Prompts))
	for _, p := range req.Prompts {
		in := engine.PromptInput{Content: p.Content, Extra: p.Extra}
		for _, v := range p.Variations {
			in.Variations = append(in.Variations, engine.VariationInput{
				Variables:   v.Variables,
				Context:     v.Context,
				IdealOutput: v.IdealOutput,
			})
		}
		prompts = append(prompts, in)
	}

	id, err := api.engine.CreateAndRun(r.Context(), engine.CreateRequest{
		ProjectID:   projectID,
		OwnerID:     identity.Subject,
		Name:        strings.TrimSpace(req.Name),
		Models:      req.Models,
		Checks:      req.Checks,
		ChecklistID: strings.TrimSpace(req.ChecklistID),
		Prompts:     prompts,
		DatasetID:   strings.TrimSpace(req.DatasetID),
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrValidation):
			api.writeError(w, r, http.StatusBadRequest, "invalid_request")
		case errors.Is(err, engine.ErrInvalidReference):
			api.writeError(w, r, http.StatusBadRequest, "invalid_reference")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Client went away mid-batch; persisted results remain.
			return
		default:
			api.logger.Error("create evaluation failed", "request_id", r.Header.Get("X-Request-Id"), "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	w.Header().Set("Location", "/evaluations/"+id)
	api.writeJSON(w, http.StatusCreated, map[string]any{"evaluationId": id})
}

type evaluationSummaryView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId,omitempty"`
	ProjectID string    `json:"projectId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (api *evaluationsAPI) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	projectID, ok := auth.ProjectIDFromContext(r.Context())
	if !ok || projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)

	summaries, err := api.engine.ListEvaluations(r.Context(), projectID, limit)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]evaluationSummaryView, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, evaluationSummaryView{
			ID:        s.ID,
			Name:      s.Name,
			OwnerID:   s.OwnerID,
			ProjectID: s.ProjectID,
			CreatedAt: s.CreatedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"evaluations": out})
}

type variationView struct {
	ID          string            `json:"id"`
	Variables   map[string]string `json:"variables,omitempty"`
	Context     string            `json:"context,omitempty"`
	IdealOutput string            `json:"idealOutput,omitempty"`
}

type promptView struct {
	ID         string          `json:"id"`
	Content    json.RawMessage `json:"content"`
	Extra      map[string]any  `json:"extra,omitempty"`
	Variations []variationView `json:"variations"`
}

type evaluationView struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	OwnerID     string             `json:"ownerId,omitempty"`
	ProjectID   string             `json:"projectId"`
	CreatedAt   time.Time          `json:"createdAt"`
	Models      []string           `json:"models"`
	Checks      []domain.CheckSpec `json:"checks,omitempty"`
	ChecklistID string             `json:"checklistId,omitempty"`
	DatasetID   string             `json:"datasetId,omitempty"`
	Prompts     []promptView       `json:"prompts"`
}

func (api *evaluationsAPI) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	evaluation, ok := api.loadScopedEvaluation(w, r)
	if !ok {
		return
	}
	api.writeJSON(w, http.StatusOK, evaluationViewFromDomain(evaluation))
}

// loadScopedEvaluation validates the path id, fetches the evaluation, and
// enforces that it belongs to the caller's project. Out-of-project ids look
// identical to missing ones.
func (api *evaluationsAPI) loadScopedEvaluation(w http.ResponseWriter, r *http.Request) (domain.Evaluation, bool) {
	id := strings.TrimSpace(r.PathValue("evaluation_id"))
	if uuid.Validate(id) != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_evaluation_id")
		return domain.Evaluation{}, false
	}
	projectID, ok := auth.ProjectIDFromContext(r.Context())
	if !ok || projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return domain.Evaluation{}, false
	}

	evaluation, err := api.engine.GetEvaluation(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return domain.Evaluation{}, false
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return domain.Evaluation{}, false
	}
	if evaluation.ProjectID != projectID {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return domain.Evaluation{}, false
	}
	return evaluation, true
}

func evaluationViewFromDomain(evaluation domain.Evaluation) evaluationView {
	prompts := make([]promptView, 0, len(evaluation.Prompts))
	for _, p := range evaluation.Prompts {
		variations := make([]variationView, 0, len(p.Variations))
		for _, v := range p.Variations {
			variations = append(variations, variationView{
				ID:          v.ID,
				Variables:   v.Variables,
				Context:     v.Context,
				IdealOutput: v.IdealOutput,
			})
		}
		prompts = append(prompts, promptView{
			ID:         p.ID,
			Content:    p.Content,
			Extra:      p.Extra,
			Variations: variations,
		})
	}
	return evaluationView{
		ID:          evaluation.ID,
		Name:        evaluation.Name,
		OwnerID:     evaluation.OwnerID,
		ProjectID:   evaluation.ProjectID,
		CreatedAt:   evaluation.CreatedAt,
		Models:      evaluation.Models,
		Checks:      evaluation.Checks,
		ChecklistID: evaluation.ChecklistID,
		DatasetID:   evaluation.DatasetID,
		Prompts:     prompts,
	}
}

type resultView struct {
	ID               string               `json:"id"`
	EvaluationID     string               `json:"evaluationId"`
	PromptID         string               `json:"promptId"`
	VariationID      string               `json:"variationId,omitempty"`
	Model            string               `json:"model"`
	Status           string               `json:"status"`
	Output           string               `json:"output"`
	Error            string               `json:"error,omitempty"`
	Passed           bool                 `json:"passed"`
	Results          []domain.CheckResult `json:"results"`
	Cost             float64              `json:"cost"`
	DurationMS       int64                `json:"durationMs"`
	PromptTokens     int                  `json:"promptTokens"`
	CompletionTokens int                  `json:"completionTokens"`
	CreatedAt        time.Time            `json:"createdAt"`
	PromptContent    json.RawMessage      `json:"promptContent,omitempty"`
	Variables        map[string]string    `json:"variables,omitempty"`
	IdealOutput      string               `json:"idealOutput,omitempty"`
}

func (api *evaluationsAPI) handleListResults(w http.ResponseWriter, r *http.Request) {
	evaluation, ok := api.loadScopedEvaluation(w, r)
	if !ok {
		return
	}

	rows, err := api.engine.ListResults(r.Context(), evaluation.ID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]resultView, 0, len(rows))
	for _, row := range rows {
		out = append(out, resultViewFromRow(row))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func resultViewFromRow(row domain.ResultRow) resultView {
	results := row.Results
	if results == nil {
		results = []domain.CheckResult{}
	}
	return resultView{
		ID:               row.ID,
		EvaluationID:     row.EvaluationID,
		PromptID:         row.PromptID,
		VariationID:      row.VariationID,
		Model:            row.Model,
		Status:           row.Status,
		Output:           row.Output,
		Error:            row.Error,
		Passed:           row.Passed,
		Results:          results,
		Cost:             row.Cost,
		DurationMS:       row.DurationMS,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		CreatedAt:        row.CreatedAt,
		PromptContent:    row.PromptContent,
		Variables:        row.Variables,
		IdealOutput:      row.IdealOutput,
	}
}

func (api *evaluationsAPI) handleExportResults(w http.ResponseWriter, r *http.Request) {
	if api.exporter == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "export_unavailable")
		return
	}
	evaluation, ok := api.loadScopedEvaluation(w, r)
	if !ok {
		return
	}

	rows, err := api.engine.ListResults(r.Context(), evaluation.ID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	info, err := api.exporter.ExportResults(r.Context(), evaluation.ID, rows)
	if err != nil {
		api.logger.Error("export failed", "request_id", r.Header.Get("X-Request-Id"), "evaluation_id", evaluation.ID, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "export_failed")
		return
	}
	api.writeJSON(w, http.StatusOK, info)
}

type runSingleRequest struct {
	Checklist   string `json:"checklist"`
	Input       any    `json:"input,omitempty"`
	Output      any    `json:"output"`
	IdealOutput string `json:"idealOutput,omitempty"`
	Context     string `json:"context,omitempty"`
	Duration    int64  `json:"duration,omitempty"`
	Model       string `json:"model,omitempty"`
}

// POST /evaluations/run scores one caller-supplied run against a checklist
// addressed by slug. Duration is in milliseconds.
func (api *evaluationsAPI) handleRunSingle(w http.ResponseWriter, r *http.Request) {
	projectID, ok := auth.ProjectIDFromContext(r.Context())
	if !ok || projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}

	var req runSingleRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Checklist) == "" {
		api.writeError(w, r, http.StatusBadRequest, "checklist_required")
		return
	}

	resp, err := api.engine.RunSingle(r.Context(), engine.RunSingleRequest{
		ProjectID:     projectID,
		ChecklistSlug: strings.TrimSpace(req.Checklist),
		Input:         req.Input,
		Output:        req.Output,
		IdealOutput:   req.IdealOutput,
		Context:       req.Context,
		DurationMS:    req.Duration,
		Model:         strings.TrimSpace(req.Model),
	})
	if err != nil {
		if errors.Is(err, engine.ErrInvalidChecklist) {
			api.writeError(w, r, http.StatusBadRequest, "invalid_checklist")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, resp)
}

type checklistView struct {
	ID        string             `json:"id"`
	Slug      string             `json:"slug"`
	Name      string             `json:"name"`
	OwnerID   string             `json:"ownerId,omitempty"`
	ProjectID string             `json:"projectId"`
	Checks    []domain.CheckSpec `json:"checks"`
	CreatedAt time.Time          `json:"createdAt"`
}

type createChecklistRequest struct {
	Slug   string             `json:"slug"`
	Name   string             `json:"name,omitempty"`
	Checks []domain.CheckSpec `json:"checks"`
}

func (api *evaluationsAPI) handleCreateChecklist(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	projectID, ok := auth.ProjectIDFromContext(r.Context())
	if !ok || projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}

	var req createChecklistRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		api.writeError(w, r, http.StatusBadRequest, "slug_required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = slug
	}
	for _, check := range req.Checks {
		if strings.TrimSpace(check.Kind) == "" {
			api.writeError(w, r, http.StatusBadRequest, "check_kind_required")
			return
		}
	}

	checklist := domain.Checklist{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		OwnerID:   identity.Subject,
		Slug:      slug,
		Name:      name,
		Checks:    req.Checks,
		CreatedAt: api.now().UTC(),
	}
	if err := api.checklists.InsertChecklist(r.Context(), checklist); err != nil {
		if isUniqueViolation(err) {
			api.writeError(w, r, http.StatusConflict, "slug_exists")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Location", "/checklists/"+slug)
	api.writeJSON(w, http.StatusCreated, checklistViewFromDomain(checklist))
}

func (api *evaluationsAPI) handleListChecklists(w http.ResponseWriter, r *http.Request) {
	projectID, ok := auth.ProjectIDFromContext(r.Context())
	if !ok || projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}

	checklists, err := api.checklists.ListByProject(r.Context(), projectID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]checklistView, 0, len(checklists))
	for _, c := range checklists {
		out = append(out, checklistViewFromDomain(c))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"checklists": out})
}

func (api *evaluationsAPI) handleGetChecklist(w http.ResponseWriter, r *http.Request) {
	projectID, ok := auth.ProjectIDFromContext(r.Context())
	if !ok || projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" {
		api.writeError(w, r, http.StatusBadRequest, "slug_required")
		return
	}

	checklist, err := api.checklists.GetBySlug(r.Context(), projectID, slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, checklistViewFromDomain(checklist))
}

func checklistViewFromDomain(checklist domain.Checklist) checklistView {
	checks := checklist.Checks
	if checks == nil {
		checks = []domain.CheckSpec{}
	}
	return checklistView{
		ID:        checklist.ID,
		Slug:      checklist.Slug,
		Name:      checklist.Name,
		OwnerID:   checklist.OwnerID,
		ProjectID: checklist.ProjectID,
		Checks:    checks,
		CreatedAt: checklist.CreatedAt,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *evaluationsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *evaluationsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
