package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/engine"
	"github.com/verdict-labs/verdict-go/internal/engine/checks"
	"github.com/verdict-labs/verdict-go/internal/invoker"
	"github.com/verdict-labs/verdict-go/internal/platform/auth"
	"github.com/verdict-labs/verdict-go/internal/repo"
)

type memEvaluationRepo struct {
	mu          sync.Mutex
	evaluations map[string]domain.Evaluation
	prompts     []domain.Prompt
	variations  []domain.Variation
}

func newMemEvaluationRepo() *memEvaluationRepo {
	return &memEvaluationRepo{evaluations: map[string]domain.Evaluation{}}
}

func (m *memEvaluationRepo) InsertEvaluation(_ context.Context, evaluation domain.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations[evaluation.ID] = evaluation
	return nil
}

func (m *memEvaluationRepo) InsertPrompt(_ context.Context, prompt domain.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return nil
}

func (m *memEvaluationRepo) InsertVariation(_ context.Context, variation domain.Variation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variations = append(m.variations, variation)
	return nil
}

func (m *memEvaluationRepo) GetEvaluation(_ context.Context, id string) (domain.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evaluation, ok := m.evaluations[id]
	if !ok {
		return domain.Evaluation{}, repo.ErrNotFound
	}
	for _, prompt := range m.prompts {
		if prompt.EvaluationID != id {
			continue
		}
		prompt.Variations = nil
		for _, variation := range m.variations {
			if variation.PromptID == prompt.ID {
				prompt.Variations = append(prompt.Variations, variation)
			}
		}
		evaluation.Prompts = append(evaluation.Prompts, prompt)
	}
	return evaluation, nil
}

func (m *memEvaluationRepo) ListByProject(_ context.Context, projectID string, _ int) ([]domain.EvaluationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EvaluationSummary
	for _, e := range m.evaluations {
		if e.ProjectID == projectID {
			out = append(out, domain.EvaluationSummary{ID: e.ID, Name: e.Name, ProjectID: e.ProjectID, CreatedAt: e.CreatedAt})
		}
	}
	return out, nil
}

type memResultRepo struct {
	mu      sync.Mutex
	results []domain.EvaluationResult
}

func (m *memResultRepo) InsertResult(_ context.Context, result domain.EvaluationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return nil
}

func (m *memResultRepo) ListByEvaluation(_ context.Context, evaluationID string) ([]domain.ResultRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ResultRow
	for _, r := range m.results {
		if r.EvaluationID == evaluationID {
			out = append(out, domain.ResultRow{EvaluationResult: r})
		}
	}
	return out, nil
}

type memChecklistRepo struct {
	mu         sync.Mutex
	checklists []domain.Checklist
}

func (m *memChecklistRepo) InsertChecklist(_ context.Context, checklist domain.Checklist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checklists = append(m.checklists, checklist)
	return nil
}

func (m *memChecklistRepo) GetBySlug(_ context.Context, projectID, slug string) (domain.Checklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checklists {
		if c.ProjectID == projectID && c.Slug == slug {
			return c, nil
		}
	}
	return domain.Checklist{}, repo.ErrNotFound
}

func (m *memChecklistRepo) GetByID(_ context.Context, projectID, id string) (domain.Checklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checklists {
		if c.ProjectID == projectID && c.ID == id {
			return c, nil
		}
	}
	return domain.Checklist{}, repo.ErrNotFound
}

func (m *memChecklistRepo) ListByProject(_ context.Context, projectID string) ([]domain.Checklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Checklist
	for _, c := range m.checklists {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func withTestAuth(ctx context.Context) context.Context {
	ctx = auth.ContextWithProjectID(ctx, "proj-1")
	return auth.ContextWithIdentity(ctx, auth.Identity{Subject: "tester", Roles: []string{auth.RoleEditor}})
}

type testEnv struct {
	api        *evaluationsAPI
	mux        *http.ServeMux
	results    *memResultRepo
	checklists *memChecklistRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	results := &memResultRepo{}
	checklists := &memChecklistRepo{}
	orchestrator, err := engine.New(engine.Params{
		Logger:      logger,
		Evaluations: newMemEvaluationRepo(),
		Results:     results,
		Checklists:  checklists,
		Invoker:     invoker.NewMockProvider(),
		Checks:      checks.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	api := newEvaluationsAPI(logger, orchestrator, checklists, nil)
	mux := http.NewServeMux()
	api.register(mux)
	return &testEnv{api: api, mux: mux, results: results, checklists: checklists}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "http://example.test"+target, reader)
	req = req.WithContext(withTestAuth(req.Context()))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateEvaluationEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	body := `{
		"models": ["model-a", "model-b"],
		"checks": [{"kind": "contains", "params": {"value": "hello"}}],
		"prompts": [
			{"content": "\"hello {{name}}\"", "variations": [{"variables": {"name": "world"}}, {"variables": {"name": "go"}}]},
			{"content": "\"hello plain\""}
		]
	}`
	rec := env.do(http.MethodPost, "/evaluations", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		EvaluationID string `json:"evaluationId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if uuid.Validate(resp.EvaluationID) != nil {
		t.Fatalf("evaluationId=%q is not a uuid", resp.EvaluationID)
	}

	// (2 variations + 1 implicit) x 2 models = 6 persisted results.
	env.results.mu.Lock()
	persisted := len(env.results.results)
	env.results.mu.Unlock()
	if persisted != 6 {
		t.Fatalf("persisted results=%d, want 6", persisted)
	}

	get := env.do(http.MethodGet, "/evaluations/"+resp.EvaluationID, "")
	if get.Code != http.StatusOK {
		t.Fatalf("get status=%d", get.Code)
	}
	var view evaluationView
	if err := json.Unmarshal(get.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Prompts) != 2 {
		t.Fatalf("prompts=%d, want 2", len(view.Prompts))
	}
	if len(view.Prompts[0].Variations) != 2 || len(view.Prompts[1].Variations) != 0 {
		t.Fatalf("variation round trip broken: %+v", view.Prompts)
	}

	list := env.do(http.MethodGet, "/evaluations/"+resp.EvaluationID+"/results", "")
	if list.Code != http.StatusOK {
		t.Fatalf("results status=%d", list.Code)
	}
	var listResp struct {
		Results []resultView `json:"results"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(listResp.Results) != 6 {
		t.Fatalf("results=%d, want 6", len(listResp.Results))
	}
}

func TestCreateEvaluationValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/evaluations", `{"models": [], "prompts": [{"content": "\"x\""}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_request") {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/evaluations", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_json") {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/evaluations", `{"models": ["m"], "prompts": [{"content": "\"x\""}], "checklistId": "missing"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_reference") {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestGetEvaluationIDValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/evaluations/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_evaluation_id") {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/evaluations/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestRunSingleEndpoint(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(http.MethodPost, "/checklists", `{
		"slug": "quality-gate",
		"checks": [
			{"kind": "contains", "params": {"value": "paris"}},
			{"kind": "duration", "params": {"max": 3}}
		]
	}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("create checklist status=%d body=%s", created.Code, created.Body.String())
	}

	rec := env.do(http.MethodPost, "/evaluations/run", `{
		"checklist": "quality-gate",
		"input": "capital of France?",
		"output": "Paris.",
		"duration": 2000
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp engine.RunSingleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Passed || len(resp.Results) != 2 {
		t.Fatalf("unexpected outcome: %+v", resp)
	}

	rec = env.do(http.MethodPost, "/evaluations/run", `{"checklist": "nope", "output": "x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_checklist") {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/evaluations/run", `{"output": "x"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "checklist_required") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestChecklistLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/checklists", `{"slug": "gate", "name": "Gate", "checks": []}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/checklists/gate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status=%d", rec.Code)
	}
	var view checklistView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Slug != "gate" || view.Name != "Gate" || view.ProjectID != "proj-1" {
		t.Fatalf("view=%+v", view)
	}

	rec = env.do(http.MethodGet, "/checklists", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "\"gate\"") {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/checklists/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}

	rec = env.do(http.MethodPost, "/checklists", `{"slug": ""}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "slug_required") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestExportUnavailableWithoutObjectStore(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/evaluations/"+uuid.NewString()+"/export", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "export_unavailable") {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestDecodeJSON_RejectsExtraValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.test/", strings.NewReader(`{"models": []} {"models": []}`))
	var dst createEvaluationRequest
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeJSON_DisallowUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.test/", strings.NewReader(`{"models": [], "bogus": 1}`))
	var dst createEvaluationRequest
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error")
	}
}
