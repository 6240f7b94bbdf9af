// Package engine expands evaluation definitions into concurrent batches of
// model invocations, scores each run against its checks, and persists the
// per-job results.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/engine/checks"
	"github.com/verdict-labs/verdict-go/internal/engine/cost"
	"github.com/verdict-labs/verdict-go/internal/invoker"
	"github.com/verdict-labs/verdict-go/internal/repo"
)

// Params collects the orchestrator's collaborators.
type Params struct {
	Logger      *slog.Logger
	Evaluations repo.EvaluationRepository
	Results     repo.ResultRepository
	Checklists  repo.ChecklistRepository
	Datasets    repo.DatasetRepository
	Invoker     invoker.Provider
	Checks      *checks.Registry
	Pricing     *cost.Table

	// MaxConcurrency additionally caps the width of a variation group.
	// Zero means the group runs at its natural width (one slot per model).
	MaxConcurrency int

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

type Orchestrator struct {
	logger      *slog.Logger
	evaluations repo.EvaluationRepository
	results     repo.ResultRepository
	checklists  repo.ChecklistRepository
	datasets    repo.DatasetRepository
	invoker     invoker.Provider
	checks      *checks.Registry
	pricing     *cost.Table
	maxWidth    int
	now         func() time.Time
}

func New(p Params) (*Orchestrator, error) {
	if p.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if p.Evaluations == nil || p.Results == nil || p.Checklists == nil {
		return nil, fmt.Errorf("evaluation, result, and checklist repositories are required")
	}
	if p.Invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if p.Checks == nil {
		return nil, fmt.Errorf("check registry is required")
	}
	if p.Pricing == nil {
		p.Pricing = cost.DefaultTable()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Orchestrator{
		logger:      p.Logger,
		evaluations: p.Evaluations,
		results:     p.Results,
		checklists:  p.Checklists,
		datasets:    p.Datasets,
		invoker:     p.Invoker,
		checks:      p.Checks,
		pricing:     p.Pricing,
		maxWidth:    p.MaxConcurrency,
		now:         p.Now,
	}, nil
}

// VariationInput is one set of variable bindings supplied at creation.
type VariationInput struct {
	Variables   map[string]string
	Context     string
	IdealOutput string
}

// PromptInput is one prompt supplied inline at creation.
type PromptInput struct {
	Content    json.RawMessage
	Extra      map[string]any
	Variations []VariationInput
}

// CreateRequest is the unified batch-creation entry point. Exactly one
// prompt source must be set: inline Prompts or a DatasetID reference.
// Checks come either inline or through ChecklistID.
type CreateRequest struct {
	ProjectID string
	OwnerID   string

	Name   string
	Models []string

	Checks      []domain.CheckSpec
	ChecklistID string

	Prompts   []PromptInput
	DatasetID string
}

// CreateAndRun validates and persists the definition, expands it into the
// full (prompt x variation x model) product, runs every job, and returns the
// evaluation id once every job's result has been persisted.
//
// Job failures never fail the batch; only validation and definition
// persistence do. Cancellation mid-batch stops dispatching further variation
// groups and returns the id together with the context error; results already
// persisted remain.
func (o *Orchestrator) CreateAndRun(ctx context.Context, req CreateRequest) (string, error) {
	evaluation, err := o.buildDefinition(ctx, req)
	if err != nil {
		return "", err
	}
	specs, err := o.resolveChecks(ctx, req.ProjectID, evaluation)
	if err != nil {
		return "", err
	}

	if err := o.persistDefinition(ctx, evaluation); err != nil {
		return "", fmt.Errorf("persist evaluation definition: %w", err)
	}

	groups := expand(evaluation)
	o.logger.Info("evaluation dispatch",
		"evaluation_id", evaluation.ID,
		"prompts", len(evaluation.Prompts),
		"models", len(evaluation.Models),
		"groups", len(groups),
	)

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return evaluation.ID, err
		}
		o.runGroup(ctx, group, specs)
	}
	return evaluation.ID, nil
}

func (o *Orchestrator) buildDefinition(ctx context.Context, req CreateRequest) (domain.Evaluation, error) {
	if req.ProjectID == "" {
		return domain.Evaluation{}, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	if len(req.Models) == 0 {
		return domain.Evaluation{}, fmt.Errorf("%w: at least one model is required", ErrValidation)
	}
	if len(req.Prompts) > 0 && req.DatasetID != "" {
		return domain.Evaluation{}, fmt.Errorf("%w: prompts and datasetId are mutually exclusive", ErrValidation)
	}
	if len(req.Prompts) == 0 && req.DatasetID == "" {
		return domain.Evaluation{}, fmt.Errorf("%w: either prompts or datasetId is required", ErrValidation)
	}
	if len(req.Checks) > 0 && req.ChecklistID != "" {
		return domain.Evaluation{}, fmt.Errorf("%w: checks and checklistId are mutually exclusive", ErrValidation)
	}

	now := o.now().UTC()
	name := req.Name
	if name == "" {
		name = "Evaluation of " + now.Format("Jan 2, 2006 at 15:04")
	}

	evaluation := domain.Evaluation{
		ID:          uuid.NewString(),
		Name:        name,
		OwnerID:     req.OwnerID,
		ProjectID:   req.ProjectID,
		CreatedAt:   now,
		Models:      req.Models,
		Checks:      req.Checks,
		ChecklistID: req.ChecklistID,
		DatasetID:   req.DatasetID,
	}

	prompts, err := o.resolvePrompts(ctx, req, evaluation.ID)
	if err != nil {
		return domain.Evaluation{}, err
	}
	if len(prompts) == 0 {
		return domain.Evaluation{}, fmt.Errorf("%w: at least one prompt is required", ErrValidation)
	}
	evaluation.Prompts = prompts
	return evaluation, nil
}

// resolvePrompts materializes the prompt set from whichever source the
// request carries. Dataset prompts are snapshotted under fresh ids so the
// stored definition stays self-contained even if the dataset changes later.
func (o *Orchestrator) resolvePrompts(ctx context.Context, req CreateRequest, evaluationID string) ([]domain.Prompt, error) {
	if req.DatasetID != "" {
		if o.datasets == nil {
			return nil, fmt.Errorf("%w: dataset-driven evaluations are not enabled", ErrValidation)
		}
		source, err := o.datasets.GetPrompts(ctx, req.ProjectID, req.DatasetID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fmt.Errorf("%w: dataset %s", ErrInvalidReference, req.DatasetID)
			}
			return nil, fmt.Errorf("resolve dataset prompts: %w", err)
		}
		prompts := make([]domain.Prompt, 0, len(source))
		for _, src := range source {
			prompt := domain.Prompt{
				ID:           uuid.NewString(),
				EvaluationID: evaluationID,
				Content:      src.Content,
				Extra:        src.Extra,
			}
			for _, v := range src.Variations {
				prompt.Variations = append(prompt.Variations, domain.Variation{
					ID:          uuid.NewString(),
					PromptID:    prompt.ID,
					Variables:   v.Variables,
					Context:     v.Context,
					IdealOutput: v.IdealOutput,
				})
			}
			prompts = append(prompts, prompt)
		}
		return prompts, nil
	}

	prompts := make([]domain.Prompt, 0, len(req.Prompts))
	for _, in := range req.Prompts {
		prompt := domain.Prompt{
			ID:           uuid.NewString(),
			EvaluationID: evaluationID,
			Content:      in.Content,
			Extra:        in.Extra,
		}
		for _, v := range in.Variations {
			prompt.Variations = append(prompt.Variations, domain.Variation{
				ID:          uuid.NewString(),
				PromptID:    prompt.ID,
				Variables:   v.Variables,
				Context:     v.Context,
				IdealOutput: v.IdealOutput,
			})
		}
		prompts = append(prompts, prompt)
	}
	return prompts, nil
}

func (o *Orchestrator) resolveChecks(ctx context.Context, projectID string, evaluation domain.Evaluation) ([]domain.CheckSpec, error) {
	if evaluation.ChecklistID == "" {
		return evaluation.Checks, nil
	}
	checklist, err := o.checklists.GetByID(ctx, projectID, evaluation.ChecklistID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: checklist %s", ErrInvalidReference, evaluation.ChecklistID)
		}
		return nil, fmt.Errorf("resolve checklist: %w", err)
	}
	return checklist.Checks, nil
}

// persistDefinition writes the evaluation, prompts, and variations before any
// job executes, so a crash mid-run leaves an inspectable definition.
func (o *Orchestrator) persistDefinition(ctx context.Context, evaluation domain.Evaluation) error {
	if err := o.evaluations.InsertEvaluation(ctx, evaluation); err != nil {
		return err
	}
	for _, prompt := range evaluation.Prompts {
		if err := o.evaluations.InsertPrompt(ctx, prompt); err != nil {
			return err
		}
		for _, variation := range prompt.Variations {
			if err := o.evaluations.InsertVariation(ctx, variation); err != nil {
				return err
			}
		}
	}
	return nil
}

// expand emits the strict cartesian product of prompts, variations, and
// models, grouped by variation. A prompt with no variations contributes one
// implicit group with empty bindings — it is never skipped.
func expand(evaluation domain.Evaluation) [][]Job {
	var groups [][]Job
	for _, prompt := range evaluation.Prompts {
		variations := prompt.Variations
		if len(variations) == 0 {
			variations = []domain.Variation{{PromptID: prompt.ID}}
		}
		for _, variation := range variations {
			group := make([]Job, 0, len(evaluation.Models))
			for _, model := range evaluation.Models {
				group = append(group, Job{
					EvaluationID: evaluation.ID,
					PromptID:     prompt.ID,
					VariationID:  variation.ID,
					Model:        model,
					Variables:    variation.Variables,
					IdealOutput:  variation.IdealOutput,
					Context:      variation.Context,
					Extra:        prompt.Extra,
				})
			}
			groups = append(groups, group)
		}
	}

	// Rendering happens once per (prompt, variation) and is shared across
	// the group's models.
	for gi := range groups {
		if len(groups[gi]) == 0 {
			continue
		}
		prompt := findPrompt(evaluation.Prompts, groups[gi][0].PromptID)
		rendered, err := RenderPrompt(prompt.Content, groups[gi][0].Variables)
		if err != nil {
			rendered = ""
		}
		for ji := range groups[gi] {
			groups[gi][ji].RenderedPrompt = rendered
		}
	}
	return groups
}

func findPrompt(prompts []domain.Prompt, id string) domain.Prompt {
	for _, p := range prompts {
		if p.ID == id {
			return p
		}
	}
	return domain.Prompt{}
}

// runGroup dispatches every job of one variation group concurrently and
// blocks until each job has run and its result write has returned. The
// barrier bounds concurrent invoker load to the model-list width.
func (o *Orchestrator) runGroup(ctx context.Context, group []Job, specs []domain.CheckSpec) {
	var g errgroup.Group
	if o.maxWidth > 0 {
		g.SetLimit(o.maxWidth)
	}
	for _, job := range group {
		g.Go(func() error {
			o.runJob(ctx, job, specs)
			return nil
		})
	}
	_ = g.Wait()
}

// runJob owns one result row: invoke, normalize, price, convert duration,
// score, persist. An invoker failure becomes an error-status run that is
// still scored; a result-write failure is logged and never propagates to
// sibling jobs.
func (o *Orchestrator) runJob(ctx context.Context, job Job, specs []domain.CheckSpec) {
	var run domain.Run
	res, err := o.invoker.Invoke(ctx, invoker.Request{
		Model:     job.Model,
		Prompt:    job.RenderedPrompt,
		Variables: job.Variables,
	})
	if err != nil {
		o.logger.Warn("model invocation failed",
			"evaluation_id", job.EvaluationID,
			"prompt_id", job.PromptID,
			"model", job.Model,
			"error", err,
		)
		run = runFromError(job, err, o.now())
	} else {
		run = runFromInvocation(job, res, o.now())
	}

	run.Cost = o.pricing.Cost(run)
	finalizeDuration(&run)

	outcome := o.checks.Evaluate(ctx, run, specs)

	result := domain.EvaluationResult{
		ID:               uuid.NewString(),
		EvaluationID:     job.EvaluationID,
		PromptID:         job.PromptID,
		VariationID:      job.VariationID,
		Model:            job.Model,
		Status:           run.Status,
		Output:           run.OutputText,
		Error:            run.Error,
		Passed:           outcome.Passed,
		Results:          outcome.Results,
		Cost:             run.Cost,
		DurationMS:       run.DurationMS,
		PromptTokens:     run.PromptTokens,
		CompletionTokens: run.CompletionTokens,
		CreatedAt:        o.now().UTC(),
	}
	if err := o.results.InsertResult(ctx, result); err != nil {
		o.logger.Error("persist result failed",
			"evaluation_id", job.EvaluationID,
			"prompt_id", job.PromptID,
			"model", job.Model,
			"error", err,
		)
	}
}

// RunSingleRequest is the SDK-facing single-run scoring request. DurationMS
// is the caller-reported latency in milliseconds.
type RunSingleRequest struct {
	ProjectID     string
	ChecklistSlug string

	Input       any
	Output      any
	IdealOutput string
	Context     string
	DurationMS  int64
	Model       string
}

// RunSingleResponse is the check outcome for one synthetic run.
type RunSingleResponse struct {
	Passed  bool                 `json:"passed"`
	Results []domain.CheckResult `json:"results"`
}

// RunSingle scores a caller-supplied run against a checklist without
// creating any evaluation or job entities. It fails fast only on checklist
// lookup; every other path returns a pass/fail structure.
func (o *Orchestrator) RunSingle(ctx context.Context, req RunSingleRequest) (RunSingleResponse, error) {
	checklist, err := o.checklists.GetBySlug(ctx, req.ProjectID, req.ChecklistSlug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return RunSingleResponse{}, fmt.Errorf("%w: slug %q", ErrInvalidChecklist, req.ChecklistSlug)
		}
		return RunSingleResponse{}, fmt.Errorf("checklist lookup: %w", err)
	}

	run := syntheticRun(SyntheticInput{
		Input:       req.Input,
		Output:      req.Output,
		Model:       req.Model,
		DurationMS:  req.DurationMS,
		IdealOutput: req.IdealOutput,
		Context:     req.Context,
	}, o.now())

	run.Cost = o.pricing.Cost(run)
	finalizeDuration(&run)

	outcome := o.checks.Evaluate(ctx, run, checklist.Checks)
	results := outcome.Results
	if results == nil {
		results = []domain.CheckResult{}
	}
	return RunSingleResponse{Passed: outcome.Passed, Results: results}, nil
}

// GetEvaluation returns the nested definition, or repo.ErrNotFound.
func (o *Orchestrator) GetEvaluation(ctx context.Context, id string) (domain.Evaluation, error) {
	return o.evaluations.GetEvaluation(ctx, id)
}

// ListResults returns an evaluation's persisted results in creation order,
// joined with prompt and variation content.
func (o *Orchestrator) ListResults(ctx context.Context, evaluationID string) ([]domain.ResultRow, error) {
	return o.results.ListByEvaluation(ctx, evaluationID)
}

// ListEvaluations returns a project's evaluations, newest first.
func (o *Orchestrator) ListEvaluations(ctx context.Context, projectID string, limit int) ([]domain.EvaluationSummary, error) {
	return o.evaluations.ListByProject(ctx, projectID, limit)
}
