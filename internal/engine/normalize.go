package engine

import (
	"encoding/json"
	"time"

	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/invoker"
)

// Job is one (prompt, variation, model) unit of work produced by expansion.
// It lives only for the duration of orchestration; its result is what gets
// persisted.
type Job struct {
	EvaluationID string
	PromptID     string
	VariationID  string
	Model        string

	RenderedPrompt string
	Variables      map[string]string
	IdealOutput    string
	Context        string
	Extra          map[string]any
}

// runFromInvocation normalizes a successful model invocation into a Run.
// Cost is zero until the cost calculator prices it; DurationSec is derived
// later, exactly once, before checks run.
func runFromInvocation(job Job, res invoker.Result, now time.Time) domain.Run {
	started := now.Add(-res.Duration)
	return domain.Run{
		ID:               domain.PlaceholderID,
		ProjectID:        domain.PlaceholderID,
		Type:             domain.RunTypeLLM,
		Name:             job.Model,
		Input:            stringifyJSON(job.RenderedPrompt),
		Output:           stringifyJSON(res.Output),
		InputText:        job.RenderedPrompt,
		OutputText:       res.Output,
		Status:           domain.RunStatusSuccess,
		DurationMS:       res.Duration.Milliseconds(),
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		CreatedAt:        started.UTC(),
		EndedAt:          now.UTC(),
		IdealOutput:      job.IdealOutput,
		Context:          job.Context,
	}
}

// runFromError normalizes a failed invocation. The run still flows through
// cost calculation and every configured check.
func runFromError(job Job, err error, now time.Time) domain.Run {
	return domain.Run{
		ID:          domain.PlaceholderID,
		ProjectID:   domain.PlaceholderID,
		Type:        domain.RunTypeLLM,
		Name:        job.Model,
		Input:       stringifyJSON(job.RenderedPrompt),
		InputText:   job.RenderedPrompt,
		Status:      domain.RunStatusError,
		Error:       err.Error(),
		CreatedAt:   now.UTC(),
		EndedAt:     now.UTC(),
		IdealOutput: job.IdealOutput,
		Context:     job.Context,
	}
}

// SyntheticInput is a caller-supplied invocation for the single-run path.
type SyntheticInput struct {
	Input       any
	Output      any
	Model       string
	DurationMS  int64
	IdealOutput string
	Context     string
}

// syntheticRun builds a Run for an invocation that happened outside the
// platform. Placeholder ids let downstream consumers recognize that the run
// is not a stored entity; unset fields default deterministically.
func syntheticRun(in SyntheticInput, now time.Time) domain.Run {
	name := in.Model
	if name == "" {
		name = "custom"
	}
	return domain.Run{
		ID:          domain.PlaceholderID,
		ProjectID:   domain.PlaceholderID,
		Type:        domain.RunTypeLLM,
		Name:        name,
		Input:       marshalAny(in.Input),
		Output:      marshalAny(in.Output),
		InputText:   stringifyAny(in.Input),
		OutputText:  stringifyAny(in.Output),
		Status:      domain.RunStatusSuccess,
		DurationMS:  in.DurationMS,
		CreatedAt:   now.UTC(),
		EndedAt:     now.UTC(),
		IdealOutput: in.IdealOutput,
		Context:     in.Context,
	}
}

// finalizeDuration derives the seconds view of the run's latency. It is the
// single conversion point between the millisecond unit cost pricing reads
// and the second unit checks read; calling it twice would double-scale, so
// the orchestrator calls it exactly once per run, after cost and before
// checks.
func finalizeDuration(run *domain.Run) {
	run.DurationSec = float64(run.DurationMS) / 1000.0
}

func stringifyJSON(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func marshalAny(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// stringifyAny renders a request value as text: plain strings stay as-is,
// anything else becomes compact JSON.
func stringifyAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
