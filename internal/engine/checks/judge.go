package checks

import (
	"context"
	"fmt"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/invoker"
)

const judgePromptTemplate = `You are grading the output of a language model.

Input given to the model:
%s

Output produced by the model:
%s
%s%s
Criteria: %s

Answer with a single word, PASS or FAIL, followed by a short reason.`

// JudgeEvaluator grades run output with another model. A judge failure (the
// grading call itself erroring) fails the check rather than the evaluation.
type JudgeEvaluator struct {
	provider invoker.Provider
	model    string
}

func NewJudgeEvaluator(provider invoker.Provider, model string) *JudgeEvaluator {
	return &JudgeEvaluator{provider: provider, model: model}
}

func (e *JudgeEvaluator) Evaluate(ctx context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult {
	var params struct {
		Criteria string `json:"criteria"`
		Model    string `json:"model"`
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return failParams(spec, err)
	}
	if params.Criteria == "" {
		return fail(spec, map[string]any{"error": "llm-judge check requires criteria"})
	}
	model := params.Model
	if model == "" {
		model = e.model
	}

	ideal := ""
	if run.IdealOutput != "" {
		ideal = fmt.Sprintf("\nReference answer:\n%s\n", run.IdealOutput)
	}
	contextNote := ""
	if run.Context != "" {
		contextNote = fmt.Sprintf("\nAdditional context:\n%s\n", run.Context)
	}
	prompt := fmt.Sprintf(judgePromptTemplate, run.InputText, run.OutputText, ideal, contextNote, params.Criteria)

	res, err := e.provider.Invoke(ctx, invoker.Request{Model: model, Prompt: prompt})
	if err != nil {
		return fail(spec, map[string]any{"error": fmt.Sprintf("judge invocation failed: %v", err)})
	}

	verdict := strings.ToUpper(strings.TrimSpace(res.Output))
	passed := strings.HasPrefix(verdict, "PASS")
	details := map[string]any{"verdict": res.Output, "judge_model": model}
	if passed {
		return pass(spec, details)
	}
	return fail(spec, details)
}
