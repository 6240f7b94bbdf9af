// Package checks scores runs against ordered lists of check specifications.
// Dispatch is a registry keyed by kind string so deployments can register
// custom kinds at process start.
package checks

import (
	"context"
	"fmt"

	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/invoker"
)

// Evaluator scores one check kind against a run. Implementations decode
// their own parameters from the spec and must not assume a successful run:
// error-status runs flow through every check unchanged, and each evaluator
// decides how to treat them.
type Evaluator interface {
	Evaluate(ctx context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult
}

// Outcome is the aggregate of evaluating a check list against one run.
type Outcome struct {
	Passed  bool
	Results []domain.CheckResult
}

// Registry maps check kind names to evaluators.
type Registry struct {
	evaluators map[string]Evaluator
}

// Option configures optional evaluators on a Registry.
type Option func(*Registry)

// WithJudge registers the LLM-graded check kind backed by the given provider.
func WithJudge(provider invoker.Provider, model string) Option {
	return func(r *Registry) {
		if provider != nil {
			r.Register(KindLLMJudge, NewJudgeEvaluator(provider, model))
		}
	}
}

// NewRegistry creates a registry with all built-in evaluators registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{evaluators: map[string]Evaluator{}}
	r.Register(KindEquals, equalsEvaluator{})
	r.Register(KindContains, containsEvaluator{})
	r.Register(KindRegex, regexEvaluator{})
	r.Register(KindLength, lengthEvaluator{})
	r.Register(KindJSON, jsonEvaluator{})
	r.Register(KindDuration, durationEvaluator{})
	r.Register(KindCost, costEvaluator{})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the evaluator for a kind.
func (r *Registry) Register(kind string, evaluator Evaluator) {
	if kind == "" || evaluator == nil {
		return
	}
	r.evaluators[kind] = evaluator
}

// Has reports whether a kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.evaluators[kind]
	return ok
}

// Evaluate applies every check to the run in order. The overall outcome is
// the logical AND across individual results; a run with zero checks is
// vacuously passed. An unknown kind fails that single check and never aborts
// the rest of the list.
func (r *Registry) Evaluate(ctx context.Context, run domain.Run, specs []domain.CheckSpec) Outcome {
	outcome := Outcome{
		Passed:  true,
		Results: make([]domain.CheckResult, 0, len(specs)),
	}
	for _, spec := range specs {
		evaluator, ok := r.evaluators[spec.Kind]
		var result domain.CheckResult
		if !ok {
			result = domain.CheckResult{
				ID:     spec.ReportID(),
				Kind:   spec.Kind,
				Passed: false,
				Details: map[string]any{
					"error": fmt.Sprintf("unknown check kind %q", spec.Kind),
				},
			}
		} else {
			result = evaluator.Evaluate(ctx, run, spec)
		}
		if !result.Passed {
			outcome.Passed = false
		}
		outcome.Results = append(outcome.Results, result)
	}
	return outcome
}
