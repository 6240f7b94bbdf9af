package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

// Built-in check kinds.
const (
	KindEquals   = "equals"
	KindContains = "contains"
	KindRegex    = "regex"
	KindLength   = "length"
	KindJSON     = "json"
	KindDuration = "duration"
	KindCost     = "cost"
	KindLLMJudge = "llm-judge"
)

// maxRegexPatternLength caps user-supplied patterns to prevent ReDoS-sized
// inputs from being compiled.
const maxRegexPatternLength = 10000

func pass(spec domain.CheckSpec, details map[string]any) domain.CheckResult {
	return domain.CheckResult{ID: spec.ReportID(), Kind: spec.Kind, Passed: true, Details: details}
}

func fail(spec domain.CheckSpec, details map[string]any) domain.CheckResult {
	return domain.CheckResult{ID: spec.ReportID(), Kind: spec.Kind, Passed: false, Details: details}
}

func failParams(spec domain.CheckSpec, err error) domain.CheckResult {
	return fail(spec, map[string]any{"error": fmt.Sprintf("invalid params: %v", err)})
}

// equalsEvaluator compares the run output to an expected value, or to the
// run's ideal output when no value is configured.
type equalsEvaluator struct{}

func (equalsEvaluator) Evaluate(_ context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult {
	var params struct {
		Value         string `json:"value"`
		CaseSensitive bool   `json:"case_sensitive"`
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return failParams(spec, err)
	}
	expected := params.Value
	if expected == "" {
		expected = run.IdealOutput
	}
	if expected == "" {
		return fail(spec, map[string]any{"error": "no expected value configured and run has no ideal output"})
	}
	got := run.OutputText
	want := expected
	if !params.CaseSensitive {
		got = strings.ToLower(got)
		want = strings.ToLower(want)
	}
	if strings.TrimSpace(got) == strings.TrimSpace(want) {
		return pass(spec, map[string]any{"expected": expected})
	}
	return fail(spec, map[string]any{"expected": expected, "output": run.OutputText})
}

type containsEvaluator struct{}

func (containsEvaluator) Evaluate(_ context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult {
	var params struct {
		Value         string `json:"value"`
		CaseSensitive bool   `json:"case_sensitive"`
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return failParams(spec, err)
	}
	if params.Value == "" {
		return fail(spec, map[string]any{"error": "contains check requires a value"})
	}
	haystack := run.OutputText
	needle := params.Value
	if !params.CaseSensitive {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}
	if strings.Contains(haystack, needle) {
		return pass(spec, map[string]any{"value": params.Value})
	}
	return fail(spec, map[string]any{"value": params.Value, "output": run.OutputText})
}

type regexEvaluator struct{}

func (regexEvaluator) Evaluate(_ context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult {
	var params struct {
		Pattern string `json:"pattern"`
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return failParams(spec, err)
	}
	if params.Pattern == "" {
		return fail(spec, map[string]any{"error": "regex check requires a pattern"})
	}
	if len(params.Pattern) > maxRegexPatternLength {
		return fail(spec, map[string]any{"error": "regex pattern too long"})
	}
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return fail(spec, map[string]any{"error": fmt.Sprintf("invalid pattern: %v", err)})
	}
	if re.MatchString(run.OutputText) {
		return pass(spec, map[string]any{"pattern": params.Pattern})
	}
	return fail(spec, map[string]any{"pattern": params.Pattern, "output": run.OutputText})
}

type lengthEvaluator struct{}

func (lengthEvaluator) Evaluate(_ context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult {
	var params struct {
		Min int `json:"min"`
		Max int `json:"max"`
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return failParams(spec, err)
	}
	length := len(run.OutputText)
	details := map[string]any{"length": length, "min": params.Min, "max": params.Max}
	if length < params.Min {
		return fail(spec, details)
	}
	if params.Max > 0 && length > params.Max {
		return fail(spec, details)
	}
	return pass(spec, details)
}

// jsonEvaluator passes when the output parses as JSON.
type jsonEvaluator struct{}

func (jsonEvaluator) Evaluate(_ context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult {
	var out any
	if err := json.Unmarshal([]byte(run.OutputText), &out); err != nil {
		return fail(spec, map[string]any{"error": fmt.Sprintf("output is not valid JSON: %v", err)})
	}
	return pass(spec, nil)
}

// durationEvaluator bounds run latency. Max is in seconds; runs carry
// seconds at check time.
type durationEvaluator struct{}

func (durationEvaluator) Evaluate(_ context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult {
	var params struct {
		Max float64 `json:"max"`
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return failParams(spec, err)
	}
	if params.Max <= 0 {
		return fail(spec, map[string]any{"error": "duration check requires a positive max"})
	}
	details := map[string]any{"seconds": run.DurationSec, "max": params.Max}
	if run.DurationSec > params.Max {
		return fail(spec, details)
	}
	return pass(spec, details)
}

// costEvaluator bounds run cost in USD.
type costEvaluator struct{}

func (costEvaluator) Evaluate(_ context.Context, run domain.Run, spec domain.CheckSpec) domain.CheckResult {
	var params struct {
		Max float64 `json:"max"`
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return failParams(spec, err)
	}
	if params.Max <= 0 {
		return fail(spec, map[string]any{"error": "cost check requires a positive max"})
	}
	details := map[string]any{"cost": run.Cost, "max": params.Max}
	if run.Cost > params.Max {
		return fail(spec, details)
	}
	return pass(spec, details)
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
