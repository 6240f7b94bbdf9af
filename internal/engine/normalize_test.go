package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/verdict-labs/verdict-go/internal/domain"
	"github.com/verdict-labs/verdict-go/internal/invoker"
)

func TestSyntheticRunDefaults(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	run := syntheticRun(SyntheticInput{Input: "a question", Output: "an answer"}, now)

	if run.ID != domain.PlaceholderID || run.ProjectID != domain.PlaceholderID {
		t.Fatalf("expected placeholder ids, got %s / %s", run.ID, run.ProjectID)
	}
	if !run.Synthetic() {
		t.Fatalf("expected run to identify as synthetic")
	}
	if run.Name != "custom" {
		t.Fatalf("expected default model name custom, got %q", run.Name)
	}
	if run.Status != domain.RunStatusSuccess {
		t.Fatalf("expected success status, got %q", run.Status)
	}
	if run.PromptTokens != 0 || run.CompletionTokens != 0 || run.Cost != 0 {
		t.Fatalf("expected zero token counts and cost before pricing")
	}
	if !run.CreatedAt.Equal(now) || !run.EndedAt.Equal(now) {
		t.Fatalf("expected both timestamps to default to now")
	}
	if run.InputText != "a question" || run.OutputText != "an answer" {
		t.Fatalf("unexpected text fields: %q / %q", run.InputText, run.OutputText)
	}
}

func TestSyntheticRunStringifiesStructuredValues(t *testing.T) {
	run := syntheticRun(SyntheticInput{
		Input:  map[string]any{"question": "why"},
		Output: []any{"because"},
	}, time.Now())

	if run.InputText != `{"question":"why"}` {
		t.Fatalf("input text = %q", run.InputText)
	}
	if run.OutputText != `["because"]` {
		t.Fatalf("output text = %q", run.OutputText)
	}
}

func TestRunFromInvocation(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	job := Job{
		EvaluationID:   "eval-1",
		Model:          "gpt-4o",
		RenderedPrompt: "say hi",
		IdealOutput:    "hi",
	}
	res := invoker.Result{
		Output:           "hi there",
		PromptTokens:     3,
		CompletionTokens: 2,
		Duration:         1500 * time.Millisecond,
	}

	run := runFromInvocation(job, res, now)
	if run.Status != domain.RunStatusSuccess {
		t.Fatalf("expected success status")
	}
	if run.DurationMS != 1500 {
		t.Fatalf("duration ms = %d", run.DurationMS)
	}
	if run.DurationSec != 0 {
		t.Fatalf("seconds must not be derived during normalization")
	}
	if run.Name != "gpt-4o" || run.IdealOutput != "hi" {
		t.Fatalf("job context not carried onto run")
	}
	if !run.EndedAt.Equal(now) || !run.CreatedAt.Equal(now.Add(-1500*time.Millisecond)) {
		t.Fatalf("unexpected timestamps: %v .. %v", run.CreatedAt, run.EndedAt)
	}
}

func TestRunFromError(t *testing.T) {
	run := runFromError(Job{Model: "gpt-4o"}, errors.New("upstream timeout"), time.Now())
	if !run.Failed() {
		t.Fatalf("expected error status")
	}
	if run.Error != "upstream timeout" {
		t.Fatalf("error text = %q", run.Error)
	}
	if run.OutputText != "" {
		t.Fatalf("expected empty output on failed invocation")
	}
}

func TestFinalizeDurationConvertsExactlyOnce(t *testing.T) {
	run := domain.Run{DurationMS: 2000}
	finalizeDuration(&run)

	// Milliseconds stay intact for the pricing view; seconds are the
	// derived check view. The two differ by exactly the scale factor.
	if run.DurationMS != 2000 {
		t.Fatalf("milliseconds were rescaled: %d", run.DurationMS)
	}
	if run.DurationSec != 2.0 {
		t.Fatalf("seconds = %v, want 2.0", run.DurationSec)
	}
}
