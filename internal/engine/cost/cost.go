// Package cost prices model runs from a pricing table keyed by model-name
// prefix. Pricing never blocks an evaluation: unknown models fall back to a
// documented default rate.
package cost

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

// Rate is USD per 1000 tokens.
type Rate struct {
	Prompt     float64 `yaml:"prompt"`
	Completion float64 `yaml:"completion"`
}

type modelRate struct {
	Match string `yaml:"match"`
	Rate  `yaml:",inline"`
}

type tableFile struct {
	Models  []modelRate `yaml:"models"`
	Default Rate        `yaml:"default"`
}

// Table maps model names to token rates by longest-prefix match.
type Table struct {
	models   []modelRate
	fallback Rate
}

// DefaultTable covers the common OpenAI and Anthropic chat models, with a
// conservative fallback for anything unrecognized.
func DefaultTable() *Table {
	return newTable(tableFile{
		Models: []modelRate{
			{Match: "gpt-4o-mini", Rate: Rate{Prompt: 0.00015, Completion: 0.0006}},
			{Match: "gpt-4o", Rate: Rate{Prompt: 0.0025, Completion: 0.01}},
			{Match: "gpt-4", Rate: Rate{Prompt: 0.03, Completion: 0.06}},
			{Match: "gpt-3.5-turbo", Rate: Rate{Prompt: 0.0005, Completion: 0.0015}},
			{Match: "claude-3-5-haiku", Rate: Rate{Prompt: 0.0008, Completion: 0.004}},
			{Match: "claude-3-5-sonnet", Rate: Rate{Prompt: 0.003, Completion: 0.015}},
			{Match: "claude-3-opus", Rate: Rate{Prompt: 0.015, Completion: 0.075}},
			{Match: "claude", Rate: Rate{Prompt: 0.003, Completion: 0.015}},
		},
		Default: Rate{Prompt: 0.001, Completion: 0.002},
	})
}

// LoadTable reads a pricing table from a YAML file.
func LoadTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing table: %w", err)
	}
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse pricing table: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("pricing table has no models")
	}
	return newTable(file), nil
}

func newTable(file tableFile) *Table {
	models := make([]modelRate, len(file.Models))
	copy(models, file.Models)
	for i := range models {
		models[i].Match = strings.ToLower(strings.TrimSpace(models[i].Match))
	}
	sort.Slice(models, func(i, j int) bool {
		return len(models[i].Match) > len(models[j].Match)
	})
	return &Table{models: models, fallback: file.Default}
}

// RateFor returns the rate for a model name, falling back to the default
// rate for unknown models.
func (t *Table) RateFor(model string) Rate {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, m := range t.models {
		if strings.HasPrefix(model, m.Match) {
			return m.Rate
		}
	}
	return t.fallback
}

// Cost prices a run from its model name and token counts. Pure: the run is
// not mutated; the caller writes the value back.
func (t *Table) Cost(run domain.Run) float64 {
	rate := t.RateFor(run.Name)
	return float64(run.PromptTokens)/1000.0*rate.Prompt +
		float64(run.CompletionTokens)/1000.0*rate.Completion
}
