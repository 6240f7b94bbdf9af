// Package export writes evaluation result sets to object storage as
// newline-delimited JSON, one record per (prompt, variation, model) job.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

// ObjectStore is the storage surface the exporter needs.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

type Exporter struct {
	logger     *slog.Logger
	store      ObjectStore
	bucket     string
	presignTTL time.Duration
	now        func() time.Time
}

func NewExporter(logger *slog.Logger, store ObjectStore, bucket string) (*Exporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Exporter{
		logger:     logger,
		store:      store,
		bucket:     bucket,
		presignTTL: 1 * time.Hour,
		now:        time.Now,
	}, nil
}

// Info describes one completed export.
type Info struct {
	Key     string `json:"key"`
	URL     string `json:"url"`
	Records int    `json:"records"`
}

type record struct {
	ResultID         string              `json:"resultId"`
	EvaluationID     string              `json:"evaluationId"`
	PromptID         string              `json:"promptId"`
	VariationID      string              `json:"variationId,omitempty"`
	Model            string              `json:"model"`
	Status           string              `json:"status"`
	Output           string              `json:"output"`
	Error            string              `json:"error,omitempty"`
	Passed           bool                `json:"passed"`
	Results          []domain.CheckResult `json:"results"`
	Cost             float64             `json:"cost"`
	DurationMS       int64               `json:"durationMs"`
	PromptTokens     int                 `json:"promptTokens"`
	CompletionTokens int                 `json:"completionTokens"`
	CreatedAt        string              `json:"createdAt"`
	PromptContent    json.RawMessage     `json:"promptContent,omitempty"`
	Variables        map[string]string   `json:"variables,omitempty"`
	IdealOutput      string              `json:"idealOutput,omitempty"`
}

// ExportResults encodes the rows and uploads them under a timestamped
// per-evaluation key. The returned URL is presigned for direct download.
func (e *Exporter) ExportResults(ctx context.Context, evaluationID string, rows []domain.ResultRow) (Info, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	for _, row := range rows {
		if err := enc.Encode(recordFromRow(row)); err != nil {
			return Info{}, fmt.Errorf("encode result %s: %w", row.ID, err)
		}
	}

	key := fmt.Sprintf("evaluations/%s/results-%s.ndjson", evaluationID, e.now().UTC().Format("20060102T150405Z"))
	if err := e.store.Put(ctx, e.bucket, key, &buf, int64(buf.Len()), "application/x-ndjson"); err != nil {
		return Info{}, fmt.Errorf("upload export: %w", err)
	}

	url, err := e.store.PresignGet(ctx, e.bucket, key, e.presignTTL)
	if err != nil {
		return Info{}, fmt.Errorf("presign export: %w", err)
	}

	e.logger.Info("results exported",
		"evaluation_id", evaluationID,
		"key", key,
		"records", len(rows),
	)
	return Info{Key: key, URL: url, Records: len(rows)}, nil
}

func recordFromRow(row domain.ResultRow) record {
	return record{
		ResultID:         row.ID,
		EvaluationID:     row.EvaluationID,
		PromptID:         row.PromptID,
		VariationID:      row.VariationID,
		Model:            row.Model,
		Status:           row.Status,
		Output:           row.Output,
		Error:            row.Error,
		Passed:           row.Passed,
		Results:          row.Results,
		Cost:             row.Cost,
		DurationMS:       row.DurationMS,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		CreatedAt:        row.CreatedAt.UTC().Format(time.RFC3339Nano),
		PromptContent:    row.PromptContent,
		Variables:        row.Variables,
		IdealOutput:      row.IdealOutput,
	}
}
