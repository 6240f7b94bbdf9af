// Package invoker abstracts model inference backends behind a small
// capability interface: given a model id and a rendered prompt, produce an
// output plus token counts and latency.
package invoker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Request is one model invocation.
type Request struct {
	Model     string
	Prompt    string
	Variables map[string]string
}

// Result is the normalized outcome of a successful invocation.
type Result struct {
	Output           string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Provider invokes a model. Implementations must honor context cancellation
// so a stuck backend cannot hang a batch indefinitely.
type Provider interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// Router dispatches requests to providers by model-id prefix, longest prefix
// first, with an optional fallback for unmatched models.
type Router struct {
	prefixes []string
	byPrefix map[string]Provider
	fallback Provider
}

func NewRouter() *Router {
	return &Router{byPrefix: map[string]Provider{}}
}

// Register routes model ids starting with prefix to the given provider.
func (r *Router) Register(prefix string, provider Provider) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || provider == nil {
		return
	}
	if _, ok := r.byPrefix[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
		sort.Slice(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i]) > len(r.prefixes[j])
		})
	}
	r.byPrefix[prefix] = provider
}

// SetFallback routes models no prefix matches.
func (r *Router) SetFallback(provider Provider) {
	r.fallback = provider
}

func (r *Router) Invoke(ctx context.Context, req Request) (Result, error) {
	model := strings.ToLower(strings.TrimSpace(req.Model))
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(model, prefix) {
			return r.byPrefix[prefix].Invoke(ctx, req)
		}
	}
	if r.fallback != nil {
		return r.fallback.Invoke(ctx, req)
	}
	return Result{}, fmt.Errorf("no provider registered for model %q", req.Model)
}
