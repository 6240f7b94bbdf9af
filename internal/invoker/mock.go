package invoker

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockProvider is an in-memory Provider for tests. Responses are keyed by
// rendered prompt; prompts without a canned response echo their input.
type MockProvider struct {
	mu        sync.Mutex
	responses map[string]string
	err       error
	failFor   map[string]error
	latency   time.Duration
	calls     []Request
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		responses: map[string]string{},
		failFor:   map[string]error{},
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockProvider) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailWith makes every invocation return err.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FailModelWith makes invocations of one model return err.
func (m *MockProvider) FailModelWith(model string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor[model] = err
}

// SetLatency fixes the reported invocation duration.
func (m *MockProvider) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls returns a copy of every request seen so far.
func (m *MockProvider) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) Invoke(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return Result{}, m.err
	}
	if err, ok := m.failFor[req.Model]; ok {
		return Result{}, err
	}
	output, ok := m.responses[req.Prompt]
	if !ok {
		output = req.Prompt
	}
	return Result{
		Output:           output,
		PromptTokens:     len(strings.Fields(req.Prompt)),
		CompletionTokens: len(strings.Fields(output)),
		Duration:         m.latency,
	}, nil
}
