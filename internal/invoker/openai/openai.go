// Package openai implements invoker.Provider over the OpenAI Chat
// Completions API using the official client.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/verdict-labs/verdict-go/internal/invoker"
)

// Options configure the OpenAI provider. Fields mirror a minimal subset of
// Chat Completion parameters; extend via functional options.
type Options struct {
	APIKey              string
	Temperature         float64
	MaxCompletionTokens int64
}

type Provider struct {
	client *openai.Client
	opts   Options
}

func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Temperature:         0,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Temperature:         0,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

func (p *Provider) Invoke(ctx context.Context, req invoker.Request) (invoker.Result, error) {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		return invoker.Result{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return invoker.Result{}, fmt.Errorf("openai: no choices returned")
	}

	return invoker.Result{
		Output:           resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Duration:         elapsed,
	}, nil
}
