package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// chatCompleter is the subset of *openai.Client used here.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient talks to OpenAI or any OpenAI-compatible endpoint (Gemini).
type OpenAIClient struct {
	name   string
	opts   Options
	client chatCompleter
}

func newOpenAICompatible(name string, opts Options) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIClient{name: name, opts: opts, client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	req = withDefaults(req, c.opts)
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", c.name, err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if text == "" {
		return nil, ErrEmptyCompletion
	}
	model := resp.Model
	if model == "" {
		model = c.opts.Model
	}
	return &Completion{
		Text:      text,
		Model:     model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
