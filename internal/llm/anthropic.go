package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	opts   Options
	client *anthropic.Client
}

func newAnthropic(opts Options) *AnthropicClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &AnthropicClient{opts: opts, client: anthropic.NewClient(reqOpts...)}
}

func (c *AnthropicClient) Name() string { return ProviderAnthropic }

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	req = withDefaults(req, c.opts)
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	content := req.Prompt
	if req.System != "" {
		content = req.System + "\n\n" + req.Prompt
	}
	messages := []anthropic.MessageParam{{
		Role: anthropic.F(anthropic.MessageParamRoleUser),
		Content: anthropic.F([]anthropic.ContentBlockParamUnion{
			anthropic.TextBlockParam{
				Type: anthropic.F(anthropic.TextBlockParamTypeText),
				Text: anthropic.F(content),
			},
		}),
	}}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(c.opts.Model),
		MaxTokens: anthropic.F(int64(req.MaxTokens)),
		Messages:  anthropic.F(messages),
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, ErrEmptyCompletion
	}
	return &Completion{
		Text:      text,
		Model:     resp.Model,
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
