// Package llm provides the text-completion backends the agent sends its
// assembled prompt to.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	// GeminiBaseURL is Gemini's OpenAI-compatible endpoint.
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

var (
	ErrEmptyCompletion = errors.New("backend returned an empty completion")
	ErrMissingAPIKey   = errors.New("api key is required")
	ErrUnknownProvider = errors.New("unknown ai provider")
)

// Request is a single stateless completion call. System carries the agent's
// standing instructions; Prompt carries the context block and the user message.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the backend's answer.
type Completion struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// TokensUsed is the total token count billed for the call.
func (c *Completion) TokensUsed() int { return c.TokensIn + c.TokensOut }

// Completer is implemented by every backend.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Name() string
}

// Options configures New.
type Options struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// New builds the Completer for opts.Provider.
func New(opts Options) (Completer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	switch opts.Provider {
	case ProviderGemini, "":
		if opts.BaseURL == "" {
			opts.BaseURL = GeminiBaseURL
		}
		return newOpenAICompatible(ProviderGemini, opts), nil
	case ProviderOpenAI:
		return newOpenAICompatible(ProviderOpenAI, opts), nil
	case ProviderAnthropic:
		return newAnthropic(opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
}

// withDefaults fills per-call values from the client options.
func withDefaults(req Request, opts Options) Request {
	if req.MaxTokens <= 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2048
	}
	if req.Temperature == 0 {
		req.Temperature = opts.Temperature
	}
	return req
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
