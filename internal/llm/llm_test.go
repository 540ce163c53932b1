package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func TestNew_Providers(t *testing.T) {
	if _, err := New(Options{Provider: ProviderGemini}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("missing key err = %v", err)
	}
	if _, err := New(Options{Provider: "llama", APIKey: "k"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("unknown provider err = %v", err)
	}

	c, err := New(Options{Provider: "", APIKey: "k"})
	if err != nil || c.Name() != ProviderGemini {
		t.Fatalf("default provider = %v %v", c, err)
	}
	if oc := c.(*OpenAIClient); oc.opts.BaseURL != GeminiBaseURL {
		t.Fatalf("gemini base url = %q", oc.opts.BaseURL)
	}
	if c, _ := New(Options{Provider: ProviderOpenAI, APIKey: "k"}); c.Name() != ProviderOpenAI {
		t.Fatalf("openai name = %q", c.Name())
	}
	if c, _ := New(Options{Provider: ProviderAnthropic, APIKey: "k"}); c.Name() != ProviderAnthropic {
		t.Fatalf("anthropic name = %q", c.Name())
	}
}

func TestOpenAIClient_Complete_HTTP(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("auth header = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"x","object":"chat.completion","model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  hi there  "},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":11,"completion_tokens":4,"total_tokens":15}
		}`))
	}))
	defer srv.Close()

	c, err := New(Options{Provider: ProviderOpenAI, APIKey: "secret", BaseURL: srv.URL + "/v1", Model: "gpt-test", MaxTokens: 64, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Complete(context.Background(), Request{System: "be nice", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Text != "hi there" || out.Model != "gpt-test" || out.TokensUsed() != 15 {
		t.Fatalf("completion = %+v", out)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != openai.ChatMessageRoleSystem || got.Messages[1].Content != "hello" {
		t.Fatalf("request messages = %+v", got.Messages)
	}
	if got.MaxTokens != 64 {
		t.Fatalf("max tokens = %d", got.MaxTokens)
	}
}

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
}

func (f fakeChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return f.resp, f.err
}

func TestOpenAIClient_Complete_Errors(t *testing.T) {
	c := &OpenAIClient{name: ProviderGemini, opts: Options{Model: "m"}}

	c.client = fakeChat{}
	if _, err := c.Complete(context.Background(), Request{Prompt: "x"}); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("no choices err = %v", err)
	}

	c.client = fakeChat{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "   "}}}}}
	if _, err := c.Complete(context.Background(), Request{Prompt: "x"}); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("blank choice err = %v", err)
	}

	boom := errors.New("boom")
	c.client = fakeChat{err: boom}
	if _, err := c.Complete(context.Background(), Request{Prompt: "x"}); !errors.Is(err, boom) {
		t.Fatalf("transport err = %v", err)
	}

	c.client = fakeChat{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}}}}
	out, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err != nil || out.Model != "m" {
		t.Fatalf("model fallback = %+v %v", out, err)
	}
}

func TestWithDefaults(t *testing.T) {
	r := withDefaults(Request{}, Options{MaxTokens: 100, Temperature: 0.3})
	if r.MaxTokens != 100 || r.Temperature != 0.3 {
		t.Fatalf("defaults = %+v", r)
	}
	r = withDefaults(Request{}, Options{})
	if r.MaxTokens != 2048 {
		t.Fatalf("fallback max tokens = %d", r.MaxTokens)
	}
	r = withDefaults(Request{MaxTokens: 5, Temperature: 1}, Options{MaxTokens: 100, Temperature: 0.3})
	if r.MaxTokens != 5 || r.Temperature != 1 {
		t.Fatalf("explicit values overridden: %+v", r)
	}
}
