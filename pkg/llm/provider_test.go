package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testMessages() []Message {
	return []Message{
		{Role: "system", Content: "You are the AI twin of alice."},
		{Role: "system", Content: "Keep it short."},
		{Role: "user", Content: "Reply to: gm"},
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider(Config{Provider: "openai", Model: "gpt-4o-mini"}); err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, err := NewProvider(Config{Provider: "Anthropic", Model: "claude-sonnet"}); err != nil {
		t.Fatalf("anthropic: %v", err)
	}
	if _, err := NewProvider(Config{Provider: "cohere"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "sounds great 🎉"}, "finish_reason": "stop"}]}`)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(Config{Model: "gpt-4o-mini", APIKey: "sk-test", APIURL: srv.URL})
	out, err := provider.Complete(context.Background(), Request{
		Messages:    testMessages(),
		MaxTokens:   80,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "sounds great 🎉" {
		t.Fatalf("unexpected output: %q", out)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 80 || got.Temperature != 0.2 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
}

func TestOpenAICompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(Config{Model: "gpt-4o-mini", APIURL: srv.URL})
	if _, err := provider.Complete(context.Background(), Request{Messages: testMessages()}); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestOpenAICompleteRequiresModel(t *testing.T) {
	provider := NewOpenAIProvider(Config{})
	if _, err := provider.Complete(context.Background(), Request{Messages: testMessages()}); err == nil {
		t.Fatal("expected error without model")
	}
}

func TestAnthropicCompleteHoistsSystemMessages(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "sounds"}, {"type": "text", "text": " great"}], "stop_reason": "end_turn"}`)
	}))
	defer srv.Close()

	provider := NewAnthropicProvider(Config{Model: "claude-sonnet", APIKey: "sk-ant-test", APIURL: srv.URL})
	out, err := provider.Complete(context.Background(), Request{
		Messages:  testMessages(),
		MaxTokens: 80,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "sounds great" {
		t.Fatalf("unexpected output: %q", out)
	}
	if got.System == "" {
		t.Fatal("expected system messages hoisted to the system field")
	}
	for _, msg := range got.Messages {
		if msg.Role == "system" {
			t.Fatalf("system message leaked into messages: %+v", msg)
		}
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "Reply to: gm" {
		t.Fatalf("unexpected chat messages: %+v", got.Messages)
	}
}
