package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fabfab/ragsentry/internal/domain"
)

func TestPrimaryClientChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "hi there"},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewPrimaryClient(srv.URL, "llama3.1:8b")
	reply, report, err := c.ChatCompletion(context.Background(), "system prompt", []domain.LLMMessage{
		{Role: domain.RoleUser, Content: "hello"},
	}, domain.LLMOptions{})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if report.SystemTokens == 0 {
		t.Fatal("expected non-zero system token estimate")
	}
}

func TestPrimaryClientRetriableStatusIsLLMUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewPrimaryClient(srv.URL, "llama3.1:8b")
	_, _, err := c.ChatCompletion(context.Background(), "sys", nil, domain.LLMOptions{})
	if !domain.IsKind(err, domain.KindLLMUnavailable) {
		t.Fatalf("expected LLMUnavailable, got %v", err)
	}
}

func TestFallbackClientChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openAIChatResponse{}
		resp.Choices = []struct {
			Message openAIMessage `json:"message"`
		}{{Message: openAIMessage{Role: "assistant", Content: "fallback reply"}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewFallbackClient(srv.URL, "gpt-4o-mini", "test-key")
	reply, _, err := c.ChatCompletion(context.Background(), "sys", []domain.LLMMessage{
		{Role: domain.RoleUser, Content: "hello"},
	}, domain.LLMOptions{})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if reply != "fallback reply" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}
