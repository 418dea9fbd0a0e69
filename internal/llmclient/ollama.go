// Package llmclient provides the C5 LLM port's two adapters: a low-latency
// primary backed by an Ollama-compatible /api/chat endpoint (adapted
// directly from the teacher's internal/ollama/client.go) and a long-context
// fallback backed by an OpenAI-compatible /v1/chat/completions endpoint
// (grounded on the-hive's internal/embeddings/openai.go request/response
// shape, generalized from embeddings to chat).
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fabfab/ragsentry/internal/domain"
)

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
	Done    bool          `json:"done"`
}

// PrimaryClient is the low-latency, small-context LLM adapter used for
// plain chat turns.
type PrimaryClient struct {
	host   string
	model  string
	client *http.Client
}

// NewPrimaryClient constructs a PrimaryClient backed by an Ollama-style
// /api/chat endpoint.
func NewPrimaryClient(host, model string) *PrimaryClient {
	return &PrimaryClient{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// ChatCompletion implements domain.LLM.
func (c *PrimaryClient) ChatCompletion(ctx context.Context, systemPrompt string, messages []domain.LLMMessage, opts domain.LLMOptions) (string, domain.LLMTokenReport, error) {
	if c.host == "" || c.model == "" {
		return "", domain.LLMTokenReport{}, domain.NewError(domain.KindLLMUnavailable, "primary llm not configured", nil)
	}

	payload := ollamaChatRequest{
		Model:    c.model,
		Stream:   false,
		Options:  ollamaOptions{Temperature: opts.Temperature, NumPredict: opts.MaxOutputTokens},
		Messages: toOllamaMessages(systemPrompt, messages),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.LLMTokenReport{}, fmt.Errorf("marshal primary request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", domain.LLMTokenReport{}, fmt.Errorf("create primary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", domain.LLMTokenReport{}, domain.NewError(domain.KindLLMUnavailable, "primary llm request failed", err)
	}
	defer resp.Body.Close()

	if isRetriableStatus(resp.StatusCode) {
		data, _ := io.ReadAll(resp.Body)
		return "", domain.LLMTokenReport{}, domain.NewError(domain.KindLLMUnavailable, fmt.Sprintf("primary llm status %d: %s", resp.StatusCode, string(data)), nil)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return "", domain.LLMTokenReport{}, fmt.Errorf("primary llm error (status %d): %s", resp.StatusCode, string(data))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.LLMTokenReport{}, fmt.Errorf("decode primary response: %w", err)
	}
	if parsed.Error != "" {
		return "", domain.LLMTokenReport{}, domain.NewError(domain.KindLLMUnavailable, parsed.Error, nil)
	}

	report := estimateTokenReport(systemPrompt, messages)
	return parsed.Message.Content, report, nil
}

func toOllamaMessages(systemPrompt string, messages []domain.LLMMessage) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, ollamaMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		out = append(out, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func isRetriableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// estimateTokenReport uses the spec's 4-chars-per-token approximation; it is
// advisory only, per spec.md §4.5.
func estimateTokenReport(systemPrompt string, messages []domain.LLMMessage) domain.LLMTokenReport {
	var historyChars, userChars int
	for i, m := range messages {
		if i == len(messages)-1 && m.Role == domain.RoleUser {
			userChars += len(m.Content)
			continue
		}
		historyChars += len(m.Content)
	}
	return domain.LLMTokenReport{
		SystemTokens:  len(systemPrompt) / 4,
		HistoryTokens: historyChars / 4,
		UserTokens:    userChars / 4,
	}
}
