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

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// FallbackClient is the long-context LLM adapter used for RAG turns, oversized
// prompts, and as the retry target when the primary adapter fails.
type FallbackClient struct {
	host   string
	model  string
	apiKey string
	client *http.Client
}

// NewFallbackClient constructs a FallbackClient backed by an
// OpenAI-compatible /v1/chat/completions endpoint.
func NewFallbackClient(host, model, apiKey string) *FallbackClient {
	return &FallbackClient{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// ChatCompletion implements domain.LLM.
func (c *FallbackClient) ChatCompletion(ctx context.Context, systemPrompt string, messages []domain.LLMMessage, opts domain.LLMOptions) (string, domain.LLMTokenReport, error) {
	if c.host == "" || c.model == "" {
		return "", domain.LLMTokenReport{}, domain.NewError(domain.KindLLMUnavailable, "fallback llm not configured", nil)
	}

	payload := openAIChatRequest{
		Model:       c.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
		Messages:    toOpenAIMessages(systemPrompt, messages),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.LLMTokenReport{}, fmt.Errorf("marshal fallback request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", domain.LLMTokenReport{}, fmt.Errorf("create fallback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", domain.LLMTokenReport{}, domain.NewError(domain.KindLLMUnavailable, "fallback llm request failed", err)
	}
	defer resp.Body.Close()

	if isRetriableStatus(resp.StatusCode) {
		data, _ := io.ReadAll(resp.Body)
		return "", domain.LLMTokenReport{}, domain.NewError(domain.KindLLMUnavailable, fmt.Sprintf("fallback llm status %d: %s", resp.StatusCode, string(data)), nil)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return "", domain.LLMTokenReport{}, fmt.Errorf("fallback llm error (status %d): %s", resp.StatusCode, string(data))
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.LLMTokenReport{}, fmt.Errorf("decode fallback response: %w", err)
	}
	if parsed.Error != nil {
		return "", domain.LLMTokenReport{}, domain.NewError(domain.KindLLMUnavailable, parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return "", domain.LLMTokenReport{}, fmt.Errorf("fallback llm returned no choices")
	}

	report := estimateTokenReport(systemPrompt, messages)
	if parsed.Usage.PromptTokens > 0 {
		report.SystemTokens = len(systemPrompt) / 4
		report.HistoryTokens = parsed.Usage.PromptTokens - report.SystemTokens - report.UserTokens
		if report.HistoryTokens < 0 {
			report.HistoryTokens = 0
		}
	}

	return parsed.Choices[0].Message.Content, report, nil
}

func toOpenAIMessages(systemPrompt string, messages []domain.LLMMessage) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openAIMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		out = append(out, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
