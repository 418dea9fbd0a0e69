// Package embedding is the C4 text-to-vector port and its HTTP-backed
// adapter. Adapted from the teacher's internal/embeddings/ollama.go: same
// per-text request shape against an Ollama-compatible /api/embeddings
// endpoint, generalized to batch concurrently (bounded by a semaphore
// protecting the upstream quota) rather than strictly sequentially, and to
// return a typed EmbeddingUnavailable error.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fabfab/ragsentry/internal/domain"
)

type httpRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type httpResponse struct {
	Embedding []float64 `json:"embedding"`
}

// HTTPEmbedder calls an Ollama-compatible embeddings API, batching calls
// under a bounded semaphore so the upstream quota is never exceeded.
type HTTPEmbedder struct {
	host      string
	model     string
	dimension int
	client    *http.Client
	sem       chan struct{}
}

// New constructs an HTTPEmbedder. maxInFlight bounds the number of
// concurrent outbound embedding requests (the embedding batcher's own
// semaphore, per spec.md §5; default 2).
func New(host, model string, dimension int, timeout time.Duration, maxInFlight int) *HTTPEmbedder {
	if maxInFlight <= 0 {
		maxInFlight = 2
	}
	return &HTTPEmbedder{
		host:      strings.TrimRight(host, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: timeout},
		sem:       make(chan struct{}, maxInFlight),
	}
}

// EmbedOne embeds a single piece of text.
func (e *HTTPEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds a batch of texts, order preserved. Requests for distinct
// texts in the batch fan out concurrently, bounded by the embedder's
// in-flight semaphore, and the first error cancels the rest.
func (e *HTTPEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]float32, len(texts))

	var wg sync.WaitGroup
	errCh := make(chan error, len(texts))

	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()

			select {
			case e.sem <- struct{}{}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			defer func() { <-e.sem }()

			vec, err := e.embedRequest(ctx, text)
			if err != nil {
				errCh <- err
				cancel()
				return
			}
			results[i] = vec
		}(i, text)
	}

	wg.Wait()
	close(errCh)

	if err, ok := <-errCh; ok {
		return nil, domain.NewError(domain.KindEmbeddingUnavailable, "embed batch", err)
	}
	return results, nil
}

func (e *HTTPEmbedder) embedRequest(ctx context.Context, text string) ([]float32, error) {
	url := fmt.Sprintf("%s/api/embeddings", e.host)

	body, err := json.Marshal(httpRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedding API returned status %s", resp.Status)
	}

	var payload httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vec := make([]float32, len(payload.Embedding))
	for i, v := range payload.Embedding {
		vec[i] = float32(v)
	}

	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(vec))
	}

	return vec, nil
}
