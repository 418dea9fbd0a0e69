package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fakeEmbeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		vec := make([]float64, dim)
		for i := range vec {
			vec[i] = float64(len(req.Prompt)) / float64(i+1)
		}
		json.NewEncoder(w).Encode(httpResponse{Embedding: vec})
	}))
}

func TestEmbedOneReturnsDimension(t *testing.T) {
	srv := fakeEmbeddingServer(t, 768)
	defer srv.Close()

	e := New(srv.URL, "test-model", 768, 5*time.Second, 2)
	vec, err := e.EmbedOne(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 768 {
		t.Fatalf("expected 768-dim vector, got %d", len(vec))
	}
}

func TestEmbedManyPreservesOrder(t *testing.T) {
	srv := fakeEmbeddingServer(t, 8)
	defer srv.Close()

	e := New(srv.URL, "test-model", 8, 5*time.Second, 2)
	texts := []string{"a", "bb", "ccc", "dddd"}
	vecs, err := e.EmbedMany(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, text := range texts {
		want := float64(len(text))
		if got := float64(vecs[i][0]); got != want {
			t.Fatalf("result %d out of order: want first-dim %v got %v", i, want, got)
		}
	}
}

func TestEmbedManyDimensionMismatch(t *testing.T) {
	srv := fakeEmbeddingServer(t, 100)
	defer srv.Close()

	e := New(srv.URL, "test-model", 768, 5*time.Second, 2)
	if _, err := e.EmbedOne(context.Background(), "hello"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
