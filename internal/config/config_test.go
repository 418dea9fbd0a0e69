package config

import "testing"

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/db")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}

	if cfg.Embed.Dimension != 768 {
		t.Fatalf("expected embedding dimension 768, got %d", cfg.Embed.Dimension)
	}
	if cfg.RAG.TopK != 10 {
		t.Fatalf("expected default RAG top-k 10, got %d", cfg.RAG.TopK)
	}
	if cfg.Embed.ChunkOverlap >= cfg.Embed.ChunkSize {
		t.Fatalf("chunk overlap %d must be smaller than chunk size %d", cfg.Embed.ChunkOverlap, cfg.Embed.ChunkSize)
	}
}

func TestFromEnvRejectsWrongDimension(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/db")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("EMBEDDING_DIM", "384")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for EMBEDDING_DIM != 768")
	}
}

func TestFromEnvRequiresJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/db")
	t.Setenv("JWT_SECRET", "")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for missing JWT_SECRET")
	}
}
