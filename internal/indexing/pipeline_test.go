package indexing

import (
	"context"
	"errors"
	"testing"

	"github.com/fabfab/ragsentry/internal/domain"
)

type fakeRepo struct {
	files    map[string]domain.FileDocument
	sections map[string][]domain.FileSection
}

func newFakeRepo(files ...domain.FileDocument) *fakeRepo {
	r := &fakeRepo{files: map[string]domain.FileDocument{}, sections: map[string][]domain.FileSection{}}
	for _, f := range files {
		r.files[f.ID] = f
	}
	return r
}

func (r *fakeRepo) CreateSession(ctx context.Context, owner, title string) (domain.Session, error) {
	return domain.Session{}, nil
}
func (r *fakeRepo) GetSession(ctx context.Context, sid string) (domain.Session, error) {
	return domain.Session{}, nil
}
func (r *fakeRepo) DeleteSession(ctx context.Context, sid string) (bool, error) { return false, nil }
func (r *fakeRepo) AddMessage(ctx context.Context, sid string, role domain.Role, content string) (domain.Message, error) {
	return domain.Message{}, nil
}
func (r *fakeRepo) ListMessages(ctx context.Context, sid string) ([]domain.Message, error) {
	return nil, nil
}
func (r *fakeRepo) CreateFile(ctx context.Context, filename, path string) (domain.FileDocument, error) {
	return domain.FileDocument{}, nil
}
func (r *fakeRepo) ListFiles(ctx context.Context) ([]domain.FileDocument, error) { return nil, nil }
func (r *fakeRepo) GetFile(ctx context.Context, fid string) (domain.FileDocument, error) {
	f, ok := r.files[fid]
	if !ok {
		return domain.FileDocument{}, domain.NewError(domain.KindNotFound, "file not found", nil)
	}
	return f, nil
}
func (r *fakeRepo) UpdateFileStatus(ctx context.Context, fid string, status domain.FileStatus, errMsg string, totalChunks *int) error {
	f, ok := r.files[fid]
	if !ok {
		return domain.NewError(domain.KindNotFound, "file not found", nil)
	}
	f.Status = status
	f.ErrorMessage = errMsg
	if totalChunks != nil {
		f.TotalChunks = *totalChunks
	}
	r.files[fid] = f
	return nil
}
func (r *fakeRepo) AddSections(ctx context.Context, fid string, sections []domain.FileSection) error {
	r.sections[fid] = sections
	return nil
}
func (r *fakeRepo) ListSections(ctx context.Context, fid string) ([]domain.FileSection, error) {
	return r.sections[fid], nil
}
func (r *fakeRepo) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	return domain.User{}, nil
}
func (r *fakeRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return domain.User{}, nil
}

type fakeVectorStore struct {
	upserted map[string][]domain.Chunk
	deleted  []string
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{upserted: map[string][]domain.Chunk{}}
}

// UpsertChunks mirrors the real Postgres adapter's non-deleting,
// ON-CONFLICT(file_id, chunk_index)-DO-UPDATE semantics: it must not wipe
// chunks from a prior call for the same fid (e.g. an earlier batch in the
// same indexing run), only replace rows with a matching chunk index.
func (v *fakeVectorStore) UpsertChunks(ctx context.Context, fid string, chunks []domain.Chunk) (int, error) {
	existing := v.upserted[fid]
	byIndex := make(map[int]int, len(existing))
	for i, c := range existing {
		byIndex[c.ChunkIndex] = i
	}
	for _, c := range chunks {
		if i, ok := byIndex[c.ChunkIndex]; ok {
			existing[i] = c
		} else {
			byIndex[c.ChunkIndex] = len(existing)
			existing = append(existing, c)
		}
	}
	v.upserted[fid] = existing
	return len(chunks), nil
}
func (v *fakeVectorStore) Search(ctx context.Context, fid string, queryVec []float32, k int) ([]domain.ScoredChunk, error) {
	return nil, nil
}
func (v *fakeVectorStore) DeleteByFile(ctx context.Context, fid string) (int, error) {
	v.deleted = append(v.deleted, fid)
	n := len(v.upserted[fid])
	delete(v.upserted, fid)
	return n, nil
}
func (v *fakeVectorStore) CountChunks(ctx context.Context, fid string) (int, error) {
	return len(v.upserted[fid]), nil
}

type fakeEmbedder struct{ fail bool }

func (e *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, domain.EmbeddingDim), nil
}
func (e *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, domain.EmbeddingDim)
	}
	return out, nil
}

type fakeExtractor struct {
	sections []domain.FileSection
	err      error
}

func (e *fakeExtractor) ExtractSections(ctx context.Context, path string) ([]domain.FileSection, error) {
	return e.sections, e.err
}

func TestPipelineRunIndexesFileSuccessfully(t *testing.T) {
	file := domain.FileDocument{ID: "f1", Filename: "doc.txt", Path: "/data/f1/doc.txt"}
	repo := newFakeRepo(file)
	vectors := newFakeVectorStore()
	extractor := &fakeExtractor{sections: []domain.FileSection{
		{FileID: "f1", SectionIndex: 0, Text: "hello world this is a test document with enough text to chunk"},
	}}

	p := NewPipeline(repo, vectors, &fakeEmbedder{}, extractor, 20, 5, 4)
	if err := p.Run(context.Background(), "f1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated := repo.files["f1"]
	if updated.Status != domain.FileStatusIndexed {
		t.Fatalf("expected status indexed, got %v", updated.Status)
	}
	if updated.TotalChunks == 0 {
		t.Fatal("expected non-zero total chunks")
	}
	if len(vectors.upserted["f1"]) != updated.TotalChunks {
		t.Fatalf("expected upserted chunk count to match total_chunks")
	}
}

func TestPipelineRunPreservesAllBatchesForMultiBatchFile(t *testing.T) {
	file := domain.FileDocument{ID: "f4", Filename: "doc.txt", Path: "/data/f4/doc.txt"}
	repo := newFakeRepo(file)
	vectors := newFakeVectorStore()
	// window=10/overlap=3 over this text produces well over 4 chunks, and a
	// batch size of 2 forces several flush() calls, so this exercises the
	// "does a later batch destroy an earlier one" property directly.
	extractor := &fakeExtractor{sections: []domain.FileSection{
		{FileID: "f4", SectionIndex: 0, Text: "hello world this is a much longer test document with enough text to require several chunking batches to complete indexing"},
	}}

	p := NewPipeline(repo, vectors, &fakeEmbedder{}, extractor, 10, 3, 2)
	if err := p.Run(context.Background(), "f4"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated := repo.files["f4"]
	if updated.Status != domain.FileStatusIndexed {
		t.Fatalf("expected status indexed, got %v", updated.Status)
	}
	if updated.TotalChunks <= 2 {
		t.Fatalf("expected a multi-batch run (more chunks than one batch), got %d", updated.TotalChunks)
	}
	if len(vectors.upserted["f4"]) != updated.TotalChunks {
		t.Fatalf("expected every batch's chunks to survive: upserted=%d total_chunks=%d", len(vectors.upserted["f4"]), updated.TotalChunks)
	}
	if len(vectors.deleted) != 1 || vectors.deleted[0] != "f4" {
		t.Fatalf("expected exactly one DeleteByFile call before the batch loop, got %v", vectors.deleted)
	}
}

func TestPipelineRunMarksErrorOnEmbeddingFailure(t *testing.T) {
	file := domain.FileDocument{ID: "f2", Filename: "doc.txt", Path: "/data/f2/doc.txt"}
	repo := newFakeRepo(file)
	vectors := newFakeVectorStore()
	extractor := &fakeExtractor{sections: []domain.FileSection{
		{FileID: "f2", SectionIndex: 0, Text: "some text to embed and fail on"},
	}}

	p := NewPipeline(repo, vectors, &fakeEmbedder{fail: true}, extractor, 20, 5, 4)
	if err := p.Run(context.Background(), "f2"); err == nil {
		t.Fatal("expected pipeline to return an error")
	}

	updated := repo.files["f2"]
	if updated.Status != domain.FileStatusError {
		t.Fatalf("expected status error, got %v", updated.Status)
	}
	// index() clears existing chunks once before the batch loop, and Run()
	// issues a best-effort cleanup delete again on failure — both target f2.
	for _, fid := range vectors.deleted {
		if fid != "f2" {
			t.Fatalf("expected only f2 to be targeted by delete_by_file, got %v", vectors.deleted)
		}
	}
	if len(vectors.deleted) == 0 {
		t.Fatal("expected at least one delete_by_file call")
	}
	if len(vectors.upserted["f2"]) != 0 {
		t.Fatalf("expected no chunks to survive a failed indexing run, got %d", len(vectors.upserted["f2"]))
	}
}

func TestPipelineRunSkipsConcurrentDuplicateForSameFile(t *testing.T) {
	file := domain.FileDocument{ID: "f3", Filename: "doc.txt", Path: "/data/f3/doc.txt", Status: domain.FileStatusPending}
	repo := newFakeRepo(file)
	vectors := newFakeVectorStore()
	extractor := &fakeExtractor{sections: nil}

	p := NewPipeline(repo, vectors, &fakeEmbedder{}, extractor, 20, 5, 4)
	p.running["f3"] = struct{}{}
	if err := p.Run(context.Background(), "f3"); err != nil {
		t.Fatalf("expected no error for a skipped duplicate run, got %v", err)
	}
	if repo.files["f3"].Status != domain.FileStatusPending {
		t.Fatalf("expected untouched status for skipped duplicate run, got %v", repo.files["f3"].Status)
	}
}
