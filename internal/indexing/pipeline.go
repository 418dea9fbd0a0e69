package indexing

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/fabfab/ragsentry/internal/chunker"
	"github.com/fabfab/ragsentry/internal/domain"
)

// Pipeline runs the per-file indexing job: extract sections, chunk them,
// embed each batch, and upsert into the vector store. It enforces "at most
// one active pipeline per fid" with an in-memory lock set, since two
// concurrent runs over the same file would otherwise race on the single
// DeleteByFile-then-batched-upsert sequence in index().
type Pipeline struct {
	chatRepo  domain.ChatRepository
	vectors   domain.VectorStore
	embedder  domain.Embedder
	extractor domain.SectionExtractor
	chunker   *chunker.Chunker
	batchSize int

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPipeline constructs a Pipeline. batchSize is the number of chunks
// embedded and upserted per round (default 32 per spec.md §4.8 if <= 0).
func NewPipeline(chatRepo domain.ChatRepository, vectors domain.VectorStore, embedder domain.Embedder, extractor domain.SectionExtractor, window, overlap, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Pipeline{
		chatRepo:  chatRepo,
		vectors:   vectors,
		embedder:  embedder,
		extractor: extractor,
		chunker:   chunker.New(window, overlap),
		batchSize: batchSize,
		running:   make(map[string]struct{}),
	}
}

// Handle implements HandlerFunc: it indexes the file named in job.FileID.
func (p *Pipeline) Handle(ctx context.Context, job Job) error {
	return p.Run(ctx, job.FileID)
}

// Run executes the full pipeline for a single file id. It is safe to call
// concurrently for different fids; a second concurrent call for the same
// fid returns immediately without error, since the job already in flight
// will converge to the same end state.
func (p *Pipeline) Run(ctx context.Context, fid string) error {
	if !p.acquire(fid) {
		log.Printf("indexing: fid=%s already has an active pipeline, skipping", fid)
		return nil
	}
	defer p.release(fid)

	file, err := p.chatRepo.GetFile(ctx, fid)
	if err != nil {
		return fmt.Errorf("load file %s: %w", fid, err)
	}

	if err := p.chatRepo.UpdateFileStatus(ctx, fid, domain.FileStatusProcessing, "", nil); err != nil {
		return fmt.Errorf("mark file %s processing: %w", fid, err)
	}

	total, err := p.index(ctx, file)
	if err != nil {
		log.Printf("indexing: fid=%s failed: %v", fid, err)
		if _, delErr := p.vectors.DeleteByFile(ctx, fid); delErr != nil {
			log.Printf("indexing: fid=%s best-effort chunk cleanup failed: %v", fid, delErr)
		}
		if statusErr := p.chatRepo.UpdateFileStatus(ctx, fid, domain.FileStatusError, err.Error(), nil); statusErr != nil {
			log.Printf("indexing: fid=%s failed to record error status: %v", fid, statusErr)
		}
		return err
	}

	if err := p.chatRepo.UpdateFileStatus(ctx, fid, domain.FileStatusIndexed, "", &total); err != nil {
		return fmt.Errorf("mark file %s indexed: %w", fid, err)
	}
	return nil
}

func (p *Pipeline) index(ctx context.Context, file domain.FileDocument) (int, error) {
	sections, err := p.extractor.ExtractSections(ctx, file.Path)
	if err != nil {
		return 0, fmt.Errorf("extract sections: %w", err)
	}
	if err := p.chatRepo.AddSections(ctx, file.ID, sections); err != nil {
		return 0, fmt.Errorf("persist sections: %w", err)
	}

	// UpsertChunks never deletes rows and this pipeline calls it once per
	// batch, so any chunks from an earlier indexing run of this file must be
	// cleared once, up front — a per-batch delete would wipe the chunks this
	// run's earlier batches just wrote.
	if _, err := p.vectors.DeleteByFile(ctx, file.ID); err != nil {
		return 0, fmt.Errorf("clear existing chunks: %w", err)
	}

	pending := make([]domain.Chunk, 0, p.batchSize)
	chunkIndex := 0
	total := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := p.checkNotDeleted(ctx, file.ID); err != nil {
			return err
		}

		texts := make([]string, len(pending))
		for i, c := range pending {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedMany(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		for i := range pending {
			pending[i].Embedding = vectors[i]
		}

		n, err := p.vectors.UpsertChunks(ctx, file.ID, pending)
		if err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
		total += n
		pending = pending[:0]
		return nil
	}

	for _, section := range sections {
		for _, text := range p.chunker.Split(section.Text) {
			pending = append(pending, domain.Chunk{
				FileID:      file.ID,
				ChunkIndex:  chunkIndex,
				Text:        text,
				PageNumber:  section.PageStart,
				SectionType: "body",
				FileName:    file.Filename,
			})
			chunkIndex++
			if len(pending) >= p.batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	return total, nil
}

// checkNotDeleted aborts an in-flight pipeline if the file has been removed
// since the run started, so a deleted file's chunks never get re-populated
// by a batch that was already in flight.
func (p *Pipeline) checkNotDeleted(ctx context.Context, fid string) error {
	if _, err := p.chatRepo.GetFile(ctx, fid); err != nil {
		return fmt.Errorf("file %s no longer exists, aborting pipeline: %w", fid, err)
	}
	return nil
}

func (p *Pipeline) acquire(fid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[fid]; ok {
		return false
	}
	p.running[fid] = struct{}{}
	return true
}

func (p *Pipeline) release(fid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, fid)
}
