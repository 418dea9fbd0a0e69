// Package filestore persists uploaded file bytes to disk. It is adapted
// from the teacher's internal/storage.Manager, trimmed to a single
// responsibility: conversation history, transcripts, and document-metadata
// bookkeeping all moved to the Postgres-backed chatstore package, so this
// package now only owns the bytes themselves.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrUnsupportedFileType is returned when an upload's extension is not one
// the indexing pipeline knows how to extract sections from.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// Store is a thin abstraction over the filesystem layout backing uploaded
// files: DataDir/files/<fid>/<original-name>.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New initializes a Store rooted at the provided data directory.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "files"), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

// Save writes an uploaded file's bytes under the given key and returns the
// path a SectionExtractor should open. fid is any caller-chosen key; the
// upload handler passes a freshly generated UUID, which is not the id the
// chatstore assigns to the file row.
func (s *Store) Save(fid, originalName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !isSupportedExtension(ext) {
		return "", ErrUnsupportedFileType
	}

	lock := s.lockFor(fid)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.root, "files", fid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create file directory %q: %w", dir, err)
	}

	path := filepath.Join(dir, originalName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// Delete removes a file's on-disk directory. Missing directories are not an
// error, matching the vector store's best-effort delete_by_file semantics.
func (s *Store) Delete(fid string) error {
	dir := filepath.Join(s.root, "files", fid)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove file directory %q: %w", dir, err)
	}
	return nil
}

func (s *Store) lockFor(fid string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[fid]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[fid] = lock
	return lock
}

func isSupportedExtension(ext string) bool {
	switch ext {
	case ".txt", ".md", ".markdown", ".pdf", ".html", ".htm":
		return true
	default:
		return false
	}
}
