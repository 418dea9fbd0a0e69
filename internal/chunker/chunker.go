// Package chunker implements the sliding-window text chunker used by the
// indexing pipeline. It is adapted from the-hive's
// internal/processor/chunker.go, simplified to plain character-granularity
// windows: the original's sentence-boundary search is dropped, since the
// chunking here needs to be a predictable, testable function of (window,
// overlap) rather than text-shape-dependent.
package chunker

import "strings"

// Chunker splits text into overlapping fixed-size windows.
type Chunker struct {
	window  int
	overlap int
}

// New constructs a Chunker. window is the character width of each chunk;
// overlap is how many trailing characters of a chunk reappear at the start
// of the next one. Both must satisfy 0 < overlap < window; New panics
// otherwise since this is a programmer error (config validation already
// enforces the invariant before the chunker is constructed).
func New(window, overlap int) *Chunker {
	if window <= 0 || overlap <= 0 || overlap >= window {
		panic("chunker: window and overlap must satisfy 0 < overlap < window")
	}
	return &Chunker{window: window, overlap: overlap}
}

// Split returns the ordered, overlapping chunks of text. Empty input yields
// an empty (non-nil) slice. Chunk boundaries fall at exact character offsets
// with no sentence or word awareness — the window always advances by
// (window - overlap) characters regardless of what falls at the cut.
func (c *Chunker) Split(text string) []string {
	if len(text) == 0 {
		return []string{}
	}

	var chunks []string
	start := 0
	textLen := len(text)
	stride := c.window - c.overlap

	for start < textLen {
		end := start + c.window
		if end > textLen {
			end = textLen
		}

		chunk := strings.TrimSpace(text[start:end])
		if len(chunk) > 0 {
			chunks = append(chunks, chunk)
		}

		if end >= textLen {
			break
		}
		start += stride
	}

	return chunks
}
