// Package pdfextract implements the C14 section-extraction boundary: a
// deliberately thin go-fitz-backed adapter that treats each PDF page as one
// FileSection. It is adapted from the-hive's internal/parser/pdf.go, which
// flattens an entire PDF into one string; here each page is kept separate
// since the indexing pipeline chunks per section and wants page numbers to
// carry through to FileSection.PageStart/PageEnd. A production-grade
// extraction pipeline (layout analysis, table extraction, OCR fallback) is
// explicitly out of scope per spec.md §1.
package pdfextract

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/fabfab/ragsentry/internal/domain"
)

// Extractor implements domain.SectionExtractor over PDF files.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// ExtractSections opens the PDF at path and returns one FileSection per
// page with extractable text. Pages that fail to extract (corrupt page,
// image-only page) are skipped rather than failing the whole document.
func (e *Extractor) ExtractSections(ctx context.Context, path string) ([]domain.FileSection, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer doc.Close()

	numPages := doc.NumPage()
	sections := make([]domain.FileSection, 0, numPages)

	for i := 0; i < numPages; i++ {
		select {
		case <-ctx.Done():
			return sections, ctx.Err()
		default:
		}

		text, err := doc.Text(i)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		sections = append(sections, domain.FileSection{
			SectionIndex: len(sections),
			PageStart:    i,
			PageEnd:      i,
			Text:         text,
		})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no extractable text in pdf %s", path)
	}
	return sections, nil
}
