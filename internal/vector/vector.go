// Package vector defines the chunk records stored in the similarity index
// and the narrow interfaces the ingestion pipeline and answer composer
// depend on. The Milvus adapter in the milvus subpackage implements both.
package vector

import (
	"context"
	"time"
)

// ChunkRecord is one embedded segment of a document together with the
// metadata that ties it back to its owner. Records are immutable once
// stored and are deleted only together with their document.
type ChunkRecord struct {
	ChunkID    string
	DocumentID string
	Filename   string
	Category   string
	UploadedBy string
	UploadTime time.Time
	Text       string
	Embedding  []float32
}

// SearchResult is a retrieved chunk with its similarity score in [0, 1].
type SearchResult struct {
	ChunkID    string
	DocumentID string
	Filename   string
	Category   string
	Text       string
	Score      float64
}

// Index is the write side of the chunk index.
type Index interface {
	// Insert stores records preserving their order within the batch.
	Insert(ctx context.Context, records []ChunkRecord) error
	// DeleteByDocument removes every chunk derived from the document.
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Searcher is the read side of the chunk index.
type Searcher interface {
	// Search returns up to topK chunks with similarity above threshold,
	// ordered by descending score. An empty category means no filter;
	// a non-empty one is matched exactly, case-sensitively.
	Search(ctx context.Context, embedding []float32, topK int, threshold float64, category string) ([]SearchResult, error)
}
