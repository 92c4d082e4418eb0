package ingestion

import (
	"github.com/google/uuid"

	"github.com/enterprise-kb/backend/internal/storage/models"
	"github.com/enterprise-kb/backend/internal/vector"
)

// EnrichChunks attaches the owning document's identity to each chunk text
// and mints a fresh chunk id per chunk. The document is read, never
// mutated; generating ids is the only side effect.
func EnrichChunks(doc *models.Document, texts []string) []vector.ChunkRecord {
	records := make([]vector.ChunkRecord, len(texts))
	for i, text := range texts {
		records[i] = vector.ChunkRecord{
			ChunkID:    uuid.NewString(),
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			Category:   doc.Category,
			UploadedBy: doc.UploadedBy,
			UploadTime: doc.UploadTime,
			Text:       text,
		}
	}
	return records
}
