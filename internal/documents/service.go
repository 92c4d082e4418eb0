// Package documents implements the document lifecycle: upload validation,
// persistence of the original bytes, ownership checks, deletion, and
// reprocessing of failed ingestions.
package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/extract"
	"github.com/enterprise-kb/backend/internal/storage/models"
	"github.com/enterprise-kb/backend/internal/vector"
	"github.com/enterprise-kb/backend/pkg/config"
	"github.com/enterprise-kb/backend/pkg/logger"
	"github.com/enterprise-kb/backend/pkg/utils"
)

// Store is the document side of the state store.
type Store interface {
	InsertDocument(doc *models.Document) error
	GetDocument(id string) (*models.Document, error)
	ListDocuments(userID, category string) ([]models.Document, error)
	ListFailedDocuments(userID string) ([]models.Document, error)
	ListCategories(userID string) ([]string, error)
	DeleteDocument(id string) error
	ResetFailedToProcessing(id string) (bool, error)
	MarkFailed(id, errorMessage string) error
	SearchDocuments(userID, keyword string) ([]models.Document, error)
	GetDocumentStatistics(userID string) (*models.DocumentStatistics, error)
}

// Ingestor schedules asynchronous processing of an uploaded document.
type Ingestor interface {
	Submit(doc *models.Document, data []byte) error
}

type Service struct {
	store    Store
	index    vector.Index
	ingestor Ingestor
	cfg      config.DocumentConfig
	allowed  map[string]struct{}
}

func NewService(store Store, index vector.Index, ingestor Ingestor, cfg config.DocumentConfig) (*Service, error) {
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(t)] = struct{}{}
	}

	return &Service{
		store:    store,
		index:    index,
		ingestor: ingestor,
		cfg:      cfg,
		allowed:  allowed,
	}, nil
}

type UploadRequest struct {
	Filename    string
	ContentType string
	Data        []byte
	Category    string
	UserID      string
	Description string
}

// Upload validates the request, persists the original bytes and the
// PROCESSING record, and schedules ingestion. Validation failures and a
// saturated ingestion queue reject the upload with nothing persisted.
func (s *Service) Upload(req UploadRequest) (*models.Document, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:          uuid.NewString(),
		Filename:    req.Filename,
		MD5Hash:     utils.HashBytes(req.Data),
		Category:    req.Category,
		UploadedBy:  req.UserID,
		Description: req.Description,
		SizeBytes:   int64(len(req.Data)),
		ContentType: req.ContentType,
		UploadTime:  time.Now(),
		Status:      models.DocStatusProcessing,
	}

	path := s.storedPath(doc.ID, doc.Filename)
	if err := os.WriteFile(path, req.Data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store document file: %w", err)
	}

	if err := s.store.InsertDocument(doc); err != nil {
		os.Remove(path)
		return nil, err
	}

	if err := s.ingestor.Submit(doc, req.Data); err != nil {
		if delErr := s.store.DeleteDocument(doc.ID); delErr != nil {
			logger.Error("Failed to roll back rejected upload",
				zap.String("document_id", doc.ID),
				zap.Error(delErr),
			)
		}
		os.Remove(path)
		return nil, err
	}

	logger.Info("Document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.String("category", doc.Category),
		zap.Int64("size_bytes", doc.SizeBytes),
	)

	return doc, nil
}

func (s *Service) validate(req *UploadRequest) error {
	req.Filename = strings.TrimSpace(req.Filename)
	req.Category = strings.TrimSpace(req.Category)
	req.UserID = strings.TrimSpace(req.UserID)

	if len(req.Data) == 0 {
		return models.NewValidationError("file is empty")
	}
	if req.Filename == "" {
		return models.NewValidationError("filename is required")
	}
	if req.Category == "" {
		return models.NewValidationError("category is required")
	}
	if req.UserID == "" {
		return models.NewValidationError("user id is required")
	}
	if int64(len(req.Data)) > s.cfg.MaxSize {
		return models.NewValidationError("file exceeds maximum size of %d bytes", s.cfg.MaxSize)
	}

	fileType := extract.FileType(req.ContentType, req.Filename)
	if _, ok := s.allowed[fileType]; !ok {
		return models.NewValidationError("unsupported file type %q", fileType)
	}

	return nil
}

// Get returns the document after an ownership check. A mismatched owner is
// a permission failure, not a lookup failure.
func (s *Service) Get(id, userID string) (*models.Document, error) {
	doc, err := s.store.GetDocument(id)
	if err != nil {
		return nil, err
	}
	if doc.UploadedBy != userID {
		return nil, models.ErrPermissionDenied
	}
	return doc, nil
}

func (s *Service) List(userID, category string) ([]models.Document, error) {
	return s.store.ListDocuments(userID, category)
}

func (s *Service) Failed(userID string) ([]models.Document, error) {
	return s.store.ListFailedDocuments(userID)
}

func (s *Service) Categories(userID string) ([]string, error) {
	return s.store.ListCategories(userID)
}

// Search finds the user's documents by filename or description keyword.
func (s *Service) Search(userID, keyword string) ([]models.Document, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, models.NewValidationError("search keyword is required")
	}
	return s.store.SearchDocuments(userID, keyword)
}

func (s *Service) Statistics(userID string) (*models.DocumentStatistics, error) {
	return s.store.GetDocumentStatistics(userID)
}

// BatchDeleteResult reports the outcome of a batch delete: ids removed and,
// per failed id, the reason it was kept.
type BatchDeleteResult struct {
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// DeleteBatch deletes each document independently; one failure never stops
// the rest of the batch.
func (s *Service) DeleteBatch(ctx context.Context, ids []string, userID string) (*BatchDeleteResult, error) {
	if len(ids) == 0 {
		return nil, models.NewValidationError("at least one document id is required")
	}

	result := &BatchDeleteResult{}
	for _, id := range ids {
		if err := s.Delete(ctx, id, userID); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[id] = err.Error()
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}

	return result, nil
}

// Delete removes the document's chunks from the index, its row from the
// store, and the stored file. Index deletion comes first so a partial
// failure never leaves orphaned chunks behind a deleted record.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	doc, err := s.Get(id, userID)
	if err != nil {
		return err
	}

	if err := s.index.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}

	if err := s.store.DeleteDocument(id); err != nil {
		return err
	}

	path := s.storedPath(id, doc.Filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove stored file",
			zap.String("document_id", id),
			zap.String("path", path),
			zap.Error(err),
		)
	}

	logger.Info("Document deleted",
		zap.String("document_id", id),
		zap.String("user_id", userID),
	)

	return nil
}

// Reprocess re-runs ingestion for a FAILED document from its stored bytes.
// Only FAILED documents are eligible; the status flip is a single
// conditional update so two concurrent reprocess calls cannot both win.
func (s *Service) Reprocess(ctx context.Context, id, userID string) (*models.Document, error) {
	doc, err := s.Get(id, userID)
	if err != nil {
		return nil, err
	}

	reset, err := s.store.ResetFailedToProcessing(id)
	if err != nil {
		return nil, err
	}
	if !reset {
		if doc.Status == models.DocStatusProcessing {
			return nil, models.ErrAlreadyProcessing
		}
		return nil, models.NewValidationError("only failed documents can be reprocessed")
	}

	data, err := os.ReadFile(s.storedPath(id, doc.Filename))
	if err != nil {
		msg := fmt.Sprintf("stored file unavailable: %v", err)
		if markErr := s.store.MarkFailed(id, msg); markErr != nil {
			logger.Error("Failed to record FAILED status",
				zap.String("document_id", id),
				zap.Error(markErr),
			)
		}
		return nil, fmt.Errorf("failed to read stored document: %w", err)
	}

	// Drop chunks left behind by the failed run so reindexing starts clean.
	if err := s.index.DeleteByDocument(ctx, id); err != nil {
		logger.Warn("Failed to clear stale chunks before reprocess",
			zap.String("document_id", id),
			zap.Error(err),
		)
	}

	doc.Status = models.DocStatusProcessing
	doc.ErrorMessage = ""
	doc.ProcessedTime = nil
	doc.ChunkCount = nil

	if err := s.ingestor.Submit(doc, data); err != nil {
		msg := fmt.Sprintf("reprocess not scheduled: %v", err)
		if markErr := s.store.MarkFailed(id, msg); markErr != nil {
			logger.Error("Failed to record FAILED status",
				zap.String("document_id", id),
				zap.Error(markErr),
			)
		}
		return nil, err
	}

	logger.Info("Document reprocess scheduled",
		zap.String("document_id", id),
		zap.String("user_id", userID),
	)

	return doc, nil
}

func (s *Service) storedPath(id, filename string) string {
	return filepath.Join(s.cfg.StoragePath, id+strings.ToLower(filepath.Ext(filename)))
}
