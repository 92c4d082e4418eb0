package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/documents"
	"github.com/enterprise-kb/backend/pkg/logger"
)

type DocumentHandler struct {
	service *documents.Service
}

func NewDocumentHandler(service *documents.Service) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// Upload accepts a multipart form with a "file" part plus "category" and
// optional "description" fields, and schedules the document for ingestion.
// The response carries the PROCESSING document; processing is asynchronous.
func (h *DocumentHandler) Upload(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file part named 'file' is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}

	doc, err := h.service.Upload(documents.UploadRequest{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
		Category:    c.FormValue("category"),
		Description: c.FormValue("description"),
		UserID:      userID,
	})
	if err != nil {
		logger.Warn("Upload rejected",
			zap.String("filename", fileHeader.Filename),
			zap.Error(err),
		)
		return writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(doc)
}

func (h *DocumentHandler) List(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	docs, err := h.service.List(userID, c.Query("category"))
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Get(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	doc, err := h.service.Get(c.Params("id"), userID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(doc)
}

func (h *DocumentHandler) Delete(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	if err := h.service.Delete(c.Context(), c.Params("id"), userID); err != nil {
		logger.Error("Failed to delete document",
			zap.String("document_id", c.Params("id")),
			zap.Error(err),
		)
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Document deleted"})
}

// Reprocess re-runs ingestion for a FAILED document.
func (h *DocumentHandler) Reprocess(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	doc, err := h.service.Reprocess(c.Context(), c.Params("id"), userID)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(doc)
}

func (h *DocumentHandler) Failed(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	docs, err := h.service.Failed(userID)
	if err != nil {
		logger.Error("Failed to list failed documents", zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"documents": docs, "count": len(docs)})
}

// Search filters the caller's documents by a filename or description
// keyword passed as ?q=.
func (h *DocumentHandler) Search(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	docs, err := h.service.Search(userID, c.Query("q"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Statistics(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	stats, err := h.service.Statistics(userID)
	if err != nil {
		logger.Error("Failed to compute document statistics", zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(stats)
}

type batchDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BatchDelete removes several documents in one call. Failures are reported
// per id; the batch itself always succeeds with a 200.
func (h *DocumentHandler) BatchDelete(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	var req batchDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.service.DeleteBatch(c.Context(), req.IDs, userID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(result)
}

func (h *DocumentHandler) Categories(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	categories, err := h.service.Categories(userID)
	if err != nil {
		logger.Error("Failed to list categories", zap.Error(err))
		return writeError(c, err)
	}

	if categories == nil {
		categories = []string{}
	}

	return c.JSON(fiber.Map{"categories": categories})
}
