package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/storage/models"
	"github.com/enterprise-kb/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		md5_hash TEXT,
		category TEXT NOT NULL,
		uploaded_by TEXT NOT NULL,
		description TEXT,
		size_bytes INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		upload_time INTEGER NOT NULL,
		processed_time INTEGER,
		status TEXT NOT NULL,
		error_message TEXT,
		chunk_count INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(uploaded_by);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS queries (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT,
		user_id TEXT NOT NULL,
		category TEXT,
		session_id TEXT,
		query_time INTEGER NOT NULL,
		response_time_ms INTEGER,
		status TEXT NOT NULL,
		error_message TEXT,
		source_documents INTEGER DEFAULT 0,
		similarity_score REAL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_queries_user ON queries(user_id);
	CREATE INDEX IF NOT EXISTS idx_queries_session ON queries(session_id);
	CREATE INDEX IF NOT EXISTS idx_queries_time ON queries(query_time);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, filename, md5_hash, category, uploaded_by, description,
			size_bytes, content_type, upload_time, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.Filename,
		doc.MD5Hash,
		doc.Category,
		doc.UploadedBy,
		doc.Description,
		doc.SizeBytes,
		doc.ContentType,
		doc.UploadTime.Unix(),
		doc.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
	)
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `
		SELECT id, filename, md5_hash, category, uploaded_by, description, size_bytes,
			content_type, upload_time, processed_time, status, error_message, chunk_count
		FROM documents WHERE id = ?
	`

	doc, err := scanDocument(c.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

func (c *Client) ListDocuments(userID, category string) ([]models.Document, error) {
	query := `
		SELECT id, filename, md5_hash, category, uploaded_by, description, size_bytes,
			content_type, upload_time, processed_time, status, error_message, chunk_count
		FROM documents WHERE uploaded_by = ?
	`
	args := []any{userID}

	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY upload_time DESC"

	return c.queryDocuments(query, args...)
}

func (c *Client) ListFailedDocuments(userID string) ([]models.Document, error) {
	query := `
		SELECT id, filename, md5_hash, category, uploaded_by, description, size_bytes,
			content_type, upload_time, processed_time, status, error_message, chunk_count
		FROM documents WHERE uploaded_by = ? AND status = ?
		ORDER BY upload_time DESC
	`
	return c.queryDocuments(query, userID, models.DocStatusFailed)
}

func (c *Client) ListCategories(userID string) ([]string, error) {
	rows, err := c.db.Query(`SELECT DISTINCT category FROM documents WHERE uploaded_by = ? ORDER BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		categories = append(categories, category)
	}

	return categories, rows.Err()
}

func (c *Client) DeleteDocument(id string) error {
	res, err := c.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.ErrNotFound
	}

	logger.Info("Document deleted", zap.String("document_id", id))
	return nil
}

func (c *Client) MarkCompleted(id string, chunkCount int, processedAt time.Time) error {
	query := `
		UPDATE documents
		SET status = ?, processed_time = ?, chunk_count = ?, error_message = NULL
		WHERE id = ?
	`

	_, err := c.db.Exec(query, models.DocStatusCompleted, processedAt.Unix(), chunkCount, id)
	if err != nil {
		return fmt.Errorf("failed to mark document completed: %w", err)
	}

	logger.Info("Document marked completed",
		zap.String("document_id", id),
		zap.Int("chunk_count", chunkCount),
	)
	return nil
}

func (c *Client) MarkFailed(id, errorMessage string) error {
	query := `UPDATE documents SET status = ?, error_message = ? WHERE id = ?`

	_, err := c.db.Exec(query, models.DocStatusFailed, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}

	logger.Warn("Document marked failed",
		zap.String("document_id", id),
		zap.String("error", errorMessage),
	)
	return nil
}

// ResetFailedToProcessing flips a FAILED document back to PROCESSING as a
// single conditional update. It reports false when the document was not in
// FAILED state, which makes the transition race-free for reprocessing.
func (c *Client) ResetFailedToProcessing(id string) (bool, error) {
	query := `
		UPDATE documents
		SET status = ?, error_message = NULL, processed_time = NULL, chunk_count = NULL
		WHERE id = ? AND status = ?
	`

	res, err := c.db.Exec(query, models.DocStatusProcessing, id, models.DocStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to reset document status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	query := `
		INSERT INTO queries (id, question, user_id, category, session_id, query_time, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.Question,
		record.UserID,
		record.Category,
		record.SessionID,
		record.QueryTime.Unix(),
		record.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	return nil
}

// ResolveQuery writes the single resolution update for a query record.
func (c *Client) ResolveQuery(record *models.QueryRecord) error {
	query := `
		UPDATE queries
		SET answer = ?, status = ?, error_message = ?, response_time_ms = ?,
			source_documents = ?, similarity_score = ?
		WHERE id = ?
	`

	_, err := c.db.Exec(
		query,
		record.Answer,
		record.Status,
		record.ErrorMessage,
		record.ResponseTimeMS,
		record.SourceDocuments,
		record.SimilarityScore,
		record.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to resolve query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("status", record.Status),
		zap.Int64("response_time_ms", record.ResponseTimeMS),
	)

	return nil
}

func (c *Client) GetQueryHistory(userID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, question, answer, user_id, category, session_id, query_time,
			response_time_ms, status, error_message, source_documents, similarity_score
		FROM queries
		WHERE user_id = ?
		ORDER BY query_time DESC
		LIMIT ?
	`
	return c.queryRecords(query, userID, limit)
}

func (c *Client) GetSessionHistory(sessionID string) ([]models.QueryRecord, error) {
	query := `
		SELECT id, question, answer, user_id, category, session_id, query_time,
			response_time_ms, status, error_message, source_documents, similarity_score
		FROM queries
		WHERE session_id = ?
		ORDER BY query_time ASC
	`
	return c.queryRecords(query, sessionID)
}

// SearchQueryHistory returns the user's resolved queries whose question or
// answer contains the keyword, newest first.
func (c *Client) SearchQueryHistory(userID, keyword string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, question, answer, user_id, category, session_id, query_time,
			response_time_ms, status, error_message, source_documents, similarity_score
		FROM queries
		WHERE user_id = ? AND (question LIKE ? OR answer LIKE ?)
		ORDER BY query_time DESC
		LIMIT ?
	`
	pattern := "%" + keyword + "%"
	return c.queryRecords(query, userID, pattern, pattern, limit)
}

func (c *Client) GetQueryStatistics(userID string) (*models.QueryStatistics, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(response_time_ms), 0)
		FROM queries WHERE user_id = ?
	`

	var stats models.QueryStatistics
	err := c.db.QueryRow(query,
		models.QueryStatusSuccess, models.QueryStatusError, models.QueryStatusTimeout, userID,
	).Scan(&stats.Total, &stats.Success, &stats.Error, &stats.Timeout, &stats.AvgResponseTimeMS)
	if err != nil {
		return nil, fmt.Errorf("failed to compute query statistics: %w", err)
	}

	return &stats, nil
}

// GetPopularQuestions returns the user's most frequently asked questions.
// Ties break alphabetically so the ordering is stable.
func (c *Client) GetPopularQuestions(userID string, limit int) ([]models.PopularQuestion, error) {
	query := `
		SELECT question, COUNT(*) AS n
		FROM queries
		WHERE user_id = ?
		GROUP BY question
		ORDER BY n DESC, question ASC
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular questions: %w", err)
	}
	defer rows.Close()

	var popular []models.PopularQuestion
	for rows.Next() {
		var p models.PopularQuestion
		if err := rows.Scan(&p.Question, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		popular = append(popular, p)
	}

	return popular, rows.Err()
}

// DeleteQueryHistoryBefore removes the user's query records older than the
// cutoff and reports how many were removed.
func (c *Client) DeleteQueryHistoryBefore(userID string, cutoff time.Time) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM queries WHERE user_id = ? AND query_time < ?`, userID, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete query history: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if deleted > 0 {
		logger.Info("Query history purged",
			zap.String("user_id", userID),
			zap.Int64("deleted", deleted),
		)
	}
	return deleted, nil
}

// SearchDocuments returns the user's documents whose filename or description
// contains the keyword, newest first.
func (c *Client) SearchDocuments(userID, keyword string) ([]models.Document, error) {
	query := `
		SELECT id, filename, md5_hash, category, uploaded_by, description, size_bytes,
			content_type, upload_time, processed_time, status, error_message, chunk_count
		FROM documents
		WHERE uploaded_by = ? AND (filename LIKE ? OR description LIKE ?)
		ORDER BY upload_time DESC
	`
	pattern := "%" + keyword + "%"
	return c.queryDocuments(query, userID, pattern, pattern)
}

func (c *Client) GetDocumentStatistics(userID string) (*models.DocumentStatistics, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(size_bytes), 0),
			COALESCE(SUM(chunk_count), 0)
		FROM documents WHERE uploaded_by = ?
	`

	var stats models.DocumentStatistics
	err := c.db.QueryRow(query,
		models.DocStatusProcessing, models.DocStatusCompleted, models.DocStatusFailed, userID,
	).Scan(&stats.Total, &stats.Processing, &stats.Completed, &stats.Failed,
		&stats.TotalSizeBytes, &stats.TotalChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to compute document statistics: %w", err)
	}

	return &stats, nil
}

func (c *Client) queryDocuments(query string, args ...any) ([]models.Document, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, *doc)
	}

	return docs, rows.Err()
}

func (c *Client) queryRecords(query string, args ...any) ([]models.QueryRecord, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var answer, category, sessionID, errorMessage sql.NullString
		var queryTime int64
		var responseTime sql.NullInt64

		err := rows.Scan(&r.ID, &r.Question, &answer, &r.UserID, &category, &sessionID,
			&queryTime, &responseTime, &r.Status, &errorMessage, &r.SourceDocuments, &r.SimilarityScore)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Answer = answer.String
		r.Category = category.String
		r.SessionID = sessionID.String
		r.ErrorMessage = errorMessage.String
		r.QueryTime = time.Unix(queryTime, 0)
		r.ResponseTimeMS = responseTime.Int64
		records = append(records, r)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var md5Hash, description, errorMessage sql.NullString
	var uploadTime int64
	var processedTime, chunkCount sql.NullInt64

	err := row.Scan(&doc.ID, &doc.Filename, &md5Hash, &doc.Category, &doc.UploadedBy,
		&description, &doc.SizeBytes, &doc.ContentType, &uploadTime, &processedTime,
		&doc.Status, &errorMessage, &chunkCount)
	if err != nil {
		return nil, err
	}

	doc.MD5Hash = md5Hash.String
	doc.Description = description.String
	doc.ErrorMessage = errorMessage.String
	doc.UploadTime = time.Unix(uploadTime, 0)
	if processedTime.Valid {
		t := time.Unix(processedTime.Int64, 0)
		doc.ProcessedTime = &t
	}
	if chunkCount.Valid {
		n := int(chunkCount.Int64)
		doc.ChunkCount = &n
	}

	return &doc, nil
}
