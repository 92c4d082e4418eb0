package models

import "time"

// Document lifecycle states. A document enters PROCESSING on upload and
// leaves it exactly once, to COMPLETED or FAILED.
const (
	DocStatusProcessing = "PROCESSING"
	DocStatusCompleted  = "COMPLETED"
	DocStatusFailed     = "FAILED"
)

// Query record states. A record is written as PROCESSING and resolved
// exactly once; history is append-only after that.
const (
	QueryStatusProcessing = "PROCESSING"
	QueryStatusSuccess    = "SUCCESS"
	QueryStatusError      = "ERROR"
	QueryStatusTimeout    = "TIMEOUT"
)

type Document struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	MD5Hash       string     `json:"md5Hash,omitempty"`
	Category      string     `json:"category"`
	UploadedBy    string     `json:"uploadedBy"`
	Description   string     `json:"description,omitempty"`
	SizeBytes     int64      `json:"sizeBytes"`
	ContentType   string     `json:"contentType"`
	UploadTime    time.Time  `json:"uploadTime"`
	ProcessedTime *time.Time `json:"processedTime,omitempty"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	ChunkCount    *int       `json:"chunkCount,omitempty"`
}

// QueryStatistics aggregates a user's query history by resolution.
type QueryStatistics struct {
	Total             int64   `json:"total"`
	Success           int64   `json:"success"`
	Error             int64   `json:"error"`
	Timeout           int64   `json:"timeout"`
	AvgResponseTimeMS float64 `json:"avgResponseTimeMs"`
}

// DocumentStatistics aggregates a user's document corpus.
type DocumentStatistics struct {
	Total          int64 `json:"total"`
	Processing     int64 `json:"processing"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
	TotalChunks    int64 `json:"totalChunks"`
}

// PopularQuestion is a question a user has asked repeatedly.
type PopularQuestion struct {
	Question string `json:"question"`
	Count    int64  `json:"count"`
}

type QueryRecord struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer,omitempty"`
	UserID          string    `json:"userId"`
	Category        string    `json:"category,omitempty"`
	SessionID       string    `json:"sessionId,omitempty"`
	QueryTime       time.Time `json:"queryTime"`
	ResponseTimeMS  int64     `json:"responseTimeMs"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	SourceDocuments int       `json:"sourceDocuments"`
	SimilarityScore float64   `json:"similarityScore"`
}
