// Package query answers questions against the knowledge base. A RAG query
// embeds the question, retrieves the most similar chunks above the
// similarity threshold, and generates an answer grounded in them; a plain
// query skips retrieval. Every query leaves exactly one resolved record.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/metrics"
	"github.com/enterprise-kb/backend/internal/storage/models"
	"github.com/enterprise-kb/backend/internal/vector"
	"github.com/enterprise-kb/backend/pkg/config"
	"github.com/enterprise-kb/backend/pkg/logger"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateStream(ctx context.Context, systemPrompt, userPrompt string, emit func(fragment string) error) error
}

// Store is the query side of the state store.
type Store interface {
	InsertQueryRecord(record *models.QueryRecord) error
	ResolveQuery(record *models.QueryRecord) error
	GetQueryHistory(userID string, limit int) ([]models.QueryRecord, error)
	GetSessionHistory(sessionID string) ([]models.QueryRecord, error)
	SearchQueryHistory(userID, keyword string, limit int) ([]models.QueryRecord, error)
	GetQueryStatistics(userID string) (*models.QueryStatistics, error)
	GetPopularQuestions(userID string, limit int) ([]models.PopularQuestion, error)
	DeleteQueryHistoryBefore(userID string, cutoff time.Time) (int64, error)
}

type Composer struct {
	store    Store
	searcher vector.Searcher
	embedder Embedder
	ragGen   Generator
	plainGen Generator
	cfg      config.QueryConfig
}

// NewComposer wires the answer composer. ragGen and plainGen may be tuned
// differently; the RAG generator should run at low temperature so answers
// stay close to the retrieved text.
func NewComposer(store Store, searcher vector.Searcher, embedder Embedder,
	ragGen, plainGen Generator, cfg config.QueryConfig) *Composer {

	return &Composer{
		store:    store,
		searcher: searcher,
		embedder: embedder,
		ragGen:   ragGen,
		plainGen: plainGen,
		cfg:      cfg,
	}
}

type Request struct {
	Question  string
	UserID    string
	Category  string
	SessionID string
	UseRAG    bool
}

type Result struct {
	QueryID         string   `json:"queryId"`
	Question        string   `json:"question"`
	Answer          string   `json:"answer"`
	Status          string   `json:"status"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	Sources         []string `json:"sources"`
	SourceDocuments int      `json:"sourceDocuments"`
	SimilarityScore float64  `json:"similarityScore"`
	ResponseTimeMS  int64    `json:"responseTimeMs"`
}

// Answer resolves one query. The returned error covers only input
// validation and the initial record insert; retrieval and generation
// failures are captured in the resolved record and the returned result.
func (c *Composer) Answer(ctx context.Context, req Request) (*Result, error) {
	record, err := c.begin(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	answer, retrieval, genErr := c.respond(ctx, req, func(ctx context.Context, system, user string, gen Generator) (string, error) {
		return gen.Generate(ctx, system, user)
	})

	return c.resolve(record, req, answer, retrieval, genErr, start), nil
}

// AnswerStream behaves like Answer but delivers the generated answer
// incrementally through emit. The resolved record holds the full answer
// accumulated from the fragments.
func (c *Composer) AnswerStream(ctx context.Context, req Request, emit func(fragment string) error) (*Result, error) {
	record, err := c.begin(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	answer, retrieval, genErr := c.respond(ctx, req, func(ctx context.Context, system, user string, gen Generator) (string, error) {
		var full strings.Builder
		err := gen.GenerateStream(ctx, system, user, func(fragment string) error {
			full.WriteString(fragment)
			return emit(fragment)
		})
		return full.String(), err
	})

	return c.resolve(record, req, answer, retrieval, genErr, start), nil
}

// History returns the user's most recent queries, newest first. The limit
// is clamped to the configured maximum.
func (c *Composer) History(userID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 || limit > c.cfg.MaxHistory {
		limit = c.cfg.MaxHistory
	}
	return c.store.GetQueryHistory(userID, limit)
}

func (c *Composer) SessionHistory(sessionID string) ([]models.QueryRecord, error) {
	return c.store.GetSessionHistory(sessionID)
}

// SearchHistory finds the user's past queries matching a keyword, newest
// first. The limit is clamped the same way History clamps it.
func (c *Composer) SearchHistory(userID, keyword string, limit int) ([]models.QueryRecord, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, models.NewValidationError("search keyword is required")
	}
	if limit <= 0 || limit > c.cfg.MaxHistory {
		limit = c.cfg.MaxHistory
	}
	return c.store.SearchQueryHistory(userID, keyword, limit)
}

func (c *Composer) Statistics(userID string) (*models.QueryStatistics, error) {
	return c.store.GetQueryStatistics(userID)
}

func (c *Composer) PopularQuestions(userID string, limit int) ([]models.PopularQuestion, error) {
	if limit <= 0 || limit > c.cfg.MaxHistory {
		limit = c.cfg.MaxHistory
	}
	return c.store.GetPopularQuestions(userID, limit)
}

// PurgeHistory deletes the user's query records older than the retention
// window and reports how many were removed.
func (c *Composer) PurgeHistory(userID string, retention time.Duration) (int64, error) {
	if retention < 0 {
		return 0, models.NewValidationError("retention must not be negative")
	}
	return c.store.DeleteQueryHistoryBefore(userID, time.Now().Add(-retention))
}

func (c *Composer) begin(req Request) (*models.QueryRecord, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, models.NewValidationError("question is required")
	}
	if c.cfg.MaxQuestionLength > 0 && len([]rune(question)) > c.cfg.MaxQuestionLength {
		return nil, models.NewValidationError("question exceeds maximum length of %d characters", c.cfg.MaxQuestionLength)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, models.NewValidationError("user id is required")
	}

	record := &models.QueryRecord{
		ID:        uuid.NewString(),
		Question:  question,
		UserID:    req.UserID,
		Category:  req.Category,
		SessionID: req.SessionID,
		QueryTime: time.Now(),
		Status:    models.QueryStatusProcessing,
	}

	if err := c.store.InsertQueryRecord(record); err != nil {
		return nil, err
	}

	return record, nil
}

type retrievalOutcome struct {
	sources   []string
	chunks    int
	meanScore float64
}

type generateFn func(ctx context.Context, system, user string, gen Generator) (string, error)

func (c *Composer) respond(ctx context.Context, req Request, generate generateFn) (string, retrievalOutcome, error) {
	var retrieval retrievalOutcome

	if !req.UseRAG {
		answer, err := generate(ctx, plainSystemPrompt, req.Question, c.plainGen)
		return answer, retrieval, err
	}

	embedding, err := c.embedder.GenerateEmbedding(ctx, req.Question)
	if err != nil {
		return "", retrieval, fmt.Errorf("failed to embed question: %w", err)
	}

	results, err := c.searcher.Search(ctx, embedding, c.cfg.MaxResults, c.cfg.SimilarityThreshold, req.Category)
	if err != nil {
		return "", retrieval, fmt.Errorf("failed to search index: %w", err)
	}

	retrieval = summarize(results)
	metrics.RetrievalResults.Observe(float64(retrieval.chunks))
	if retrieval.chunks > 0 {
		metrics.SimilarityScore.Observe(retrieval.meanScore)
	}

	logger.Debug("Chunks retrieved",
		zap.Int("count", retrieval.chunks),
		zap.Float64("mean_score", retrieval.meanScore),
		zap.String("category", req.Category),
	)

	system := ragSystemPrompt(results, req.Category)
	answer, err := generate(ctx, system, req.Question, c.ragGen)
	return answer, retrieval, err
}

func (c *Composer) resolve(record *models.QueryRecord, req Request, answer string,
	retrieval retrievalOutcome, genErr error, start time.Time) *Result {

	record.ResponseTimeMS = time.Since(start).Milliseconds()
	record.SourceDocuments = len(retrieval.sources)
	record.SimilarityScore = retrieval.meanScore

	switch {
	case genErr == nil:
		record.Status = models.QueryStatusSuccess
		record.Answer = answer
	case errors.Is(genErr, context.DeadlineExceeded):
		record.Status = models.QueryStatusTimeout
		record.ErrorMessage = genErr.Error()
	default:
		record.Status = models.QueryStatusError
		record.ErrorMessage = genErr.Error()
	}

	if err := c.store.ResolveQuery(record); err != nil {
		logger.Error("Failed to resolve query record",
			zap.String("query_id", record.ID),
			zap.Error(err),
		)
	}

	mode := "plain"
	if req.UseRAG {
		mode = "rag"
	}
	metrics.QueryTotal.WithLabelValues(strings.ToLower(record.Status)).Inc()
	metrics.QueryDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	if genErr != nil {
		logger.Warn("Query failed",
			zap.String("query_id", record.ID),
			zap.String("status", record.Status),
			zap.Error(genErr),
		)
	}

	return &Result{
		QueryID:         record.ID,
		Question:        record.Question,
		Answer:          record.Answer,
		Status:          record.Status,
		ErrorMessage:    record.ErrorMessage,
		Sources:         retrieval.sources,
		SourceDocuments: record.SourceDocuments,
		SimilarityScore: record.SimilarityScore,
		ResponseTimeMS:  record.ResponseTimeMS,
	}
}

// summarize collapses retrieved chunks into the distinct source filenames
// in first-appearance order and the mean similarity over all chunks. No
// retrieved chunks means a mean of 0.0, not an error.
func summarize(results []vector.SearchResult) retrievalOutcome {
	outcome := retrievalOutcome{chunks: len(results)}
	if len(results) == 0 {
		return outcome
	}

	seen := make(map[string]struct{})
	var sum float64
	for _, r := range results {
		sum += r.Score
		if _, ok := seen[r.Filename]; !ok {
			seen[r.Filename] = struct{}{}
			outcome.sources = append(outcome.sources, r.Filename)
		}
	}
	outcome.meanScore = sum / float64(len(results))

	return outcome
}

const plainSystemPrompt = "You are a helpful enterprise assistant. " +
	"Answer the user's question clearly and concisely from your general knowledge."

func ragSystemPrompt(results []vector.SearchResult, category string) string {
	var b strings.Builder

	b.WriteString("You are an enterprise knowledge base assistant. ")
	b.WriteString("Answer the user's question using the reference excerpts below.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString("1. Ground every statement in the reference excerpts; do not invent facts.\n")
	b.WriteString("2. Cover every part of the question the excerpts can answer.\n")
	b.WriteString("3. Organize the answer so it is easy to read.\n")
	b.WriteString("4. Name the source document supporting each key point.\n")
	b.WriteString("5. If the excerpts do not contain the answer, say so explicitly.\n")

	if category != "" {
		fmt.Fprintf(&b, "\nThe user is asking within the %q category; give material from that category particular weight.\n", category)
	}

	if len(results) == 0 {
		b.WriteString("\nNo reference excerpts matched the question. State that the knowledge base has no relevant material and answer only what you can without it.\n")
		return b.String()
	}

	b.WriteString("\nReference excerpts:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s (category: %s, similarity: %.2f)\n%s\n", i+1, r.Filename, r.Category, r.Score, r.Text)
	}

	return b.String()
}
