package milvus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/vector"
	"github.com/enterprise-kb/backend/pkg/logger"
)

// Client stores document chunks in a Milvus collection and searches them
// by inner product over normalized embeddings, so scores are cosine
// similarity and can be compared against the configured threshold directly.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(endpoint, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Knowledge base document chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "filename",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "category",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "uploaded_by",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "upload_time",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, records []vector.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	texts := make([]string, len(records))
	documentIDs := make([]string, len(records))
	filenames := make([]string, len(records))
	categories := make([]string, len(records))
	owners := make([]string, len(records))
	uploadTimes := make([]int64, len(records))

	for i, record := range records {
		chunkIDs[i] = record.ChunkID
		embeddings[i] = record.Embedding
		texts[i] = record.Text
		documentIDs[i] = record.DocumentID
		filenames[i] = record.Filename
		categories[i] = record.Category
		owners[i] = record.UploadedBy
		uploadTimes[i] = record.UploadTime.Unix()
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("filename", filenames),
		entity.NewColumnVarChar("category", categories),
		entity.NewColumnVarChar("uploaded_by", owners),
		entity.NewColumnInt64("upload_time", uploadTimes),
	)

	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Chunks inserted into vector index", zap.Int("count", len(records)))

	return nil
}

func (m *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`document_id == "%s"`, escapeExprValue(documentID))

	err := m.client.Delete(ctx, m.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}

	logger.Info("Document chunks deleted from vector index", zap.String("document_id", documentID))
	return nil
}

func (m *Client) Search(ctx context.Context, embedding []float32, topK int, threshold float64, category string) ([]vector.SearchResult, error) {
	expr := ""
	if category != "" {
		expr = fmt.Sprintf(`category == "%s"`, escapeExprValue(category))
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "document_id", "filename", "category"},
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]vector.SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
			text, _ := sr.Fields.GetColumn("text").Get(i)
			documentID, _ := sr.Fields.GetColumn("document_id").Get(i)
			filename, _ := sr.Fields.GetColumn("filename").Get(i)
			cat, _ := sr.Fields.GetColumn("category").Get(i)

			results = append(results, vector.SearchResult{
				ChunkID:    chunkID.(string),
				Text:       text.(string),
				DocumentID: documentID.(string),
				Filename:   filename.(string),
				Category:   cat.(string),
				Score:      float64(sr.Scores[i]),
			})
		}
	}
	results = filterByThreshold(results, threshold)

	logger.Debug("Vector search completed",
		zap.Int("top_k", topK),
		zap.Float64("threshold", threshold),
		zap.Int("results", len(results)),
		zap.String("filter", expr),
	)

	return results, nil
}

// filterByThreshold keeps only results scoring at or above the threshold,
// ordered by descending score. Milvus returns IP hits best-first already;
// sorting here makes the contract hold regardless.
func filterByThreshold(results []vector.SearchResult, threshold float64) []vector.SearchResult {
	kept := results[:0]
	for _, r := range results {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	return kept
}

func escapeExprValue(v string) string {
	return strings.ReplaceAll(v, `"`, `\"`)
}
