package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise-kb/backend/internal/storage/models"
	"github.com/enterprise-kb/backend/internal/vector"
	"github.com/enterprise-kb/backend/pkg/config"
)

type fakeQueryStore struct {
	inserted      []*models.QueryRecord
	resolved      []*models.QueryRecord
	historyLimit  int
	searchKeyword string
	searchLimit   int
	popularLimit  int
	purgeCutoff   time.Time
	purged        int64
	stats         *models.QueryStatistics
}

func (s *fakeQueryStore) InsertQueryRecord(record *models.QueryRecord) error {
	r := *record
	s.inserted = append(s.inserted, &r)
	return nil
}

func (s *fakeQueryStore) ResolveQuery(record *models.QueryRecord) error {
	r := *record
	s.resolved = append(s.resolved, &r)
	return nil
}

func (s *fakeQueryStore) GetQueryHistory(userID string, limit int) ([]models.QueryRecord, error) {
	s.historyLimit = limit
	return nil, nil
}

func (s *fakeQueryStore) GetSessionHistory(sessionID string) ([]models.QueryRecord, error) {
	return nil, nil
}

func (s *fakeQueryStore) SearchQueryHistory(userID, keyword string, limit int) ([]models.QueryRecord, error) {
	s.searchKeyword = keyword
	s.searchLimit = limit
	return nil, nil
}

func (s *fakeQueryStore) GetQueryStatistics(userID string) (*models.QueryStatistics, error) {
	return s.stats, nil
}

func (s *fakeQueryStore) GetPopularQuestions(userID string, limit int) ([]models.PopularQuestion, error) {
	s.popularLimit = limit
	return nil, nil
}

func (s *fakeQueryStore) DeleteQueryHistoryBefore(userID string, cutoff time.Time) (int64, error) {
	s.purgeCutoff = cutoff
	return s.purged, nil
}

type fakeSearcher struct {
	results  []vector.SearchResult
	err      error
	called   bool
	topK     int
	thresh   float64
	category string
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, topK int, threshold float64, category string) ([]vector.SearchResult, error) {
	f.called = true
	f.topK = topK
	f.thresh = threshold
	f.category = category
	return f.results, f.err
}

type fakeQueryEmbedder struct {
	err error
}

func (f *fakeQueryEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeGenerator struct {
	answer    string
	err       error
	called    bool
	system    string
	user      string
	fragments []string
}

func (g *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.called = true
	g.system = systemPrompt
	g.user = userPrompt
	return g.answer, g.err
}

func (g *fakeGenerator) GenerateStream(ctx context.Context, systemPrompt, userPrompt string, emit func(string) error) error {
	g.called = true
	g.system = systemPrompt
	g.user = userPrompt
	if g.err != nil {
		return g.err
	}
	for _, fragment := range g.fragments {
		if err := emit(fragment); err != nil {
			return err
		}
	}
	return nil
}

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		MaxResults:          5,
		SimilarityThreshold: 0.75,
		MaxHistory:          10,
		MaxQuestionLength:   1000,
	}
}

func newTestComposer(store *fakeQueryStore, searcher *fakeSearcher, ragGen, plainGen *fakeGenerator) *Composer {
	return NewComposer(store, searcher, &fakeQueryEmbedder{}, ragGen, plainGen, testQueryConfig())
}

func TestAnswerRAG(t *testing.T) {
	store := &fakeQueryStore{}
	searcher := &fakeSearcher{results: []vector.SearchResult{
		{Filename: "guide.pdf", Category: "ops", Text: "restart the scheduler", Score: 0.9},
		{Filename: "runbook.md", Category: "ops", Text: "check the queue depth", Score: 0.81},
		{Filename: "guide.pdf", Category: "ops", Text: "scheduler flags", Score: 0.78},
	}}
	ragGen := &fakeGenerator{answer: "Restart the scheduler."}
	plainGen := &fakeGenerator{}

	c := newTestComposer(store, searcher, ragGen, plainGen)

	result, err := c.Answer(context.Background(), Request{
		Question: "How do I restart the scheduler?",
		UserID:   "alice",
		Category: "ops",
		UseRAG:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.QueryStatusSuccess, result.Status)
	assert.Equal(t, "Restart the scheduler.", result.Answer)
	assert.InDelta(t, (0.9+0.81+0.78)/3, result.SimilarityScore, 1e-9)

	// Distinct source filenames in first-appearance order.
	assert.Equal(t, []string{"guide.pdf", "runbook.md"}, result.Sources)
	assert.Equal(t, 2, result.SourceDocuments)

	assert.Equal(t, 5, searcher.topK)
	assert.InDelta(t, 0.75, searcher.thresh, 1e-9)
	assert.Equal(t, "ops", searcher.category)

	// The grounding prompt carries the retrieved text and category emphasis.
	assert.Contains(t, ragGen.system, "restart the scheduler")
	assert.Contains(t, ragGen.system, "guide.pdf")
	assert.Contains(t, ragGen.system, `"ops"`)
	assert.Equal(t, "How do I restart the scheduler?", ragGen.user)
	assert.False(t, plainGen.called)

	require.Len(t, store.resolved, 1)
	assert.Equal(t, models.QueryStatusSuccess, store.resolved[0].Status)
	assert.Equal(t, 2, store.resolved[0].SourceDocuments)
}

func TestAnswerNoRetrievedChunks(t *testing.T) {
	store := &fakeQueryStore{}
	searcher := &fakeSearcher{}
	ragGen := &fakeGenerator{answer: "The knowledge base has no relevant material."}

	c := newTestComposer(store, searcher, ragGen, &fakeGenerator{})

	result, err := c.Answer(context.Background(), Request{
		Question: "What is the vacation policy?",
		UserID:   "alice",
		UseRAG:   true,
	})
	require.NoError(t, err)

	// Zero hits is a normal resolution, not an error.
	assert.Equal(t, models.QueryStatusSuccess, result.Status)
	assert.Equal(t, 0, result.SourceDocuments)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.SimilarityScore)
	assert.Contains(t, ragGen.system, "No reference excerpts matched")
}

func TestAnswerGenerationError(t *testing.T) {
	store := &fakeQueryStore{}
	ragGen := &fakeGenerator{err: errors.New("model overloaded")}

	c := newTestComposer(store, &fakeSearcher{}, ragGen, &fakeGenerator{})

	result, err := c.Answer(context.Background(), Request{
		Question: "anything",
		UserID:   "alice",
		UseRAG:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.QueryStatusError, result.Status)
	assert.Empty(t, result.Answer)
	assert.Contains(t, result.ErrorMessage, "model overloaded")

	require.Len(t, store.resolved, 1)
	assert.Equal(t, models.QueryStatusError, store.resolved[0].Status)
}

func TestAnswerTimeout(t *testing.T) {
	store := &fakeQueryStore{}
	ragGen := &fakeGenerator{err: fmt.Errorf("completion: %w", context.DeadlineExceeded)}

	c := newTestComposer(store, &fakeSearcher{}, ragGen, &fakeGenerator{})

	result, err := c.Answer(context.Background(), Request{
		Question: "anything",
		UserID:   "alice",
		UseRAG:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.QueryStatusTimeout, result.Status)
	require.Len(t, store.resolved, 1)
	assert.Equal(t, models.QueryStatusTimeout, store.resolved[0].Status)
}

func TestAnswerPlainSkipsRetrieval(t *testing.T) {
	store := &fakeQueryStore{}
	searcher := &fakeSearcher{}
	plainGen := &fakeGenerator{answer: "General knowledge answer."}

	c := newTestComposer(store, searcher, &fakeGenerator{}, plainGen)

	result, err := c.Answer(context.Background(), Request{
		Question: "What is Kubernetes?",
		UserID:   "alice",
		UseRAG:   false,
	})
	require.NoError(t, err)

	assert.False(t, searcher.called)
	assert.True(t, plainGen.called)
	assert.Equal(t, "General knowledge answer.", result.Answer)
	assert.Equal(t, 0, result.SourceDocuments)
}

func TestAnswerRejectsInvalidInput(t *testing.T) {
	store := &fakeQueryStore{}
	c := newTestComposer(store, &fakeSearcher{}, &fakeGenerator{}, &fakeGenerator{})

	_, err := c.Answer(context.Background(), Request{Question: "   ", UserID: "alice"})
	assert.True(t, models.IsValidation(err))

	_, err = c.Answer(context.Background(), Request{Question: "valid", UserID: ""})
	assert.True(t, models.IsValidation(err))

	long := make([]rune, 1001)
	for i := range long {
		long[i] = 'q'
	}
	_, err = c.Answer(context.Background(), Request{Question: string(long), UserID: "alice"})
	assert.True(t, models.IsValidation(err))

	// Nothing was recorded for rejected questions.
	assert.Empty(t, store.inserted)
}

func TestHistoryClampsLimit(t *testing.T) {
	store := &fakeQueryStore{}
	c := newTestComposer(store, &fakeSearcher{}, &fakeGenerator{}, &fakeGenerator{})

	_, err := c.History("alice", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, store.historyLimit)

	_, err = c.History("alice", 50)
	require.NoError(t, err)
	assert.Equal(t, 10, store.historyLimit)

	_, err = c.History("alice", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, store.historyLimit)
}

func TestSearchHistoryRequiresKeyword(t *testing.T) {
	store := &fakeQueryStore{}
	c := newTestComposer(store, &fakeSearcher{}, &fakeGenerator{}, &fakeGenerator{})

	_, err := c.SearchHistory("alice", "   ", 5)
	assert.True(t, models.IsValidation(err))

	_, err = c.SearchHistory("alice", "scheduler", 50)
	require.NoError(t, err)
	assert.Equal(t, "scheduler", store.searchKeyword)
	// The limit is clamped like History's.
	assert.Equal(t, 10, store.searchLimit)
}

func TestPopularQuestionsClampsLimit(t *testing.T) {
	store := &fakeQueryStore{}
	c := newTestComposer(store, &fakeSearcher{}, &fakeGenerator{}, &fakeGenerator{})

	_, err := c.PopularQuestions("alice", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, store.popularLimit)

	_, err = c.PopularQuestions("alice", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, store.popularLimit)
}

func TestPurgeHistory(t *testing.T) {
	store := &fakeQueryStore{purged: 4}
	c := newTestComposer(store, &fakeSearcher{}, &fakeGenerator{}, &fakeGenerator{})

	_, err := c.PurgeHistory("alice", -time.Hour)
	assert.True(t, models.IsValidation(err))

	deleted, err := c.PurgeHistory("alice", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.WithinDuration(t, time.Now().Add(-30*24*time.Hour), store.purgeCutoff, time.Minute)
}

func TestStatisticsPassthrough(t *testing.T) {
	store := &fakeQueryStore{stats: &models.QueryStatistics{Total: 7, Success: 5, Error: 1, Timeout: 1}}
	c := newTestComposer(store, &fakeSearcher{}, &fakeGenerator{}, &fakeGenerator{})

	stats, err := c.Statistics("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.Total)
	assert.Equal(t, int64(5), stats.Success)
}

func TestAnswerStreamAccumulatesFragments(t *testing.T) {
	store := &fakeQueryStore{}
	ragGen := &fakeGenerator{fragments: []string{"Restart ", "the ", "scheduler."}}

	c := newTestComposer(store, &fakeSearcher{
		results: []vector.SearchResult{{Filename: "guide.pdf", Text: "restart it", Score: 0.8}},
	}, ragGen, &fakeGenerator{})

	var streamed []string
	result, err := c.AnswerStream(context.Background(), Request{
		Question: "How do I restart the scheduler?",
		UserID:   "alice",
		UseRAG:   true,
	}, func(fragment string) error {
		streamed = append(streamed, fragment)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Restart ", "the ", "scheduler."}, streamed)
	assert.Equal(t, "Restart the scheduler.", result.Answer)
	assert.Equal(t, models.QueryStatusSuccess, result.Status)

	require.Len(t, store.resolved, 1)
	assert.Equal(t, "Restart the scheduler.", store.resolved[0].Answer)
}
