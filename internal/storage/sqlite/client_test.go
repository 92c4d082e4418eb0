package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise-kb/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.InitSchema())
	return c
}

func sampleDocument(id, owner, category, status string) *models.Document {
	return &models.Document{
		ID:          id,
		Filename:    id + ".txt",
		MD5Hash:     "abc123",
		Category:    category,
		UploadedBy:  owner,
		SizeBytes:   42,
		ContentType: "text/plain",
		UploadTime:  time.Now().Truncate(time.Second),
		Status:      status,
	}
}

func TestDocumentRoundtrip(t *testing.T) {
	c := newTestClient(t)

	doc := sampleDocument("doc-1", "alice", "ops", models.DocStatusProcessing)
	require.NoError(t, c.InsertDocument(doc))

	got, err := c.GetDocument("doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Filename, got.Filename)
	assert.Equal(t, doc.MD5Hash, got.MD5Hash)
	assert.Equal(t, doc.UploadedBy, got.UploadedBy)
	assert.Equal(t, models.DocStatusProcessing, got.Status)
	assert.Equal(t, doc.UploadTime.Unix(), got.UploadTime.Unix())
	assert.Nil(t, got.ProcessedTime)
	assert.Nil(t, got.ChunkCount)

	_, err = c.GetDocument("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarkCompletedSetsTerminalFields(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.InsertDocument(sampleDocument("doc-1", "alice", "ops", models.DocStatusProcessing)))

	processedAt := time.Now().Truncate(time.Second)
	require.NoError(t, c.MarkCompleted("doc-1", 17, processedAt))

	got, err := c.GetDocument("doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, got.Status)
	require.NotNil(t, got.ChunkCount)
	assert.Equal(t, 17, *got.ChunkCount)
	require.NotNil(t, got.ProcessedTime)
	assert.Equal(t, processedAt.Unix(), got.ProcessedTime.Unix())
	assert.Empty(t, got.ErrorMessage)
}

func TestMarkFailedRecordsMessage(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.InsertDocument(sampleDocument("doc-1", "alice", "ops", models.DocStatusProcessing)))

	require.NoError(t, c.MarkFailed("doc-1", "embed batch 2/3: quota exceeded"))

	got, err := c.GetDocument("doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, got.Status)
	assert.Equal(t, "embed batch 2/3: quota exceeded", got.ErrorMessage)
}

func TestResetFailedToProcessing(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.InsertDocument(sampleDocument("doc-1", "alice", "ops", models.DocStatusProcessing)))

	// PROCESSING documents are not eligible.
	reset, err := c.ResetFailedToProcessing("doc-1")
	require.NoError(t, err)
	assert.False(t, reset)

	require.NoError(t, c.MarkFailed("doc-1", "boom"))

	reset, err = c.ResetFailedToProcessing("doc-1")
	require.NoError(t, err)
	assert.True(t, reset)

	got, err := c.GetDocument("doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusProcessing, got.Status)
	assert.Empty(t, got.ErrorMessage)

	// Only one of two competing resets can win.
	reset, err = c.ResetFailedToProcessing("doc-1")
	require.NoError(t, err)
	assert.False(t, reset)
}

func TestListDocumentsFiltersByOwnerAndCategory(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.InsertDocument(sampleDocument("doc-1", "alice", "ops", models.DocStatusCompleted)))
	require.NoError(t, c.InsertDocument(sampleDocument("doc-2", "alice", "hr", models.DocStatusFailed)))
	require.NoError(t, c.InsertDocument(sampleDocument("doc-3", "bob", "ops", models.DocStatusCompleted)))

	docs, err := c.ListDocuments("alice", "")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = c.ListDocuments("alice", "ops")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)

	failed, err := c.ListFailedDocuments("alice")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "doc-2", failed[0].ID)

	categories, err := c.ListCategories("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"hr", "ops"}, categories)
}

func TestDeleteDocument(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.InsertDocument(sampleDocument("doc-1", "alice", "ops", models.DocStatusCompleted)))

	require.NoError(t, c.DeleteDocument("doc-1"))
	assert.ErrorIs(t, c.DeleteDocument("doc-1"), models.ErrNotFound)
}

func TestQueryRecordLifecycle(t *testing.T) {
	c := newTestClient(t)

	record := &models.QueryRecord{
		ID:        "q-1",
		Question:  "How do I restart the scheduler?",
		UserID:    "alice",
		Category:  "ops",
		SessionID: "sess-1",
		QueryTime: time.Now(),
		Status:    models.QueryStatusProcessing,
	}
	require.NoError(t, c.InsertQueryRecord(record))

	record.Answer = "Restart it with the admin CLI."
	record.Status = models.QueryStatusSuccess
	record.ResponseTimeMS = 840
	record.SourceDocuments = 2
	record.SimilarityScore = 0.855
	require.NoError(t, c.ResolveQuery(record))

	history, err := c.GetQueryHistory("alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	got := history[0]
	assert.Equal(t, "q-1", got.ID)
	assert.Equal(t, models.QueryStatusSuccess, got.Status)
	assert.Equal(t, "Restart it with the admin CLI.", got.Answer)
	assert.Equal(t, int64(840), got.ResponseTimeMS)
	assert.Equal(t, 2, got.SourceDocuments)
	assert.InDelta(t, 0.855, got.SimilarityScore, 1e-9)
}

func TestQueryHistoryOrderAndLimit(t *testing.T) {
	c := newTestClient(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.InsertQueryRecord(&models.QueryRecord{
			ID:        string(rune('a' + i)),
			Question:  "q",
			UserID:    "alice",
			SessionID: "sess-1",
			QueryTime: base.Add(time.Duration(i) * time.Minute),
			Status:    models.QueryStatusSuccess,
		}))
	}

	history, err := c.GetQueryHistory("alice", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Most recent first.
	assert.Equal(t, "e", history[0].ID)
	assert.Equal(t, "d", history[1].ID)
	assert.Equal(t, "c", history[2].ID)

	session, err := c.GetSessionHistory("sess-1")
	require.NoError(t, err)
	require.Len(t, session, 5)
	// Chronological within a session.
	assert.Equal(t, "a", session[0].ID)
	assert.Equal(t, "e", session[4].ID)
}

func insertResolvedQuery(t *testing.T, c *Client, id, userID, question, status string, responseMS int64, at time.Time) {
	t.Helper()
	record := &models.QueryRecord{
		ID:        id,
		Question:  question,
		UserID:    userID,
		QueryTime: at,
		Status:    models.QueryStatusProcessing,
	}
	require.NoError(t, c.InsertQueryRecord(record))

	record.Status = status
	record.ResponseTimeMS = responseMS
	record.Answer = "answer for " + question
	require.NoError(t, c.ResolveQuery(record))
}

func TestQueryStatistics(t *testing.T) {
	c := newTestClient(t)

	now := time.Now()
	insertResolvedQuery(t, c, "q-1", "alice", "restart scheduler", models.QueryStatusSuccess, 100, now)
	insertResolvedQuery(t, c, "q-2", "alice", "queue depth", models.QueryStatusSuccess, 300, now)
	insertResolvedQuery(t, c, "q-3", "alice", "broken", models.QueryStatusError, 50, now)
	insertResolvedQuery(t, c, "q-4", "alice", "slow", models.QueryStatusTimeout, 5000, now)
	insertResolvedQuery(t, c, "q-5", "bob", "other user", models.QueryStatusSuccess, 10, now)

	stats, err := c.GetQueryStatistics("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.Success)
	assert.Equal(t, int64(1), stats.Error)
	assert.Equal(t, int64(1), stats.Timeout)
	assert.InDelta(t, (100+300+50+5000)/4.0, stats.AvgResponseTimeMS, 1e-9)

	// No history at all yields zeroes, not an error.
	empty, err := c.GetQueryStatistics("carol")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Total)
	assert.Zero(t, empty.AvgResponseTimeMS)
}

func TestSearchQueryHistory(t *testing.T) {
	c := newTestClient(t)

	base := time.Now().Add(-time.Hour)
	insertResolvedQuery(t, c, "q-1", "alice", "how to restart the scheduler", models.QueryStatusSuccess, 100, base)
	insertResolvedQuery(t, c, "q-2", "alice", "vacation policy", models.QueryStatusSuccess, 100, base.Add(time.Minute))
	insertResolvedQuery(t, c, "q-3", "alice", "scheduler flags", models.QueryStatusSuccess, 100, base.Add(2*time.Minute))
	insertResolvedQuery(t, c, "q-4", "bob", "scheduler", models.QueryStatusSuccess, 100, base)

	records, err := c.SearchQueryHistory("alice", "scheduler", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first, never another user's rows.
	assert.Equal(t, "q-3", records[0].ID)
	assert.Equal(t, "q-1", records[1].ID)

	records, err = c.SearchQueryHistory("alice", "scheduler", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "q-3", records[0].ID)

	records, err = c.SearchQueryHistory("alice", "nothing matches this", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPopularQuestions(t *testing.T) {
	c := newTestClient(t)

	now := time.Now()
	for i := 0; i < 3; i++ {
		insertResolvedQuery(t, c, string(rune('a'+i)), "alice", "restart scheduler", models.QueryStatusSuccess, 100, now)
	}
	insertResolvedQuery(t, c, "x", "alice", "vacation policy", models.QueryStatusSuccess, 100, now)
	insertResolvedQuery(t, c, "y", "alice", "vacation policy", models.QueryStatusSuccess, 100, now)
	insertResolvedQuery(t, c, "z", "alice", "queue depth", models.QueryStatusSuccess, 100, now)

	popular, err := c.GetPopularQuestions("alice", 2)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, "restart scheduler", popular[0].Question)
	assert.Equal(t, int64(3), popular[0].Count)
	assert.Equal(t, "vacation policy", popular[1].Question)
	assert.Equal(t, int64(2), popular[1].Count)
}

func TestDeleteQueryHistoryBefore(t *testing.T) {
	c := newTestClient(t)

	now := time.Now()
	insertResolvedQuery(t, c, "old-1", "alice", "stale", models.QueryStatusSuccess, 100, now.Add(-48*time.Hour))
	insertResolvedQuery(t, c, "old-2", "alice", "stale too", models.QueryStatusSuccess, 100, now.Add(-36*time.Hour))
	insertResolvedQuery(t, c, "new-1", "alice", "fresh", models.QueryStatusSuccess, 100, now)
	insertResolvedQuery(t, c, "old-3", "bob", "stale but not alice's", models.QueryStatusSuccess, 100, now.Add(-48*time.Hour))

	deleted, err := c.DeleteQueryHistoryBefore("alice", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	history, err := c.GetQueryHistory("alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "new-1", history[0].ID)

	// Another user's old rows are untouched.
	bobHistory, err := c.GetQueryHistory("bob", 10)
	require.NoError(t, err)
	assert.Len(t, bobHistory, 1)
}

func TestSearchDocuments(t *testing.T) {
	c := newTestClient(t)

	runbook := sampleDocument("doc-1", "alice", "ops", models.DocStatusCompleted)
	runbook.Filename = "scheduler-runbook.md"
	require.NoError(t, c.InsertDocument(runbook))

	policy := sampleDocument("doc-2", "alice", "hr", models.DocStatusCompleted)
	policy.Filename = "policy.pdf"
	policy.Description = "covers the scheduler on-call rotation"
	require.NoError(t, c.InsertDocument(policy))

	other := sampleDocument("doc-3", "bob", "ops", models.DocStatusCompleted)
	other.Filename = "scheduler-notes.txt"
	require.NoError(t, c.InsertDocument(other))

	// Matches filename or description, scoped to the owner.
	docs, err := c.SearchDocuments("alice", "scheduler")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	docs, err = c.SearchDocuments("alice", "runbook")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)

	docs, err = c.SearchDocuments("alice", "no such thing")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentStatistics(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.InsertDocument(sampleDocument("doc-1", "alice", "ops", models.DocStatusProcessing)))
	require.NoError(t, c.InsertDocument(sampleDocument("doc-2", "alice", "ops", models.DocStatusProcessing)))
	require.NoError(t, c.InsertDocument(sampleDocument("doc-3", "alice", "hr", models.DocStatusProcessing)))
	require.NoError(t, c.InsertDocument(sampleDocument("doc-4", "bob", "ops", models.DocStatusProcessing)))

	require.NoError(t, c.MarkCompleted("doc-1", 12, time.Now()))
	require.NoError(t, c.MarkCompleted("doc-2", 8, time.Now()))
	require.NoError(t, c.MarkFailed("doc-3", "boom"))

	stats, err := c.GetDocumentStatistics("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(0), stats.Processing)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(3*42), stats.TotalSizeBytes)
	assert.Equal(t, int64(20), stats.TotalChunks)

	empty, err := c.GetDocumentStatistics("carol")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Total)
}
