package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise-kb/backend/internal/vector"
)

func TestEscapeExprValue(t *testing.T) {
	assert.Equal(t, `plain-id`, escapeExprValue(`plain-id`))
	assert.Equal(t, `say \"hi\"`, escapeExprValue(`say "hi"`))
	assert.Equal(t, `a\" or category != \"`, escapeExprValue(`a" or category != "`))
}

func TestFilterByThreshold(t *testing.T) {
	results := []vector.SearchResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.6},
		{ChunkID: "c3", Score: 0.81},
	}

	kept := filterByThreshold(results, 0.75)

	require.Len(t, kept, 2)
	assert.Equal(t, "c1", kept[0].ChunkID)
	assert.InDelta(t, 0.9, kept[0].Score, 1e-9)
	assert.Equal(t, "c3", kept[1].ChunkID)
	assert.InDelta(t, 0.81, kept[1].Score, 1e-9)
}

func TestFilterByThresholdBoundary(t *testing.T) {
	results := []vector.SearchResult{
		{ChunkID: "exact", Score: 0.75},
		{ChunkID: "below", Score: 0.7499},
	}

	kept := filterByThreshold(results, 0.75)

	// Scores equal to the threshold are kept.
	require.Len(t, kept, 1)
	assert.Equal(t, "exact", kept[0].ChunkID)
}

func TestFilterByThresholdSortsDescending(t *testing.T) {
	results := []vector.SearchResult{
		{ChunkID: "b", Score: 0.8},
		{ChunkID: "a", Score: 0.95},
		{ChunkID: "c", Score: 0.78},
	}

	kept := filterByThreshold(results, 0.5)

	require.Len(t, kept, 3)
	assert.Equal(t, []string{"a", "b", "c"},
		[]string{kept[0].ChunkID, kept[1].ChunkID, kept[2].ChunkID})
}

func TestFilterByThresholdEmpty(t *testing.T) {
	assert.Empty(t, filterByThreshold(nil, 0.75))
	assert.Empty(t, filterByThreshold([]vector.SearchResult{{Score: 0.1}}, 0.75))
}
