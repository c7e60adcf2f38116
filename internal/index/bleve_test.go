package index

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/catalog"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewMemoryIndex(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func seedTools(t *testing.T, idx *BleveIndex) {
	t.Helper()
	require.NoError(t, idx.IndexTools([]*catalog.ToolDescriptor{
		{
			Name:        "time.get_current_time",
			Backend:     "time",
			Description: "Get the current time in a given timezone",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string"}}}`),
		},
		{
			Name:        "search.web_search",
			Backend:     "search",
			Description: "Search the web for current information",
		},
		{
			Name:        "files.read_file",
			Backend:     "files",
			Description: "Read a file from the local filesystem",
		},
	}))
}

func TestSearchTools(t *testing.T) {
	idx := newTestIndex(t)
	seedTools(t, idx)

	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{"by description word", "timezone", "time.get_current_time"},
		{"web search", "web", "search.web_search"},
		{"filesystem", "filesystem", "files.read_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := idx.SearchTools(tt.query, 5)
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			assert.Equal(t, tt.expected, hits[0].ToolName)
			assert.Greater(t, hits[0].Score, 0.0)
		})
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.SearchTools("", 5)
	assert.Error(t, err)
}

func TestReindexReplacesDocument(t *testing.T) {
	idx := newTestIndex(t)
	seedTools(t, idx)

	require.NoError(t, idx.IndexTools([]*catalog.ToolDescriptor{
		{
			Name:        "time.get_current_time",
			Backend:     "time",
			Description: "Returns wall clock readings",
		},
	}))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count, "same name must replace, not duplicate")
}

func TestRemoveBackendTools(t *testing.T) {
	idx := newTestIndex(t)
	seedTools(t, idx)

	require.NoError(t, idx.RemoveBackendTools("time"))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	hits, err := idx.SearchTools("timezone", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
