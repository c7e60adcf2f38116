package retrieval

import (
	"context"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

// Fallback serves a fixed, deterministic candidate set so tool discovery
// keeps answering when the semantic index is unreachable. Same input, same
// output, no external dependencies.
type Fallback struct{}

// NewFallback creates the fallback strategy.
func NewFallback() *Fallback {
	return &Fallback{}
}

// fallbackCandidates is ordered by descending score.
var fallbackCandidates = []contracts.RetrievalCandidate{
	{
		ToolName:        "web-search",
		Description:     "Search the web for current information on any topic",
		SimilarityScore: 0.95,
	},
	{
		ToolName:        "file-reader",
		Description:     "Read and summarize local files and documents",
		SimilarityScore: 0.88,
	},
	{
		ToolName:        "database-query",
		Description:     "Run structured queries against connected databases",
		SimilarityScore: 0.82,
	},
	{
		ToolName:        "general-assistant",
		Description:     "General purpose assistant for tasks without a specialized tool",
		SimilarityScore: 0.5,
	},
}

// Retrieve returns the top candidates from the fixed set.
func (f *Fallback) Retrieve(_ context.Context, _ string, topK int, _ bool) ([]contracts.RetrievalCandidate, error) {
	if topK <= 0 || topK > len(fallbackCandidates) {
		topK = len(fallbackCandidates)
	}
	out := make([]contracts.RetrievalCandidate, topK)
	copy(out, fallbackCandidates[:topK])
	return out, nil
}
