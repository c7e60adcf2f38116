// Package index provides BM25 full-text search over the published tool
// catalog. It answers "what registered tools match this query" locally,
// complementing the retrieval facade which targets tools the gateway does
// not know about yet.
package index

import (
	"fmt"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/catalog"
)

// BleveIndex wraps Bleve index operations
type BleveIndex struct {
	index  bleve.Index
	logger *zap.Logger
}

// toolDocument is the indexed form of a catalog descriptor.
type toolDocument struct {
	ToolName    string `json:"tool_name"`
	Backend     string `json:"backend"`
	Description string `json:"description"`
	SchemaJSON  string `json:"schema_json"`
}

// SearchHit is one search result.
type SearchHit struct {
	ToolName    string  `json:"tool_name"`
	Backend     string  `json:"backend"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// NewBleveIndex opens or creates the tool index under dataDir.
func NewBleveIndex(dataDir string, logger *zap.Logger) (*BleveIndex, error) {
	indexPath := filepath.Join(dataDir, "tools.bleve")

	index, err := bleve.Open(indexPath)
	if err != nil {
		logger.Info("Creating new Bleve index", zap.String("path", indexPath))
		index, err = createBleveIndex(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
	} else {
		logger.Info("Opened existing Bleve index", zap.String("path", indexPath))
	}

	return &BleveIndex{index: index, logger: logger}, nil
}

// NewMemoryIndex creates an in-memory index, used by tests.
func NewMemoryIndex(logger *zap.Logger) (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	return &BleveIndex{index: index, logger: logger}, nil
}

func buildMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	toolMapping := bleve.NewDocumentMapping()

	// exact-match fields
	toolNameField := bleve.NewTextFieldMapping()
	toolNameField.Analyzer = keyword.Name
	toolNameField.Store = true
	toolMapping.AddFieldMappingsAt("tool_name", toolNameField)

	backendField := bleve.NewTextFieldMapping()
	backendField.Analyzer = keyword.Name
	backendField.Store = true
	toolMapping.AddFieldMappingsAt("backend", backendField)

	// full-text fields
	descriptionField := bleve.NewTextFieldMapping()
	descriptionField.Analyzer = standard.Name
	descriptionField.Store = true
	toolMapping.AddFieldMappingsAt("description", descriptionField)

	schemaField := bleve.NewTextFieldMapping()
	schemaField.Analyzer = standard.Name
	schemaField.Store = true
	toolMapping.AddFieldMappingsAt("schema_json", schemaField)

	indexMapping.AddDocumentMapping("tool", toolMapping)
	indexMapping.DefaultMapping = toolMapping
	return indexMapping
}

func createBleveIndex(indexPath string) (bleve.Index, error) {
	return bleve.New(indexPath, buildMapping())
}

// Close closes the index
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// IndexTools indexes catalog descriptors in a single batch. Implements
// catalog.Sink so publishes keep the index current.
func (b *BleveIndex) IndexTools(descriptors []*catalog.ToolDescriptor) error {
	batch := b.index.NewBatch()

	for _, desc := range descriptors {
		doc := &toolDocument{
			ToolName:    desc.Name,
			Backend:     desc.Backend,
			Description: desc.Description,
			SchemaJSON:  string(desc.InputSchema),
		}
		if err := batch.Index(desc.Name, doc); err != nil {
			return fmt.Errorf("failed to batch tool %s: %w", desc.Name, err)
		}
	}

	b.logger.Debug("Batch indexing tools", zap.Int("count", len(descriptors)))
	return b.index.Batch(batch)
}

// RemoveBackendTools deletes every document belonging to a backend.
func (b *BleveIndex) RemoveBackendTools(backend string) error {
	query := bleve.NewTermQuery(backend)
	query.SetField("backend")

	searchReq := bleve.NewSearchRequest(query)
	searchReq.Size = 1000
	searchReq.Fields = []string{"tool_name"}

	searchResult, err := b.index.Search(searchReq)
	if err != nil {
		return fmt.Errorf("failed to search for backend tools: %w", err)
	}

	for _, hit := range searchResult.Hits {
		if err := b.index.Delete(hit.ID); err != nil {
			b.logger.Warn("Failed to delete tool from index",
				zap.String("tool_id", hit.ID), zap.Error(err))
		}
	}

	b.logger.Info("Removed backend tools from index",
		zap.Int("count", len(searchResult.Hits)),
		zap.String("backend", backend))
	return nil
}

// SearchTools searches descriptors using BM25 scoring.
func (b *BleveIndex) SearchTools(query string, limit int) ([]*SearchHit, error) {
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	searchReq := bleve.NewSearchRequest(matchQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"tool_name", "backend", "description"}

	searchResult, err := b.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var results []*SearchHit
	for _, hit := range searchResult.Hits {
		results = append(results, &SearchHit{
			ToolName:    getStringField(hit.Fields, "tool_name"),
			Backend:     getStringField(hit.Fields, "backend"),
			Description: getStringField(hit.Fields, "description"),
			Score:       hit.Score,
		})
	}

	b.logger.Debug("Found tools matching query",
		zap.Int("count", len(results)), zap.String("query", query))
	return results, nil
}

// DocCount returns the number of indexed tools.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

func getStringField(fields map[string]interface{}, fieldName string) string {
	if val, ok := fields[fieldName]; ok {
		if strVal, ok := val.(string); ok {
			return strVal
		}
	}
	return ""
}
