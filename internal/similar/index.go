// Package similar keeps an in-memory full-text index of approved fixes so
// a new failure can be matched against fixes that worked before.
package similar

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

const (
	// DefaultMinScore drops weak matches.
	DefaultMinScore = 0.05

	defaultLimit  = 5
	maxQueryRunes = 2000
)

// Document is one approved fix as indexed.
type Document struct {
	FixID       string
	ErrorLog    string
	Description string
	Category    string
	Repository  string
}

// Match is a ranked search hit.
type Match struct {
	FixID       string  `json:"fix_id"`
	Description string  `json:"description"`
	Category    string  `json:"error_type"`
	Repository  string  `json:"repository"`
	Score       float64 `json:"score"`
}

// Index is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	index    bleve.Index
	minScore float64
	logger   *zap.Logger
}

// New creates an empty in-memory index.
func New(minScore float64, logger *zap.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &Index{
		index:    idx,
		minScore: minScore,
		logger:   logger.Named("similar_index"),
	}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	fixMapping := bleve.NewDocumentMapping()

	fixMapping.AddFieldMappingsAt("error_log", bleve.NewTextFieldMapping())
	fixMapping.AddFieldMappingsAt("description", bleve.NewTextFieldMapping())

	// Exact-match fields for filtering.
	fixMapping.AddFieldMappingsAt("category", bleve.NewKeywordFieldMapping())
	fixMapping.AddFieldMappingsAt("repository", bleve.NewKeywordFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = fixMapping
	return indexMapping
}

func fields(doc Document) map[string]interface{} {
	return map[string]interface{}{
		"error_log":   doc.ErrorLog,
		"description": doc.Description,
		"category":    doc.Category,
		"repository":  doc.Repository,
	}
}

// Add indexes or replaces one fix.
func (i *Index) Add(doc Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.index.Index(doc.FixID, fields(doc)); err != nil {
		return fmt.Errorf("failed to index fix %s: %w", doc.FixID, err)
	}
	return nil
}

// Rebuild replaces the whole index with docs.
func (i *Index) Rebuild(docs []Document) error {
	fresh, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create bleve index: %w", err)
	}

	batch := fresh.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.FixID, fields(doc)); err != nil {
			i.logger.Warn("failed to index fix", zap.String("fix_id", doc.FixID), zap.Error(err))
		}
	}
	if err := fresh.Batch(batch); err != nil {
		fresh.Close()
		return fmt.Errorf("failed to batch index fixes: %w", err)
	}

	i.mu.Lock()
	old := i.index
	i.index = fresh
	i.mu.Unlock()

	i.logger.Info("similar-fix index rebuilt", zap.Int("documents", len(docs)))
	return old.Close()
}

// Search returns approved fixes resembling errorLog, best first. A
// non-empty category restricts results to that category.
func (i *Index) Search(errorLog, category string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	text := []rune(errorLog)
	if len(text) > maxQueryRunes {
		text = text[:maxQueryRunes]
	}

	logQuery := bleve.NewMatchQuery(string(text))
	logQuery.SetField("error_log")
	descQuery := bleve.NewMatchQuery(string(text))
	descQuery.SetField("description")

	var q query.Query = bleve.NewDisjunctionQuery(logQuery, descQuery)
	if category != "" {
		categoryQuery := bleve.NewTermQuery(category)
		categoryQuery.SetField("category")
		q = bleve.NewConjunctionQuery(q, categoryQuery)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"description", "category", "repository"}

	i.mu.RLock()
	results, err := i.index.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	matches := make([]Match, 0, len(results.Hits))
	for _, hit := range results.Hits {
		if hit.Score < i.minScore {
			continue
		}
		description, _ := hit.Fields["description"].(string)
		cat, _ := hit.Fields["category"].(string)
		repo, _ := hit.Fields["repository"].(string)
		matches = append(matches, Match{
			FixID:       hit.ID,
			Description: description,
			Category:    cat,
			Repository:  repo,
			Score:       hit.Score,
		})
	}
	return matches, nil
}

// Count returns the number of indexed fixes.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	n, err := i.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get doc count: %w", err)
	}
	return n, nil
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}
