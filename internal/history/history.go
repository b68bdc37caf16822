// Package history keeps a bounded record of recent analyses with full-text
// search over the analyzed text and the findings. The ring and the search
// index evict together, so search never returns an entry the ring has
// already dropped.
package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/repguard/internal/analysis"
)

// DefaultCapacity bounds the ring when the config leaves it zero.
const DefaultCapacity = 256

// Entry is one recorded analysis.
type Entry struct {
	ID        string          `json:"id"`
	Text      string          `json:"text"`
	Result    analysis.Result `json:"result"`
	CreatedAt time.Time       `json:"createdAt"`
}

// indexDoc is the flattened shape handed to bleve. Fields are indexed only;
// entries rehydrate from the ring by ID.
type indexDoc struct {
	Text        string `json:"text"`
	Suggestions string `json:"suggestions"`
	RiskFactors string `json:"risk_factors"`
	Risk        string `json:"risk"`
	Provider    string `json:"provider"`
}

// Recorder is the history collaborator. Safe for concurrent use.
type Recorder struct {
	mu     sync.RWMutex
	ring   *lru.Cache[string, Entry]
	index  bleve.Index
	logger *zap.Logger
}

// NewRecorder creates a recorder with an in-memory search index. capacity <= 0
// takes DefaultCapacity.
func NewRecorder(capacity int, logger *zap.Logger) (*Recorder, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	r := &Recorder{logger: logger.Named("history")}

	index, err := bleve.NewMemOnly(createMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}
	r.index = index

	// Evicted ring entries leave the index in the same breath.
	ring, err := lru.NewWithEvict(capacity, func(id string, _ Entry) {
		if err := r.index.Delete(id); err != nil {
			r.logger.Warn("Failed to drop evicted entry from index", zap.String("id", id), zap.Error(err))
		}
	})
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to create history ring: %w", err)
	}
	r.ring = ring

	return r, nil
}

func createMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Index = true
	textField.Store = false
	textField.IncludeInAll = true
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("suggestions", textField)
	docMapping.AddFieldMappingsAt("risk_factors", textField)

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Index = true
	keywordField.Store = false
	keywordField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("risk", keywordField)
	docMapping.AddFieldMappingsAt("provider", keywordField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("analysis", docMapping)
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// Record stores an analysis and indexes it for search.
func (r *Recorder) Record(ctx context.Context, text string, res analysis.Result) (Entry, error) {
	entry := Entry{
		ID:        uuid.NewString(),
		Text:      text,
		Result:    res,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring.Add(entry.ID, entry)

	doc := indexDoc{
		Text:        text,
		Suggestions: strings.Join(res.Suggestions, "\n"),
		RiskFactors: strings.Join(res.RiskFactors, "\n"),
		Risk:        string(res.ReputationRisk),
		Provider:    string(res.Provider),
	}
	if err := r.index.Index(entry.ID, doc); err != nil {
		return Entry{}, fmt.Errorf("failed to index history entry: %w", err)
	}

	r.logger.Debug("Recorded analysis",
		zap.String("id", entry.ID),
		zap.String("provider", string(res.Provider)))

	return entry, nil
}

// Recent returns up to n entries, newest first. n <= 0 means all.
func (r *Recorder) Recent(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.ring.Keys()
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}

	entries := make([]Entry, 0, n)
	for i := len(keys) - 1; i >= 0 && len(entries) < n; i-- {
		if entry, ok := r.ring.Peek(keys[i]); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Search runs a match query over text, suggestions and risk factors and
// returns the surviving entries, best match first.
func (r *Recorder) Search(ctx context.Context, q string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	textQuery := query.NewMatchQuery(q)
	textQuery.SetField("text")
	suggestionQuery := query.NewMatchQuery(q)
	suggestionQuery.SetField("suggestions")
	factorQuery := query.NewMatchQuery(q)
	factorQuery.SetField("risk_factors")

	searchRequest := bleve.NewSearchRequest(
		query.NewDisjunctionQuery([]query.Query{textQuery, suggestionQuery, factorQuery}))
	searchRequest.Size = limit

	r.mu.RLock()
	defer r.mu.RUnlock()

	searchResult, err := r.index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}

	entries := make([]Entry, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		if entry, ok := r.ring.Peek(hit.ID); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Len reports how many entries the ring currently holds.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ring.Len()
}

// Close releases the search index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Close()
}
