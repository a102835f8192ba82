// Package vectorindex defines the VectorIndex capability (§6) the
// IndexerWorker hands chunks to, plus an in-memory reference
// implementation for tests and single-node deployments.
package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Chunk is one unit of text handed to AddChunks, carrying whatever
// metadata the caller wants filterable at Search time.
type Chunk struct {
	Text     string
	Metadata map[string]string
}

// SearchResult is one scored hit.
type SearchResult struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float64
}

// VectorIndex is the capability interface: add_chunks, search, delete,
// per §6.
type VectorIndex interface {
	AddChunks(ctx context.Context, docID string, chunks []Chunk) ([]string, error)
	Search(ctx context.Context, query string, topK int, filters map[string]string) ([]SearchResult, error)
	Delete(ctx context.Context, docID string) error
}

// MemoryIndex is a process-local VectorIndex backed by a term-overlap
// score instead of a real embedding model. It exists so the pipeline and
// indexer are fully exercisable without a network-backed embedding
// service; production deployments wire a real VectorIndex instead.
type MemoryIndex struct {
	mu     sync.Mutex
	seq    int
	chunks map[string]*storedChunk // chunk_id -> chunk
	byDoc  map[string][]string     // doc_id -> chunk_ids
}

type storedChunk struct {
	id       string
	docID    string
	text     string
	metadata map[string]string
	terms    map[string]int
}

// NewMemoryIndex constructs an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		chunks: make(map[string]*storedChunk),
		byDoc:  make(map[string][]string),
	}
}

func tokenize(s string) map[string]int {
	terms := make(map[string]int)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:()[]{}\"'")
		if f == "" {
			continue
		}
		terms[f]++
	}
	return terms
}

// AddChunks stores chunks under newly minted ids and returns them.
func (m *MemoryIndex) AddChunks(ctx context.Context, docID string, chunks []Chunk) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		m.seq++
		id := fmt.Sprintf("%s-chunk-%d", docID, m.seq)
		sc := &storedChunk{
			id:       id,
			docID:    docID,
			text:     c.Text,
			metadata: c.Metadata,
			terms:    tokenize(c.Text),
		}
		m.chunks[id] = sc
		m.byDoc[docID] = append(m.byDoc[docID], id)
		ids = append(ids, id)
	}
	return ids, nil
}

// Search ranks stored chunks by fraction of query terms present, after
// applying an exact-match AND filter over metadata.
func (m *MemoryIndex) Search(ctx context.Context, query string, topK int, filters map[string]string) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	qTerms := tokenize(query)

	m.mu.Lock()
	defer m.mu.Unlock()

	var results []SearchResult
	for _, sc := range m.chunks {
		if !matchesFilters(sc.metadata, filters) {
			continue
		}
		score := overlapScore(qTerms, sc.terms)
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{ID: sc.id, Text: sc.text, Metadata: sc.metadata, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func matchesFilters(metadata, filters map[string]string) bool {
	for k, v := range filters {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func overlapScore(query, doc map[string]int) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := doc[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Delete removes every chunk belonging to docID.
func (m *MemoryIndex) Delete(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.byDoc[docID] {
		delete(m.chunks, id)
	}
	delete(m.byDoc, docID)
	return nil
}

var _ VectorIndex = (*MemoryIndex)(nil)
