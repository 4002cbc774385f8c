package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pratikjadhav2726/RecruitRAG/internal/ai"
)

// Match is one ranked answer from a skill query.
type Match struct {
	Link      string
	Relevance float64
}

type indexRecord struct {
	Skillset []string  `json:"skillset"`
	Link     string    `json:"link"`
	Vector   []float32 `json:"vector"`
}

type indexFile struct {
	SourceHash string        `json:"source_hash"`
	Records    []indexRecord `json:"records"`
}

// Store answers nearest-match queries over embedded portfolio entries.
// The index lives in a single JSON file; rebuilds write to a temporary file
// and publish it with an atomic rename so concurrent queries never observe a
// half-written index.
type Store struct {
	path     string
	embedder ai.Embedder
	logger   *zap.Logger

	mu    sync.RWMutex
	index indexFile
}

// NewStore creates a Store persisting its index at path.
func NewStore(path string, embedder ai.Embedder, logger *zap.Logger) *Store {
	return &Store{
		path:     path,
		embedder: embedder,
		logger:   logger,
	}
}

// Load reads the on-disk index if one exists. A missing file leaves the store
// empty and is not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index %s: %w", s.path, err)
	}

	var index indexFile
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("parse index %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	return nil
}

// Fresh reports whether the loaded index was built from a source with the
// provided hash. Staleness beyond the hash is the caller's responsibility.
func (s *Store) Fresh(sourceHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sourceHash != "" && s.index.SourceHash == sourceHash && len(s.index.Records) > 0
}

// Len returns the number of indexed entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index.Records)
}

// Index rebuilds the index from scratch: every entry's skillset is embedded,
// the result is written next to the live index file and swapped in atomically.
// Rebuilding with identical entries yields an index with identical query
// results.
func (s *Store) Index(ctx context.Context, entries []Entry, sourceHash string) error {
	index := indexFile{SourceHash: sourceHash, Records: make([]indexRecord, 0, len(entries))}

	for _, entry := range entries {
		vector, err := s.embedder.Embed(ctx, strings.Join(entry.Skillset, ", "))
		if err != nil {
			return fmt.Errorf("embed portfolio entry %q: %w", entry.Link, err)
		}

		index.Records = append(index.Records, indexRecord{
			Skillset: entry.Skillset,
			Link:     entry.Link,
			Vector:   vector,
		})
	}

	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "index-*.json")
	if err != nil {
		return fmt.Errorf("create temporary index: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temporary index: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temporary index: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish index: %w", err)
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("portfolio index rebuilt",
			zap.Int("entries", len(index.Records)),
			zap.String("path", s.path),
		)
	}

	return nil
}

// Query returns up to k links ranked by cosine similarity between the joined
// skill text and the indexed skillsets. An empty index yields an empty result,
// not an error. Ties keep the original entry order.
func (s *Store) Query(ctx context.Context, skills []string, k int) ([]Match, error) {
	if len(skills) == 0 {
		return nil, errors.New("query skills must not be empty")
	}
	if k < 1 {
		k = 1
	}

	s.mu.RLock()
	records := s.index.Records
	s.mu.RUnlock()

	if len(records) == 0 {
		return []Match{}, nil
	}

	query, err := s.embedder.Embed(ctx, strings.Join(skills, ", "))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches := make([]Match, 0, len(records))
	for _, record := range records {
		matches = append(matches, Match{
			Link:      record.Link,
			Relevance: cosine(query, record.Vector),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance > matches[j].Relevance
	})

	if len(matches) > k {
		matches = matches[:k]
	}

	return matches, nil
}

// Skillsets returns the skill tags of indexed entries keyed by link, feeding
// the retrieval coverage score.
func (s *Store) Skillsets() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sets := make(map[string][]string, len(s.index.Records))
	for _, record := range s.index.Records {
		sets[record.Link] = record.Skillset
	}
	return sets
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
