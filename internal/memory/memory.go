package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one stored observation with an optional embedding.
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists observations for later retrieval during reasoning.
type Store interface {
	Add(ctx context.Context, content string, embedding []float64) (string, error)
	Search(ctx context.Context, query string, limit int) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// InMemoryStore keeps entries in process memory. Used when
// memory.persistent is disabled and in tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemoryStore returns an empty ephemeral store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Add stores content and returns the generated entry ID.
func (s *InMemoryStore) Add(_ context.Context, content string, embedding []float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{
		ID:        uuid.New().String(),
		Content:   content,
		Embedding: embedding,
		CreatedAt: time.Now(),
	}
	s.entries = append(s.entries, entry)
	return entry.ID, nil
}

// Search returns up to limit entries ranked by term overlap with query.
func (s *InMemoryStore) Search(_ context.Context, query string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rankByOverlap(s.entries, query, limit), nil
}

// Count returns the number of stored entries.
func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Close is a no-op for the ephemeral store.
func (s *InMemoryStore) Close() error { return nil }

// rankByOverlap scores entries by the number of query terms they contain.
// Entries with zero overlap are excluded. Ties break toward newer entries.
func rankByOverlap(entries []Entry, query string, limit int) []Entry {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	type scored struct {
		entry Entry
		score int
	}
	matches := make([]scored, 0, len(entries))
	for _, e := range entries {
		content := strings.ToLower(e.Content)
		score := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{entry: e, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].entry.CreatedAt.After(matches[j].entry.CreatedAt)
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	results := make([]Entry, len(matches))
	for i, m := range matches {
		results[i] = m.entry
	}
	return results
}
