package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
)

var entriesBucket = []byte("memory_entries")

// BoltStore persists entries in a BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the BoltDB file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB at %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create BoltDB bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Add stores content and returns the generated entry ID.
func (s *BoltStore) Add(ctx context.Context, content string, embedding []float64) (string, error) {
	// Fast-fail check since BoltDB doesn't support mid-flight cancellation
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled before BoltDB Add operation: %w", err)
	}

	entry := Entry{
		ID:        uuid.New().String(),
		Content:   content,
		Embedding: embedding,
		CreatedAt: time.Now(),
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal memory entry: %w", err)
		}
		// Key by timestamp then ID so cursor order is insertion order.
		key := fmt.Sprintf("%020d:%s", entry.CreatedAt.UnixNano(), entry.ID)
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// Search returns up to limit entries ranked by term overlap with query.
func (s *BoltStore) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before BoltDB Search operation: %w", err)
	}

	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal memory entry: %w", err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rankByOverlap(entries, query, limit), nil
}

// Count returns the number of stored entries.
func (s *BoltStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled before BoltDB Count operation: %w", err)
	}

	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(entriesBucket).Stats().KeyN
		return nil
	})
	return count, err
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
