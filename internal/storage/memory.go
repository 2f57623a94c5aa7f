package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

var errInjectedFailure = errors.New("injected write failure")

// MemoryStore keeps snapshots in process memory. Used in memory storage
// mode and in tests. Snapshots are deep-copied on the way in and out so
// callers cannot alias stored state.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]*types.WorkflowSnapshot

	// FailPuts makes every Put return a StorageError. Tests use it to
	// exercise persistence-failure handling.
	FailPuts bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]*types.WorkflowSnapshot)}
}

func cloneSnapshot(s *types.WorkflowSnapshot) (*types.WorkflowSnapshot, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out types.WorkflowSnapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Put persists a snapshot, enforcing dense monotonic versions.
func (m *MemoryStore) Put(_ context.Context, snapshot *types.WorkflowSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPuts {
		return &StorageError{Op: "put", Cause: errInjectedFailure}
	}

	existing := m.snapshots[snapshot.WorkflowID]
	expected := int64(1)
	if len(existing) > 0 {
		expected = existing[len(existing)-1].Version + 1
	}
	if snapshot.Version != expected {
		return &VersionConflictError{
			WorkflowID: snapshot.WorkflowID,
			Expected:   expected,
			Got:        snapshot.Version,
		}
	}

	stored, err := cloneSnapshot(snapshot)
	if err != nil {
		return &StorageError{Op: "put", Cause: err}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.snapshots[snapshot.WorkflowID] = append(existing, stored)
	return nil
}

// Latest returns the highest-version snapshot of the workflow.
func (m *MemoryStore) Latest(_ context.Context, workflowID string) (*types.WorkflowSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing := m.snapshots[workflowID]
	if len(existing) == 0 {
		return nil, &NotFoundError{WorkflowID: workflowID}
	}
	return cloneOrStorageError(existing[len(existing)-1])
}

// Get returns one specific snapshot version.
func (m *MemoryStore) Get(_ context.Context, workflowID string, version int64) (*types.WorkflowSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.snapshots[workflowID] {
		if s.Version == version {
			return cloneOrStorageError(s)
		}
	}
	return nil, &NotFoundError{WorkflowID: workflowID, Version: version}
}

// List returns summaries of all snapshots of a workflow, oldest first.
func (m *MemoryStore) List(_ context.Context, workflowID string) ([]types.SnapshotSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing := m.snapshots[workflowID]
	summaries := make([]types.SnapshotSummary, 0, len(existing))
	for _, s := range existing {
		summaries = append(summaries, types.SnapshotSummary{
			WorkflowID: s.WorkflowID,
			Version:    s.Version,
			Status:     s.Workflow.Status,
			Timestamp:  s.CreatedAt,
		})
	}
	return summaries, nil
}

// ListAll returns summaries of every snapshot of every workflow, ordered
// by workflow ID then version.
func (m *MemoryStore) ListAll(_ context.Context) ([]types.SnapshotSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	summaries := []types.SnapshotSummary{}
	for _, id := range ids {
		for _, s := range m.snapshots[id] {
			summaries = append(summaries, types.SnapshotSummary{
				WorkflowID: s.WorkflowID,
				Version:    s.Version,
				Status:     s.Workflow.Status,
				Timestamp:  s.CreatedAt,
			})
		}
	}
	return summaries, nil
}

// ListWorkflows returns the IDs of all persisted workflows.
func (m *MemoryStore) ListWorkflows(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Prune removes the oldest snapshots so that at most keep remain.
func (m *MemoryStore) Prune(_ context.Context, workflowID string, keep int) error {
	if keep < 1 {
		keep = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.snapshots[workflowID]
	if len(existing) > keep {
		m.snapshots[workflowID] = existing[len(existing)-keep:]
	}
	return nil
}

// PruneOlderThan removes snapshots created before cutoff, keeping the
// latest snapshot of each workflow.
func (m *MemoryStore) PruneOlderThan(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.snapshots {
		kept := existing[:0]
		for i, s := range existing {
			if i == len(existing)-1 || !s.CreatedAt.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		m.snapshots[id] = kept
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

func cloneOrStorageError(s *types.WorkflowSnapshot) (*types.WorkflowSnapshot, error) {
	out, err := cloneSnapshot(s)
	if err != nil {
		return nil, &StorageError{Op: "get", Cause: err}
	}
	return out, nil
}
