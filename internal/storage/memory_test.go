package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

func snapshot(workflowID string, version int64, status types.WorkflowStatus) *types.WorkflowSnapshot {
	return &types.WorkflowSnapshot{
		WorkflowID: workflowID,
		Version:    version,
		Workflow: types.Workflow{
			WorkflowID: workflowID,
			Status:     status,
			Steps: []types.StepDescriptor{
				{ID: "s1", Name: "s1", Action: types.ActionRef{Kind: types.ActionKindNoop, Name: "s1"}},
			},
		},
		StepStates: []types.StepState{{Status: types.StepStatusNotStarted}},
		CreatedAt:  time.Now(),
	}
}

func TestPutEnforcesDenseVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, snapshot("wf", 1, types.WorkflowStatusPending)))
	require.NoError(t, store.Put(ctx, snapshot("wf", 2, types.WorkflowStatusRunning)))

	// Skipping a version is rejected.
	err := store.Put(ctx, snapshot("wf", 4, types.WorkflowStatusRunning))
	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(3), conflict.Expected)
	require.Equal(t, int64(4), conflict.Got)

	// Repeating a version is rejected too.
	err = store.Put(ctx, snapshot("wf", 2, types.WorkflowStatusRunning))
	require.ErrorAs(t, err, &conflict)

	// The first version of a workflow must be 1.
	err = store.Put(ctx, snapshot("other", 5, types.WorkflowStatusPending))
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(1), conflict.Expected)
}

func TestLatestAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, snapshot("wf", 1, types.WorkflowStatusPending)))
	require.NoError(t, store.Put(ctx, snapshot("wf", 2, types.WorkflowStatusRunning)))

	latest, err := store.Latest(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, int64(2), latest.Version)
	require.Equal(t, types.WorkflowStatusRunning, latest.Workflow.Status)

	first, err := store.Get(ctx, "wf", 1)
	require.NoError(t, err)
	require.Equal(t, types.WorkflowStatusPending, first.Workflow.Status)

	var notFound *NotFoundError
	_, err = store.Latest(ctx, "missing")
	require.ErrorAs(t, err, &notFound)

	_, err = store.Get(ctx, "wf", 9)
	require.ErrorAs(t, err, &notFound)
}

func TestStoredSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	original := snapshot("wf", 1, types.WorkflowStatusPending)
	require.NoError(t, store.Put(ctx, original))

	// Mutating the caller's copy must not affect the stored snapshot.
	original.Workflow.Status = types.WorkflowStatusFailed
	original.StepStates[0].Status = types.StepStatusFailed

	stored, err := store.Latest(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, types.WorkflowStatusPending, stored.Workflow.Status)
	require.Equal(t, types.StepStatusNotStarted, stored.StepStates[0].Status)
}

func TestListAndListWorkflows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, snapshot("a", 1, types.WorkflowStatusPending)))
	require.NoError(t, store.Put(ctx, snapshot("a", 2, types.WorkflowStatusCompleted)))
	require.NoError(t, store.Put(ctx, snapshot("b", 1, types.WorkflowStatusPending)))

	summaries, err := store.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, int64(1), summaries[0].Version)
	require.Equal(t, int64(2), summaries[1].Version)
	require.Equal(t, types.WorkflowStatusCompleted, summaries[1].Status)

	ids, err := store.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestListAllSpansWorkflows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	require.NoError(t, store.Put(ctx, snapshot("b", 1, types.WorkflowStatusPending)))
	require.NoError(t, store.Put(ctx, snapshot("a", 1, types.WorkflowStatusPending)))
	require.NoError(t, store.Put(ctx, snapshot("a", 2, types.WorkflowStatusCompleted)))

	all, err = store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].WorkflowID)
	require.Equal(t, int64(1), all[0].Version)
	require.Equal(t, int64(2), all[1].Version)
	require.Equal(t, "b", all[2].WorkflowID)
}

func TestPruneKeepsNewestAndVersioningContinues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for v := int64(1); v <= 5; v++ {
		require.NoError(t, store.Put(ctx, snapshot("wf", v, types.WorkflowStatusRunning)))
	}

	require.NoError(t, store.Prune(ctx, "wf", 2))

	summaries, err := store.List(ctx, "wf")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, int64(4), summaries[0].Version)
	require.Equal(t, int64(5), summaries[1].Version)

	// New writes continue the dense sequence from the kept versions.
	require.NoError(t, store.Put(ctx, snapshot("wf", 6, types.WorkflowStatusCompleted)))
}

func TestPruneOlderThanKeepsLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old := snapshot("wf", 1, types.WorkflowStatusPending)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Put(ctx, old))

	older := snapshot("wf", 2, types.WorkflowStatusRunning)
	older.CreatedAt = time.Now().Add(-47 * time.Hour)
	require.NoError(t, store.Put(ctx, older))

	require.NoError(t, store.PruneOlderThan(ctx, time.Now().Add(-time.Hour)))

	summaries, err := store.List(ctx, "wf")
	require.NoError(t, err)
	// Both are older than the cutoff but the latest is always kept.
	require.Len(t, summaries, 1)
	require.Equal(t, int64(2), summaries[0].Version)
}

func TestInjectedPutFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.FailPuts = true

	err := store.Put(ctx, snapshot("wf", 1, types.WorkflowStatusPending))
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
}
