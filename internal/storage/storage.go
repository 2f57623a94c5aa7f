package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/config"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

// SnapshotStore persists versioned workflow snapshots. Snapshots are
// append-only; versions per workflow are dense and start at 1.
type SnapshotStore interface {
	// Put persists a snapshot. The version must be exactly one greater
	// than the last persisted version for the workflow (1 for the first
	// write); anything else returns a VersionConflictError.
	Put(ctx context.Context, snapshot *types.WorkflowSnapshot) error

	// Latest returns the highest-version snapshot of the workflow, or a
	// NotFoundError when the workflow has never been persisted.
	Latest(ctx context.Context, workflowID string) (*types.WorkflowSnapshot, error)

	// Get returns one specific snapshot version.
	Get(ctx context.Context, workflowID string, version int64) (*types.WorkflowSnapshot, error)

	// List returns summaries of all snapshots of a workflow, oldest first.
	List(ctx context.Context, workflowID string) ([]types.SnapshotSummary, error)

	// ListAll returns summaries of every snapshot of every workflow,
	// ordered by workflow ID then version.
	ListAll(ctx context.Context) ([]types.SnapshotSummary, error)

	// ListWorkflows returns the IDs of all persisted workflows.
	ListWorkflows(ctx context.Context) ([]string, error)

	// Prune removes the oldest snapshots of a workflow so that at most
	// keep remain. The latest snapshot is never removed.
	Prune(ctx context.Context, workflowID string, keep int) error

	// PruneOlderThan removes snapshots created before cutoff, except the
	// latest snapshot of each workflow.
	PruneOlderThan(ctx context.Context, cutoff time.Time) error

	Close() error
}

// VersionConflictError is returned when a Put skips or repeats a version.
type VersionConflictError struct {
	WorkflowID string
	Expected   int64
	Got        int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for workflow %s: expected %d, got %d",
		e.WorkflowID, e.Expected, e.Got)
}

// NotFoundError is returned when a workflow or snapshot version does not
// exist in the store.
type NotFoundError struct {
	WorkflowID string
	Version    int64
}

func (e *NotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("snapshot %d of workflow %s not found", e.Version, e.WorkflowID)
	}
	return fmt.Sprintf("workflow %s not found", e.WorkflowID)
}

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStore builds the snapshot store selected by configuration.
func NewStore(ctx context.Context, cfg config.StorageConfig) (SnapshotStore, error) {
	switch cfg.Mode {
	case "memory":
		logger.Logger.Info().Msg("Using in-memory snapshot store")
		return NewMemoryStore(), nil
	case "local":
		logger.Logger.Info().
			Str("path", cfg.Local.DatabasePath).
			Msg("Using SQLite snapshot store")
		return NewSQLiteStore(ctx, cfg.Local)
	case "postgres":
		logger.Logger.Info().Msg("Using PostgreSQL snapshot store")
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage mode: %s", cfg.Mode)
	}
}
