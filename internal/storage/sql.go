package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/config"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for PostgreSQL
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
)

const createSnapshotsTableSQLite = `
CREATE TABLE IF NOT EXISTS workflow_snapshots (
	workflow_id TEXT NOT NULL,
	version     INTEGER NOT NULL,
	status      TEXT NOT NULL,
	data        TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (workflow_id, version)
)`

const createSnapshotsTablePostgres = `
CREATE TABLE IF NOT EXISTS workflow_snapshots (
	workflow_id TEXT NOT NULL,
	version     BIGINT NOT NULL,
	status      TEXT NOT NULL,
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workflow_id, version)
)`

// sqlStore implements SnapshotStore over database/sql. It serves both the
// SQLite and PostgreSQL backends; the dialect only affects placeholders
// and schema DDL.
type sqlStore struct {
	db       *sql.DB
	postgres bool
}

// NewSQLiteStore opens the SQLite snapshot store, creating the database
// file and schema as needed.
func NewSQLiteStore(ctx context.Context, cfg config.LocalStorageConfig) (SnapshotStore, error) {
	dbDir := filepath.Dir(cfg.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=60000",
		cfg.DatabasePath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under concurrency.
	db.SetMaxOpenConns(1)

	store := &sqlStore{db: db}
	if _, err := db.ExecContext(ctx, createSnapshotsTableSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return store, nil
}

// NewPostgresStore opens the PostgreSQL snapshot store.
func NewPostgresStore(ctx context.Context, cfg config.PostgresStorageConfig) (SnapshotStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		if cfg.Host == "" {
			return nil, fmt.Errorf("postgres configuration requires either a connection string or host information")
		}
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
		if cfg.SSLMode == "" {
			cfg.SSLMode = "disable"
		}

		pgURL := &url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:   "/" + strings.TrimPrefix(cfg.Database, "/"),
		}
		if cfg.Password != "" {
			pgURL.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			pgURL.User = url.User(cfg.User)
		}
		query := pgURL.Query()
		query.Set("sslmode", cfg.SSLMode)
		pgURL.RawQuery = query.Encode()
		dsn = pgURL.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Std() > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Std())
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}

	store := &sqlStore{db: db, postgres: true}
	if _, err := db.ExecContext(ctx, createSnapshotsTablePostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return store, nil
}

// rebind converts ? placeholders to $n for the postgres dialect.
func (s *sqlStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *sqlStore) Put(ctx context.Context, snapshot *types.WorkflowSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return &StorageError{Op: "put", Cause: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "put", Cause: err}
	}
	defer tx.Rollback()

	var last sql.NullInt64
	row := tx.QueryRowContext(ctx,
		s.rebind(`SELECT MAX(version) FROM workflow_snapshots WHERE workflow_id = ?`),
		snapshot.WorkflowID)
	if err := row.Scan(&last); err != nil {
		return &StorageError{Op: "put", Cause: err}
	}

	expected := last.Int64 + 1
	if snapshot.Version != expected {
		return &VersionConflictError{
			WorkflowID: snapshot.WorkflowID,
			Expected:   expected,
			Got:        snapshot.Version,
		}
	}

	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO workflow_snapshots (workflow_id, version, status, data, created_at) VALUES (?, ?, ?, ?, ?)`),
		snapshot.WorkflowID, snapshot.Version, string(snapshot.Workflow.Status), string(data), createdAt)
	if err != nil {
		// A concurrent writer may have taken the version between the
		// MAX read and the insert; the primary key catches it. Release
		// the transaction before re-reading, the SQLite backend has a
		// single connection.
		if isUniqueViolation(err) {
			tx.Rollback()
			return s.versionConflict(ctx, snapshot.WorkflowID, snapshot.Version)
		}
		return &StorageError{Op: "put", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "put", Cause: err}
	}
	return nil
}

// versionConflict re-reads the stored high-water mark so the reported
// expected version is the truth after the race, not a stale guess.
func (s *sqlStore) versionConflict(ctx context.Context, workflowID string, got int64) error {
	var last sql.NullInt64
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT MAX(version) FROM workflow_snapshots WHERE workflow_id = ?`),
		workflowID)
	if err := row.Scan(&last); err != nil {
		return &StorageError{Op: "put", Cause: err}
	}
	return &VersionConflictError{
		WorkflowID: workflowID,
		Expected:   last.Int64 + 1,
		Got:        got,
	}
}

func (s *sqlStore) Latest(ctx context.Context, workflowID string) (*types.WorkflowSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT data FROM workflow_snapshots WHERE workflow_id = ? ORDER BY version DESC LIMIT 1`),
		workflowID)
	return s.scanSnapshot(row, workflowID, 0)
}

func (s *sqlStore) Get(ctx context.Context, workflowID string, version int64) (*types.WorkflowSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT data FROM workflow_snapshots WHERE workflow_id = ? AND version = ?`),
		workflowID, version)
	return s.scanSnapshot(row, workflowID, version)
}

func (s *sqlStore) scanSnapshot(row *sql.Row, workflowID string, version int64) (*types.WorkflowSnapshot, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{WorkflowID: workflowID, Version: version}
		}
		return nil, &StorageError{Op: "get", Cause: err}
	}

	var snapshot types.WorkflowSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, &StorageError{Op: "get", Cause: err}
	}
	return &snapshot, nil
}

func (s *sqlStore) List(ctx context.Context, workflowID string) ([]types.SnapshotSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT workflow_id, version, status, created_at FROM workflow_snapshots WHERE workflow_id = ? ORDER BY version ASC`),
		workflowID)
	if err != nil {
		return nil, &StorageError{Op: "list", Cause: err}
	}
	defer rows.Close()

	summaries := []types.SnapshotSummary{}
	for rows.Next() {
		var summary types.SnapshotSummary
		var status string
		if err := rows.Scan(&summary.WorkflowID, &summary.Version, &status, &summary.Timestamp); err != nil {
			return nil, &StorageError{Op: "list", Cause: err}
		}
		summary.Status = types.WorkflowStatus(status)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Cause: err}
	}
	return summaries, nil
}

func (s *sqlStore) ListAll(ctx context.Context) ([]types.SnapshotSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id, version, status, created_at FROM workflow_snapshots ORDER BY workflow_id ASC, version ASC`)
	if err != nil {
		return nil, &StorageError{Op: "list_all", Cause: err}
	}
	defer rows.Close()

	summaries := []types.SnapshotSummary{}
	for rows.Next() {
		var summary types.SnapshotSummary
		var status string
		if err := rows.Scan(&summary.WorkflowID, &summary.Version, &status, &summary.Timestamp); err != nil {
			return nil, &StorageError{Op: "list_all", Cause: err}
		}
		summary.Status = types.WorkflowStatus(status)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list_all", Cause: err}
	}
	return summaries, nil
}

func (s *sqlStore) ListWorkflows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT workflow_id FROM workflow_snapshots ORDER BY workflow_id`)
	if err != nil {
		return nil, &StorageError{Op: "list_workflows", Cause: err}
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "list_workflows", Cause: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list_workflows", Cause: err}
	}
	return ids, nil
}

func (s *sqlStore) Prune(ctx context.Context, workflowID string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM workflow_snapshots WHERE workflow_id = ? AND version <= (
			SELECT MAX(version) FROM workflow_snapshots WHERE workflow_id = ?
		) - ?`),
		workflowID, workflowID, keep)
	if err != nil {
		return &StorageError{Op: "prune", Cause: err}
	}
	return nil
}

func (s *sqlStore) PruneOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM workflow_snapshots WHERE created_at < ? AND version < (
			SELECT MAX(version) FROM workflow_snapshots AS latest
			WHERE latest.workflow_id = workflow_snapshots.workflow_id
		)`),
		cutoff)
	if err != nil {
		return &StorageError{Op: "prune_older_than", Cause: err}
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}
