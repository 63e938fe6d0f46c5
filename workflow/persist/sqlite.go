package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteProvider is a SQLite implementation of Provider.
//
// It stores execution snapshots in a single-file database. Designed
// for:
//   - Development and testing with zero setup
//   - Single-process workflows that must survive restarts
//   - Prototyping before migrating to a shared database
//
// SQLiteProvider uses WAL mode for concurrent reads and a busy timeout
// so writers wait for locks instead of failing.
type SQLiteProvider struct {
	db          *sql.DB
	mu          sync.RWMutex
	closed      bool
	path        string
	maxVersions int
}

// NewSQLiteProvider creates a SQLite-backed snapshot store.
//
// path specifies the database file location ("./forge.db", an absolute
// path, or ":memory:" for a throwaway in-memory database).
// maxVersions bounds retained history per execution; 0 = unlimited.
//
// The provider auto-creates the schema on first use.
func NewSQLiteProvider(path string, maxVersions int) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	p := &SQLiteProvider{db: db, path: path, maxVersions: maxVersions}
	if err := p.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return p, nil
}

// createTables creates the required schema if it doesn't exist.
func (p *SQLiteProvider) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS workflow_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			next_operation_index INTEGER NOT NULL,
			properties TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		)
	`
	if _, err := p.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create workflow_snapshots table: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_snapshots_execution ON workflow_snapshots(execution_id, id)"); err != nil {
		return fmt.Errorf("failed to create idx_snapshots_execution: %w", err)
	}
	return nil
}

// Save implements Provider. Each call appends a version; when the
// per-execution history exceeds maxVersions the oldest rows are purged.
func (p *SQLiteProvider) Save(ctx context.Context, snap Snapshot) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	propsJSON, err := json.Marshal(snap.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_snapshots
		(execution_id, workflow_id, workflow_name, next_operation_index, properties, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		snap.ExecutionID.String(),
		snap.WorkflowID.String(),
		snap.WorkflowName,
		snap.NextOperationIndex,
		string(propsJSON),
		snap.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if p.maxVersions > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM workflow_snapshots
			WHERE execution_id = ? AND id NOT IN (
				SELECT id FROM workflow_snapshots
				WHERE execution_id = ?
				ORDER BY id DESC
				LIMIT ?
			)
		`, snap.ExecutionID.String(), snap.ExecutionID.String(), p.maxVersions)
		if err != nil {
			return fmt.Errorf("failed to purge old snapshot versions: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TryLoad implements Provider. Returns the most recent version.
func (p *SQLiteProvider) TryLoad(ctx context.Context, executionID uuid.UUID) (Snapshot, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return Snapshot{}, fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	row := p.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_id, workflow_name, next_operation_index, properties, saved_at
		FROM workflow_snapshots
		WHERE execution_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, executionID.String())

	return scanSnapshot(row)
}

// Delete implements Provider.
func (p *SQLiteProvider) Delete(ctx context.Context, executionID uuid.UUID) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	_, err := p.db.ExecContext(ctx,
		"DELETE FROM workflow_snapshots WHERE execution_id = ?", executionID.String())
	if err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

// ListPending implements Catalog. Returns the latest version per
// execution, oldest saved first.
func (p *SQLiteProvider) ListPending(ctx context.Context) ([]Snapshot, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	rows, err := p.db.QueryContext(ctx, `
		SELECT s.execution_id, s.workflow_id, s.workflow_name, s.next_operation_index, s.properties, s.saved_at
		FROM workflow_snapshots s
		INNER JOIN (
			SELECT execution_id, MAX(id) AS max_id
			FROM workflow_snapshots
			GROUP BY execution_id
		) latest ON s.id = latest.max_id
		ORDER BY s.saved_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection. Double-close is a no-op.
func (p *SQLiteProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// Ping verifies the database connection is alive.
func (p *SQLiteProvider) Ping(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()
	return p.db.PingContext(ctx)
}

// Path returns the database file path, for debugging and logging.
func (p *SQLiteProvider) Path() string { return p.path }

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnapshot decodes one snapshot row.
func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		execIDStr string
		wfIDStr   string
		propsJSON string
		savedAt   string
		snap      Snapshot
	)
	err := row.Scan(&execIDStr, &wfIDStr, &snap.WorkflowName, &snap.NextOperationIndex, &propsJSON, &savedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if snap.ExecutionID, err = uuid.Parse(execIDStr); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse execution id: %w", err)
	}
	if snap.WorkflowID, err = uuid.Parse(wfIDStr); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse workflow id: %w", err)
	}
	if snap.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse saved_at: %w", err)
	}
	if err := json.Unmarshal([]byte(propsJSON), &snap.Properties); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	return snap, nil
}
