package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLProvider is a MySQL implementation of Provider for
// multi-process deployments sharing one checkpoint store.
//
// The DSN must include parseTime=true so TIMESTAMP columns scan into
// time.Time, e.g.:
//
//	forge:secret@tcp(db:3306)/workflowforge?parseTime=true
type MySQLProvider struct {
	db          *sql.DB
	mu          sync.RWMutex
	closed      bool
	maxVersions int
}

// NewMySQLProvider creates a MySQL-backed snapshot store and
// auto-creates the schema. maxVersions bounds retained history per
// execution; 0 = unlimited.
func NewMySQLProvider(dsn string, maxVersions int) (*MySQLProvider, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	p := &MySQLProvider{db: db, maxVersions: maxVersions}
	if err := p.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return p, nil
}

// createTables creates the required schema if it doesn't exist.
func (p *MySQLProvider) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS workflow_snapshots (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id CHAR(36) NOT NULL,
			workflow_id CHAR(36) NOT NULL,
			workflow_name VARCHAR(255) NOT NULL,
			next_operation_index INT NOT NULL,
			properties JSON NOT NULL,
			saved_at TIMESTAMP(6) NOT NULL,
			INDEX idx_snapshots_execution (execution_id, id)
		)
	`
	if _, err := p.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create workflow_snapshots table: %w", err)
	}
	return nil
}

// Save implements Provider.
func (p *MySQLProvider) Save(ctx context.Context, snap Snapshot) error {
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
		snap.SavedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if p.maxVersions > 0 {
		// MySQL cannot delete from a table referenced in a subquery
		// without the extra derived-table wrapper.
		_, err = tx.ExecContext(ctx, `
			DELETE FROM workflow_snapshots
			WHERE execution_id = ? AND id NOT IN (
				SELECT id FROM (
					SELECT id FROM workflow_snapshots
					WHERE execution_id = ?
					ORDER BY id DESC
					LIMIT ?
				) keep
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

// TryLoad implements Provider.
func (p *MySQLProvider) TryLoad(ctx context.Context, executionID uuid.UUID) (Snapshot, error) {
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

	return scanMySQLSnapshot(row)
}

// Delete implements Provider.
func (p *MySQLProvider) Delete(ctx context.Context, executionID uuid.UUID) error {
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

// ListPending implements Catalog.
func (p *MySQLProvider) ListPending(ctx context.Context) ([]Snapshot, error) {
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
		snap, err := scanMySQLSnapshot(rows)
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
func (p *MySQLProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// Ping verifies the database connection is alive.
func (p *MySQLProvider) Ping(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()
	return p.db.PingContext(ctx)
}

// scanMySQLSnapshot decodes one snapshot row. saved_at scans directly
// into time.Time via parseTime=true.
func scanMySQLSnapshot(row rowScanner) (Snapshot, error) {
	var (
		execIDStr string
		wfIDStr   string
		propsJSON []byte
		snap      Snapshot
	)
	err := row.Scan(&execIDStr, &wfIDStr, &snap.WorkflowName, &snap.NextOperationIndex, &propsJSON, &snap.SavedAt)
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
	if err := json.Unmarshal(propsJSON, &snap.Properties); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	return snap, nil
}
