// Package persist provides durable checkpoint storage for workflow
// executions: snapshots of the property map plus the index of the next
// operation to run, keyed by execution id.
//
// Implementations:
//   - In-memory (for testing, see memory.go)
//   - SQLite single-file database (see sqlite.go)
//   - MySQL (see mysql.go)
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no snapshot exists for a requested
// execution id.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is one durable checkpoint of a workflow execution.
//
// NextOperationIndex is the index of the next operation to run when the
// execution is resumed: after operation i completes successfully the
// smith checkpoints NextOperationIndex = i+1; when operation i fails it
// checkpoints NextOperationIndex = i so recovery re-runs the failed
// operation. -1 means the run never started.
type Snapshot struct {
	// ExecutionID identifies the execution. With deterministic keys
	// configured this is stable across process restarts.
	ExecutionID uuid.UUID `json:"executionId"`

	// WorkflowID identifies the workflow definition.
	WorkflowID uuid.UUID `json:"workflowId"`

	// WorkflowName is the human name of the workflow, for operators.
	WorkflowName string `json:"workflowName"`

	// NextOperationIndex is where a resume starts. -1 = not started.
	NextOperationIndex int `json:"nextOperationIndex"`

	// Properties is the foundry property map at checkpoint time.
	// Values must be JSON-serializable for the database providers.
	Properties map[string]any `json:"properties"`

	// SavedAt is when the checkpoint was taken.
	SavedAt time.Time `json:"savedAt"`
}

// Provider stores and retrieves execution snapshots.
//
// Save appends a new version for the execution; TryLoad returns the
// most recent version. Providers bound their per-execution history by
// a max-versions setting, purging oldest versions first.
type Provider interface {
	// Save persists one checkpoint. Each call appends a version.
	Save(ctx context.Context, snap Snapshot) error

	// TryLoad returns the latest snapshot for the execution, or
	// ErrNotFound when none exists.
	TryLoad(ctx context.Context, executionID uuid.UUID) (Snapshot, error)

	// Delete removes all snapshot versions for the execution. Deleting
	// an unknown execution is a no-op.
	Delete(ctx context.Context, executionID uuid.UUID) error
}

// Catalog lists executions with surviving snapshots, i.e. runs that
// checkpointed but never deleted their state, candidates for resume.
// Providers that can enumerate implement it alongside Provider.
type Catalog interface {
	// ListPending returns the latest snapshot of every stored execution.
	ListPending(ctx context.Context) ([]Snapshot, error)
}

// keyNamespace anchors deterministic id derivation. Changing it would
// orphan previously persisted executions, so it is fixed.
var keyNamespace = uuid.MustParse("8b61f3a4-55f0-47a8-9c3f-2f64d1c0b7e9")

// DeriveExecutionID maps a caller-chosen instance id (e.g. an order
// number) to a stable execution id. The same instanceID always yields
// the same UUID, so a restarted process finds its own checkpoints.
func DeriveExecutionID(instanceID string) uuid.UUID {
	return uuid.NewSHA1(keyNamespace, []byte("execution:"+instanceID))
}

// DeriveWorkflowID maps a caller-chosen workflow key to a stable
// workflow id.
func DeriveWorkflowID(workflowKey string) uuid.UUID {
	return uuid.NewSHA1(keyNamespace, []byte("workflow:"+workflowKey))
}
