package emit

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle transition in a workflow run.
type EventType string

// Workflow- and operation-level lifecycle events.
//
// Within one run, an OperationCompleted event always precedes the next
// OperationStarted event; the smith emits synchronously on the running
// goroutine.
const (
	WorkflowStarted   EventType = "WorkflowStarted"
	WorkflowCompleted EventType = "WorkflowCompleted"
	WorkflowFailed    EventType = "WorkflowFailed"
	WorkflowCancelled EventType = "WorkflowCancelled"

	OperationStarted   EventType = "OperationStarted"
	OperationCompleted EventType = "OperationCompleted"
	OperationFailed    EventType = "OperationFailed"
	OperationSkipped   EventType = "OperationSkipped"

	OperationRestoreStarted   EventType = "OperationRestoreStarted"
	OperationRestoreCompleted EventType = "OperationRestoreCompleted"
	OperationRestoreFailed    EventType = "OperationRestoreFailed"

	CompensationTriggered EventType = "CompensationTriggered"
	CompensationCompleted EventType = "CompensationCompleted"
)

// Event is an observability record emitted during workflow execution.
//
// Events carry the execution id and timestamp on every emission, an
// operation reference where applicable, and type-specific payload in
// the remaining fields:
//   - WorkflowCompleted: Duration, FinalProperties
//   - WorkflowFailed, OperationFailed, OperationRestoreFailed: Err (+ Duration)
//   - OperationCompleted, OperationRestoreCompleted: Duration
//   - CompensationTriggered: OperationName (failed op), Reason, Err
//   - CompensationCompleted: SuccessCount, FailureCount, Duration
//
// Handlers run synchronously on the emitting goroutine and must not
// block the engine; slow work belongs on a separate goroutine.
type Event struct {
	// Type is the lifecycle transition this event records.
	Type EventType

	// Timestamp is when the event was emitted.
	Timestamp time.Time

	// ExecutionID identifies the foundry execution that emitted the event.
	ExecutionID uuid.UUID

	// WorkflowName is the human name of the running workflow.
	WorkflowName string

	// OperationName is set for operation-level events, empty otherwise.
	OperationName string

	// OperationIndex is the zero-based operation index for
	// operation-level events, -1 for workflow-level events.
	OperationIndex int

	// Duration is the elapsed time for *Completed and *Failed events.
	Duration time.Duration

	// Err carries the failure for *Failed and CompensationTriggered events.
	Err error

	// Reason describes why compensation was triggered.
	Reason string

	// SuccessCount and FailureCount summarize a compensation walk.
	SuccessCount int
	FailureCount int

	// FinalProperties is a shallow copy of the foundry properties at
	// workflow completion. Nil for all other event types.
	FinalProperties map[string]any

	// Meta holds additional structured data specific to this event.
	Meta map[string]any
}
