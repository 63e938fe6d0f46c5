package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// AuditEventType classifies an audit entry.
type AuditEventType string

// Audit entry event types.
const (
	AuditStarted   AuditEventType = "Started"
	AuditCompleted AuditEventType = "Completed"
	AuditFailed    AuditEventType = "Failed"
)

// AuditEntry is one record in the audit stream.
type AuditEntry struct {
	ExecutionID   uuid.UUID      `json:"executionId"`
	WorkflowName  string         `json:"workflowName"`
	OperationName string         `json:"operationName"`
	EventType     AuditEventType `json:"eventType"`
	Status        string         `json:"status"`
	Initiator     string         `json:"initiator,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	DurationMs    int64          `json:"durationMs,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// AuditProvider receives audit entries. Implementations ship them to
// an audit store or stream; a Record failure is logged by the
// middleware and swallowed; audit must never break execution.
type AuditProvider interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditProviderFunc adapts a function to AuditProvider.
type AuditProviderFunc func(ctx context.Context, entry AuditEntry) error

// Record implements AuditProvider.
func (f AuditProviderFunc) Record(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// AuditMiddleware emits an audit entry before and after each operation
// invocation.
//
// DetailLevel controls payload richness:
//   - Minimal: completion entries only
//   - Standard: start + completion entries
//   - Verbose/Complete: adds metadata (index, workflow version, and
//     payload info when LogDataPayloads is set)
type AuditMiddleware struct {
	opts      AuditOptions
	provider  AuditProvider
	initiator string
}

// NewAuditMiddleware creates the audit middleware. initiator names the
// actor on entries when IncludeUserContext is set (e.g. a service
// account); empty is fine.
func NewAuditMiddleware(opts AuditOptions, provider AuditProvider, initiator string) *AuditMiddleware {
	if opts.DetailLevel == "" {
		opts.DetailLevel = AuditStandard
	}
	return &AuditMiddleware{opts: opts, provider: provider, initiator: initiator}
}

// Execute implements Middleware.
func (a *AuditMiddleware) Execute(ctx context.Context, op Operation, foundry Foundry, inputData any, next Next) (any, error) {
	if !a.opts.Enabled || a.provider == nil {
		return next(ctx)
	}

	wfName := ""
	if wf := foundry.CurrentWorkflow(); wf != nil {
		wfName = wf.Name()
	}

	if a.opts.DetailLevel != AuditMinimal {
		a.record(ctx, foundry, AuditEntry{
			ExecutionID:   foundry.ExecutionID(),
			WorkflowName:  wfName,
			OperationName: op.Name(),
			EventType:     AuditStarted,
			Status:        "Running",
			Metadata:      a.metadata(foundry, inputData),
		})
	}

	start := foundry.Clock().Now()
	output, err := next(ctx)
	elapsed := foundry.Clock().Since(start)

	entry := AuditEntry{
		ExecutionID:   foundry.ExecutionID(),
		WorkflowName:  wfName,
		OperationName: op.Name(),
		DurationMs:    elapsed.Milliseconds(),
		Metadata:      a.metadata(foundry, output),
	}
	if err != nil {
		entry.EventType = AuditFailed
		entry.Status = "Failed"
		entry.ErrorMessage = err.Error()
	} else {
		entry.EventType = AuditCompleted
		entry.Status = "Completed"
	}
	a.record(ctx, foundry, entry)

	return output, err
}

// record fills in cross-cutting entry fields and delivers it,
// swallowing provider failures.
func (a *AuditMiddleware) record(ctx context.Context, foundry Foundry, entry AuditEntry) {
	if a.opts.IncludeTimestamps {
		entry.Timestamp = foundry.Clock().Now()
	}
	if a.opts.IncludeUserContext {
		entry.Initiator = a.initiator
	}

	if err := a.provider.Record(ctx, entry); err != nil {
		foundry.Logger().Warn("audit record failed",
			wflog.FieldExecutionID, entry.ExecutionID.String(),
			wflog.FieldExecutionName, entry.OperationName,
			"Error", err,
		)
	}
}

// metadata builds the entry metadata for verbose detail levels.
func (a *AuditMiddleware) metadata(foundry Foundry, payload any) map[string]any {
	if a.opts.DetailLevel != AuditVerbose && a.opts.DetailLevel != AuditComplete {
		return nil
	}
	meta := map[string]any{
		"operationIndex": foundry.Properties().GetInt(KeyCurrentOperationIndex),
	}
	if wf := foundry.CurrentWorkflow(); wf != nil {
		meta["workflowVersion"] = wf.Version()
	}
	if a.opts.LogDataPayloads && payload != nil {
		meta["payload"] = payload
	}
	return meta
}
