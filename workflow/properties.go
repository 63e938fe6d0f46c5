package workflow

import (
	"fmt"
	"sync"
)

// Well-known property keys written by the engine around each operation.
//
// Operation and middleware code may read these freely but must not
// write them; the smith owns the bookkeeping keys for the duration of
// a run.
const (
	// KeyCurrentOperationIndex holds the index of the operation
	// currently executing (int).
	KeyCurrentOperationIndex = "__wf_current_op_index__"

	KeyLastCompletedIndex = "Operation.LastCompletedIndex"
	KeyLastCompletedName  = "Operation.LastCompletedName"
	KeyLastCompletedID    = "Operation.LastCompletedId"
	KeyLastFailedIndex    = "Operation.LastFailedIndex"
	KeyLastFailedName     = "Operation.LastFailedName"
	KeyLastFailedID       = "Operation.LastFailedId"

	KeyOperationTimedOut        = "Operation.TimedOut"
	KeyOperationTimeoutDuration = "Operation.TimeoutDuration"

	KeyTimingStartTime     = "Timing.StartTime"
	KeyTimingEndTime       = "Timing.EndTime"
	KeyTimingDuration      = "Timing.Duration"
	KeyTimingDurationTicks = "Timing.DurationTicks"
	KeyTimingFailed        = "Timing.Failed"

	KeyErrorMessage    = "Error.Message"
	KeyErrorType       = "Error.Type"
	KeyErrorException  = "Error.Exception"
	KeyErrorTimestamp  = "Error.Timestamp"
	KeyErrorStackTrace = "Error.StackTrace"

	KeyWorkflowName            = "Workflow.Name"
	KeyWorkflowTimeout         = "Workflow.Timeout"
	KeyWorkflowTimedOut        = "Workflow.TimedOut"
	KeyWorkflowTimeoutDuration = "Workflow.TimeoutDuration"

	KeyCorrelationID             = "CorrelationId"
	KeyParentWorkflowExecutionID = "ParentWorkflowExecutionId"

	KeyValidationStatus = "Validation.Status"
	KeyValidationErrors = "Validation.Errors"
)

// Validation.Status values.
const (
	ValidationStatusSuccess = "Success"
	ValidationStatusFailed  = "Failed"
)

// OutputKey derives the storage key for the output of the operation at
// the given index: "Operation.{index}:{name}.Output".
func OutputKey(index int, name string) string {
	return fmt.Sprintf("Operation.%d:%s.Output", index, name)
}

// OperationTimeoutKey derives the per-operation timeout record key:
// "Operation.{index}:{name}.Timeout".
func OperationTimeoutKey(index int, name string) string {
	return fmt.Sprintf("Operation.%d:%s.Timeout", index, name)
}

// Properties is the foundry's thread-safe key-value container.
//
// Readers and writers may interleave freely; each key is
// last-writer-wins and there is no atomicity across multiple keys.
// Values may be nil ("present but empty").
type Properties struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewProperties creates an empty property container.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]any)}
}

// Set stores value under key, replacing any previous value.
func (p *Properties) Set(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

// Get returns the value for key and whether the key is present.
func (p *Properties) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// GetString returns the value for key as a string, or "" when absent
// or not a string.
func (p *Properties) GetString(key string) string {
	v, ok := p.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetInt returns the value for key as an int, or 0 when absent or not
// an integer type.
func (p *Properties) GetInt(key string) int {
	v, ok := p.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// GetBool returns the value for key as a bool, or false when absent or
// not a bool.
func (p *Properties) GetBool(key string) bool {
	v, ok := p.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Has reports whether key is present.
func (p *Properties) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Delete removes key. Removing an absent key is a no-op.
func (p *Properties) Delete(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
}

// Len returns the number of stored keys.
func (p *Properties) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

// Keys returns all present keys in unspecified order.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a shallow copy of the current contents. Used for
// persistence checkpoints and the WorkflowCompleted event payload.
func (p *Properties) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Restore replaces the current contents with the given map. Used when
// resuming from a persisted snapshot.
func (p *Properties) Restore(values map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = make(map[string]any, len(values))
	for k, v := range values {
		p.values[k] = v
	}
}

// Clear removes all keys.
func (p *Properties) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = make(map[string]any)
}
