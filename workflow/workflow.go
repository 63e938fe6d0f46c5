package workflow

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// Workflow is an immutable, ordered sequence of operations plus
// identity and metadata.
//
// Workflows are constructed once via Builder and never mutated; the
// operation order is the execution order and indices are stable for
// the workflow's lifetime. A Workflow owns its operations and releases
// them (closing any that implement io.Closer) on Close.
type Workflow struct {
	id          uuid.UUID
	name        string
	description string
	version     string
	operations  []Operation
	metadata    map[string]any
	createdAt   time.Time

	supportsRestore bool
}

// ID returns the workflow's stable identity.
func (w *Workflow) ID() uuid.UUID { return w.id }

// Name returns the workflow's human name.
func (w *Workflow) Name() string { return w.name }

// Description returns the optional description.
func (w *Workflow) Description() string { return w.description }

// Version returns the workflow's version string.
func (w *Workflow) Version() string { return w.version }

// CreatedAt returns when the workflow was built.
func (w *Workflow) CreatedAt() time.Time { return w.createdAt }

// Operations returns the ordered operation list. Callers must not
// modify the returned slice.
func (w *Workflow) Operations() []Operation { return w.operations }

// OperationCount returns the number of operations.
func (w *Workflow) OperationCount() int { return len(w.operations) }

// Metadata returns the metadata value for key and whether it exists.
func (w *Workflow) Metadata(key string) (any, bool) {
	v, ok := w.metadata[key]
	return v, ok
}

// MetadataKeys returns all metadata keys in unspecified order.
func (w *Workflow) MetadataKeys() []string {
	keys := make([]string, 0, len(w.metadata))
	for k := range w.metadata {
		keys = append(keys, k)
	}
	return keys
}

// SupportsRestore reports whether every operation declares restore
// support, i.e. whether a failed run of this workflow can be fully
// compensated.
func (w *Workflow) SupportsRestore() bool { return w.supportsRestore }

// Close releases the workflow's operations, closing any that implement
// io.Closer. Safe to call once; the workflow must not be forged after
// Close.
func (w *Workflow) Close() error {
	var errs []error
	for _, op := range w.operations {
		if closer, ok := op.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
