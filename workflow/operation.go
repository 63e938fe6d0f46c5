package workflow

import (
	"context"

	"github.com/google/uuid"
)

// ForgeFunc is the forward action of an operation: do the work.
type ForgeFunc func(ctx context.Context, input any, foundry Foundry) (any, error)

// RestoreFunc is the compensating action of an operation: undo the work
// done by a previously successful forge.
type RestoreFunc func(ctx context.Context, lastOutput any, foundry Foundry) error

// Operation is the unit of work executed by the smith.
//
// Operations are expected to be idempotent: the engine provides
// at-least-once semantics across retries and crash recovery, so a
// forge may observe the effects of its own earlier, checkpointed run.
//
// Forge must honor ctx cancellation promptly at safe points. It may
// read and write foundry properties but must treat them as
// concurrently accessible.
type Operation interface {
	// ID is the operation's stable identity.
	ID() uuid.UUID

	// Name is the operation's human name, used in property keys,
	// events, and logs.
	Name() string

	// SupportsRestore reports whether Restore is implemented. When
	// false the operation participates in compensation as a skip
	// marker only.
	SupportsRestore() bool

	// Forge performs the operation's work. input is the previous
	// operation's output when output chaining is enabled, nil
	// otherwise. The returned output is stored in the foundry under
	// OutputKey(index, name) and forwarded to the next operation.
	Forge(ctx context.Context, input any, foundry Foundry) (any, error)

	// Restore undoes a previously successful Forge. Called only when
	// SupportsRestore is true, with the output that Forge returned.
	// Must be best-effort idempotent.
	Restore(ctx context.Context, lastOutput any, foundry Foundry) error
}

// funcOperation adapts plain functions to the Operation interface.
type funcOperation struct {
	id      uuid.UUID
	name    string
	forge   ForgeFunc
	restore RestoreFunc
}

// NewOperation creates an operation from a name and a forge function.
// The operation does not support restore.
//
// Example:
//
//	double := workflow.NewOperation("Double", func(ctx context.Context, input any, f workflow.Foundry) (any, error) {
//	    return input.(int) * 2, nil
//	})
func NewOperation(name string, forge ForgeFunc) Operation {
	return &funcOperation{
		id:    uuid.New(),
		name:  name,
		forge: forge,
	}
}

// NewRestorableOperation creates an operation with both a forward and a
// compensating action.
//
// Example:
//
//	charge := workflow.NewRestorableOperation("Charge",
//	    func(ctx context.Context, input any, f workflow.Foundry) (any, error) {
//	        return gateway.Charge(ctx, input)
//	    },
//	    func(ctx context.Context, lastOutput any, f workflow.Foundry) error {
//	        return gateway.Refund(ctx, lastOutput)
//	    })
func NewRestorableOperation(name string, forge ForgeFunc, restore RestoreFunc) Operation {
	return &funcOperation{
		id:      uuid.New(),
		name:    name,
		forge:   forge,
		restore: restore,
	}
}

func (o *funcOperation) ID() uuid.UUID         { return o.id }
func (o *funcOperation) Name() string          { return o.name }
func (o *funcOperation) SupportsRestore() bool { return o.restore != nil }

func (o *funcOperation) Forge(ctx context.Context, input any, foundry Foundry) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.forge(ctx, input, foundry)
}

func (o *funcOperation) Restore(ctx context.Context, lastOutput any, foundry Foundry) error {
	if o.restore == nil {
		return nil
	}
	return o.restore(ctx, lastOutput, foundry)
}
