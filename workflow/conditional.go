package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConditionalOperation selects one of two child operations at forge
// time based on a predicate over the foundry.
//
// Restore is delegated to whichever branch actually ran; the chosen
// branch is remembered per execution so compensation restores the
// right side. SupportsRestore is true only when both branches (where
// present) support restore.
type ConditionalOperation struct {
	id        uuid.UUID
	name      string
	predicate func(Foundry) bool
	then      Operation
	otherwise Operation // may be nil: condition false means no-op

	chosenKey string
}

// NewConditionalOperation creates a branch operation. otherwise may be
// nil, in which case a false predicate makes the operation a no-op
// that forwards its input.
func NewConditionalOperation(name string, predicate func(Foundry) bool, then, otherwise Operation) *ConditionalOperation {
	id := uuid.New()
	return &ConditionalOperation{
		id:        id,
		name:      name,
		predicate: predicate,
		then:      then,
		otherwise: otherwise,
		chosenKey: "Conditional." + id.String() + ".Branch",
	}
}

// ID implements Operation.
func (c *ConditionalOperation) ID() uuid.UUID { return c.id }

// Name implements Operation.
func (c *ConditionalOperation) Name() string { return c.name }

// SupportsRestore reports whether every present branch supports restore.
func (c *ConditionalOperation) SupportsRestore() bool {
	if c.then != nil && !c.then.SupportsRestore() {
		return false
	}
	if c.otherwise != nil && !c.otherwise.SupportsRestore() {
		return false
	}
	return c.then != nil || c.otherwise != nil
}

// Forge evaluates the predicate and forges the selected branch. The
// branch taken is recorded in the foundry so Restore can find it.
func (c *ConditionalOperation) Forge(ctx context.Context, input any, foundry Foundry) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.predicate(foundry) {
		foundry.Properties().Set(c.chosenKey, "then")
		return c.then.Forge(ctx, input, foundry)
	}

	if c.otherwise == nil {
		foundry.Properties().Set(c.chosenKey, "none")
		return input, nil
	}
	foundry.Properties().Set(c.chosenKey, "otherwise")
	return c.otherwise.Forge(ctx, input, foundry)
}

// Restore undoes the branch that Forge selected for this execution.
func (c *ConditionalOperation) Restore(ctx context.Context, lastOutput any, foundry Foundry) error {
	switch foundry.Properties().GetString(c.chosenKey) {
	case "then":
		return c.then.Restore(ctx, lastOutput, foundry)
	case "otherwise":
		return c.otherwise.Restore(ctx, lastOutput, foundry)
	}
	return nil
}

// DelayOperation pauses the workflow for a fixed duration, honoring
// cancellation. The wait uses the foundry's clock, so tests with a
// FakeClock complete instantly.
type DelayOperation struct {
	id    uuid.UUID
	name  string
	delay time.Duration
}

// NewDelayOperation creates a delay step.
func NewDelayOperation(name string, delay time.Duration) *DelayOperation {
	return &DelayOperation{id: uuid.New(), name: name, delay: delay}
}

// ID implements Operation.
func (d *DelayOperation) ID() uuid.UUID { return d.id }

// Name implements Operation.
func (d *DelayOperation) Name() string { return d.name }

// SupportsRestore reports false: a wait has nothing to undo.
func (d *DelayOperation) SupportsRestore() bool { return false }

// Forge sleeps for the configured delay and forwards the input.
func (d *DelayOperation) Forge(ctx context.Context, input any, foundry Foundry) (any, error) {
	if err := foundry.Clock().Sleep(ctx, d.delay); err != nil {
		return nil, err
	}
	return input, nil
}

// Restore is a no-op.
func (d *DelayOperation) Restore(context.Context, any, Foundry) error { return nil }
