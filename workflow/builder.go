package workflow

import (
	"github.com/google/uuid"
)

// Builder assembles an immutable Workflow.
//
// Example:
//
//	wf, err := workflow.NewBuilder("order-fulfillment").
//	    WithDescription("reserve, charge, ship").
//	    WithVersion("1.2.0").
//	    AddOperation(reserve).
//	    AddOperation(charge).
//	    AddOperation(ship).
//	    Build()
type Builder struct {
	name        string
	description string
	version     string
	operations  []Operation
	metadata    map[string]any
	clock       Clock
	errs        []string
}

// NewBuilder starts a workflow definition with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:     name,
		version:  "1.0.0",
		metadata: make(map[string]any),
	}
}

// WithDescription sets the optional human description.
func (b *Builder) WithDescription(description string) *Builder {
	b.description = description
	return b
}

// WithVersion sets the workflow version string. Default "1.0.0".
func (b *Builder) WithVersion(version string) *Builder {
	b.version = version
	return b
}

// WithMetadata adds one metadata entry.
func (b *Builder) WithMetadata(key string, value any) *Builder {
	b.metadata[key] = value
	return b
}

// WithClock overrides the clock used for the creation timestamp.
// Defaults to the process-wide clock.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// AddOperation appends an operation. Order of addition is execution
// order.
func (b *Builder) AddOperation(op Operation) *Builder {
	if op == nil {
		b.errs = append(b.errs, "operation cannot be nil")
		return b
	}
	b.operations = append(b.operations, op)
	return b
}

// AddOperationFunc appends a forge-only operation built from a name
// and function. Shorthand for AddOperation(NewOperation(name, forge)).
func (b *Builder) AddOperationFunc(name string, forge ForgeFunc) *Builder {
	return b.AddOperation(NewOperation(name, forge))
}

// Build validates and produces the immutable Workflow.
//
// Returns a ConfigError when the definition is invalid (empty name,
// nil operations). An empty operation list is valid: such a workflow
// completes immediately.
func (b *Builder) Build() (*Workflow, error) {
	cfg := &ConfigError{}
	if b.name == "" {
		cfg.add("Name", "cannot be empty")
	}
	for _, msg := range b.errs {
		cfg.add("Operations", msg)
	}
	if err := cfg.orNil(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = DefaultClock()
	}

	supportsRestore := true
	for _, op := range b.operations {
		if !op.SupportsRestore() {
			supportsRestore = false
			break
		}
	}

	ops := make([]Operation, len(b.operations))
	copy(ops, b.operations)
	meta := make(map[string]any, len(b.metadata))
	for k, v := range b.metadata {
		meta[k] = v
	}

	return &Workflow{
		id:              uuid.New(),
		name:            b.name,
		description:     b.description,
		version:         b.version,
		operations:      ops,
		metadata:        meta,
		createdAt:       clock.Now(),
		supportsRestore: supportsRestore,
	}, nil
}
