package workflow

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/workflowforge/workflowforge-go/workflow/emit"
	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// ServiceProvider is a small named-lookup seam for application
// collaborators that operations need at forge time (gateways, repos,
// clients). Tests supply a ServiceMap.
type ServiceProvider interface {
	// GetService returns the service registered under name and whether
	// it exists.
	GetService(name string) (any, bool)
}

// ServiceMap is a trivial map-backed ServiceProvider.
type ServiceMap map[string]any

// GetService implements ServiceProvider.
func (m ServiceMap) GetService(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Foundry is the per-execution context shared by the smith, the
// middleware pipeline, and operations.
//
// It carries the execution id, the thread-safe property map, the
// logger, an immutable options snapshot, the service lookup, the
// middleware list, and the event emitter. The smith sets the current
// workflow for the duration of a run.
//
// A foundry is frozen by Close: further mutation fails with
// ErrFoundryFrozen. Foundries are normally discarded after a run;
// test scenarios may Reset and reuse them.
type Foundry interface {
	// ExecutionID identifies this execution. Auto-generated unless
	// overridden (persistence options or recovery set deterministic ids).
	ExecutionID() uuid.UUID

	// SetExecutionID overrides the execution id. Fails when frozen.
	SetExecutionID(id uuid.UUID) error

	// Properties is the shared key-value state for this execution.
	Properties() *Properties

	// Logger returns the execution's logger (never nil).
	Logger() wflog.Logger

	// Options returns the immutable options snapshot.
	Options() Options

	// Services returns the service lookup, or nil when none was provided.
	Services() ServiceProvider

	// Clock returns the execution's time source.
	Clock() Clock

	// CurrentWorkflow returns the workflow being executed, or nil
	// outside a run. Set by the smith.
	CurrentWorkflow() *Workflow

	// SetCurrentWorkflow is called by the smith around a run. Fails
	// when frozen.
	SetCurrentWorkflow(wf *Workflow) error

	// AddOperation appends an operation to the foundry-local list used
	// by Forge. Fails when frozen.
	AddOperation(op Operation) error

	// Operations returns the foundry-local operation list.
	Operations() []Operation

	// AddMiddleware appends a middleware; first added wraps outermost.
	// Fails when frozen.
	AddMiddleware(mw Middleware) error

	// Middlewares returns the registered middleware in order.
	Middlewares() []Middleware

	// Events returns the execution's event emitter. Subscribe handlers
	// or attach backends before forging.
	Events() *emit.Multicast

	// Forge runs the foundry-local operation list through a smith
	// against this foundry. Convenience for tests and small flows.
	Forge(ctx context.Context) error

	// Reset clears properties, operations, and middleware so a test
	// harness can reuse the foundry. Middleware must be re-registered
	// after Reset. Fails when frozen.
	Reset() error

	// Close freezes the foundry. Subsequent mutation fails with
	// ErrFoundryFrozen. Close is idempotent.
	Close() error
}

// DefaultFoundry is the production Foundry implementation.
type DefaultFoundry struct {
	mu sync.RWMutex

	executionID uuid.UUID
	properties  *Properties
	logger      wflog.Logger
	options     Options
	services    ServiceProvider
	clock       Clock

	workflow    *Workflow
	operations  []Operation
	middlewares []Middleware
	events      *emit.Multicast

	frozen bool
}

// FoundryOption customizes a foundry at construction.
type FoundryOption func(*DefaultFoundry)

// WithExecutionID sets a caller-chosen execution id instead of a
// generated one.
func WithExecutionID(id uuid.UUID) FoundryOption {
	return func(f *DefaultFoundry) { f.executionID = id }
}

// WithFoundryClock injects a clock; defaults to the process-wide clock.
func WithFoundryClock(clock Clock) FoundryOption {
	return func(f *DefaultFoundry) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// NewFoundry creates a per-execution context.
//
// logger may be nil (discards output); services may be nil; opts is
// snapshotted as-is (callers should pass a validated Options, e.g.
// DefaultOptions()).
func NewFoundry(logger wflog.Logger, services ServiceProvider, opts Options, fopts ...FoundryOption) *DefaultFoundry {
	f := &DefaultFoundry{
		executionID: uuid.New(),
		properties:  NewProperties(),
		logger:      wflog.OrNull(logger),
		options:     opts,
		services:    services,
		clock:       DefaultClock(),
		events:      emit.NewMulticast(),
	}
	for _, fo := range fopts {
		fo(f)
	}
	f.events.UseLogger(f.logger)
	return f
}

// ExecutionID implements Foundry.
func (f *DefaultFoundry) ExecutionID() uuid.UUID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.executionID
}

// SetExecutionID implements Foundry.
func (f *DefaultFoundry) SetExecutionID(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return ErrFoundryFrozen
	}
	f.executionID = id
	return nil
}

// Properties implements Foundry.
func (f *DefaultFoundry) Properties() *Properties { return f.properties }

// Logger implements Foundry.
func (f *DefaultFoundry) Logger() wflog.Logger { return f.logger }

// Options implements Foundry.
func (f *DefaultFoundry) Options() Options { return f.options }

// Services implements Foundry.
func (f *DefaultFoundry) Services() ServiceProvider { return f.services }

// Clock implements Foundry.
func (f *DefaultFoundry) Clock() Clock { return f.clock }

// CurrentWorkflow implements Foundry.
func (f *DefaultFoundry) CurrentWorkflow() *Workflow {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.workflow
}

// SetCurrentWorkflow implements Foundry.
func (f *DefaultFoundry) SetCurrentWorkflow(wf *Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return ErrFoundryFrozen
	}
	f.workflow = wf
	return nil
}

// AddOperation implements Foundry.
func (f *DefaultFoundry) AddOperation(op Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return ErrFoundryFrozen
	}
	if op == nil {
		return &ConfigError{Fields: []string{"Operation"}, Problems: []string{"Operation cannot be nil"}}
	}
	f.operations = append(f.operations, op)
	return nil
}

// Operations implements Foundry.
func (f *DefaultFoundry) Operations() []Operation {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ops := make([]Operation, len(f.operations))
	copy(ops, f.operations)
	return ops
}

// AddMiddleware implements Foundry.
func (f *DefaultFoundry) AddMiddleware(mw Middleware) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return ErrFoundryFrozen
	}
	if mw == nil {
		return &ConfigError{Fields: []string{"Middleware"}, Problems: []string{"Middleware cannot be nil"}}
	}
	f.middlewares = append(f.middlewares, mw)
	return nil
}

// Middlewares implements Foundry.
func (f *DefaultFoundry) Middlewares() []Middleware {
	f.mu.RLock()
	defer f.mu.RUnlock()
	mws := make([]Middleware, len(f.middlewares))
	copy(mws, f.middlewares)
	return mws
}

// Events implements Foundry.
func (f *DefaultFoundry) Events() *emit.Multicast { return f.events }

// Forge implements Foundry: builds a transient workflow from the local
// operation list and runs it through a smith bound to this foundry.
func (f *DefaultFoundry) Forge(ctx context.Context) error {
	f.mu.RLock()
	frozen := f.frozen
	f.mu.RUnlock()
	if frozen {
		return ErrFoundryFrozen
	}

	builder := NewBuilder("foundry-local").WithClock(f.clock)
	for _, op := range f.Operations() {
		builder.AddOperation(op)
	}
	wf, err := builder.Build()
	if err != nil {
		return err
	}

	smith, err := NewSmith(f.logger, f.services, f.options)
	if err != nil {
		return err
	}
	return smith.Forge(ctx, wf, f)
}

// Reset implements Foundry. Reset clears the middleware list along
// with properties and operations; harnesses re-register middleware
// after a reset.
func (f *DefaultFoundry) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return ErrFoundryFrozen
	}
	f.properties.Clear()
	f.operations = nil
	f.middlewares = nil
	f.workflow = nil
	return nil
}

// Close implements Foundry.
func (f *DefaultFoundry) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen = true
	return nil
}
