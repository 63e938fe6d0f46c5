package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/workflowforge/workflowforge-go/workflow/emit"
	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
	"github.com/workflowforge/workflowforge-go/workflow/persist"
)

// Smith coordinates workflow execution: it runs a workflow's operations
// in order through the foundry's middleware chain, maintains the
// compensation stack, checkpoints progress, and emits lifecycle events.
//
// One Smith serves many concurrent Forge calls; MaxConcurrentWorkflows
// bounds how many run at once. A Smith holds no per-run state; every
// run lives entirely in its foundry.
type Smith struct {
	logger   wflog.Logger
	services ServiceProvider
	options  Options
	clock    Clock

	sem     *semaphore.Weighted
	store   persist.Provider
	metrics *PrometheusMetrics
}

// SmithOption customizes a smith at construction.
type SmithOption func(*Smith)

// WithMetrics attaches a Prometheus collector.
func WithMetrics(m *PrometheusMetrics) SmithOption {
	return func(s *Smith) { s.metrics = m }
}

// WithSmithClock injects a clock; defaults to the process-wide clock.
func WithSmithClock(clock Clock) SmithOption {
	return func(s *Smith) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPersistence attaches a snapshot store. Checkpointing additionally
// requires Options.Persistence.Enabled.
func WithPersistence(p persist.Provider) SmithOption {
	return func(s *Smith) { s.store = p }
}

// NewSmith creates a workflow coordinator.
//
// opts is validated as a whole: an invalid record fails with a
// ConfigError naming every bad field. logger and services may be nil.
func NewSmith(logger wflog.Logger, services ServiceProvider, opts Options, sopts ...SmithOption) (*Smith, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Smith{
		logger:   wflog.OrNull(logger),
		services: services,
		options:  opts,
		clock:    DefaultClock(),
	}
	for _, so := range sopts {
		so(s)
	}

	if opts.MaxConcurrentWorkflows > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentWorkflows))
	}
	return s, nil
}

// Options returns the smith's validated options snapshot.
func (s *Smith) Options() Options { return s.options }

// compRecord is one compensation stack entry. Operations that do not
// support restore (and failed operations whose forge ran) are pushed as
// skip markers so the stack depth mirrors the attempted operations.
type compRecord struct {
	op     Operation
	index  int
	output any
	skip   bool
}

// run carries the per-execution state of one Forge call.
type run struct {
	wf         *Workflow
	foundry    Foundry
	workflowID uuid.UUID
	stack      []compRecord
}

// Forge executes wf against foundry.
//
// The run honors ctx cancellation between and inside operations:
// external cancellation stops the run without compensation and emits
// WorkflowCancelled. A configured WorkflowTimeout, by contrast, is a
// failure: it triggers compensation like any operation error.
//
// Returns nil on success; an *OperationError (possibly joined with a
// *CompensationError under ThrowOnCompensationError) on failure; the
// context error on cancellation.
func (s *Smith) Forge(ctx context.Context, wf *Workflow, foundry Foundry) error {
	if wf == nil {
		return &ConfigError{Fields: []string{"Workflow"}, Problems: []string{"Workflow cannot be nil"}}
	}
	if foundry == nil {
		return &ConfigError{Fields: []string{"Foundry"}, Problems: []string{"Foundry cannot be nil"}}
	}

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.sem.Release(1)
	}

	cancel := func() {}
	runCtx := ctx
	if s.options.WorkflowTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.options.WorkflowTimeout)
	}
	defer cancel()

	if s.metrics != nil {
		s.metrics.WorkflowStarted()
	}
	return s.execute(ctx, runCtx, wf, foundry)
}

// execute runs the main loop. outerCtx is the caller's context (used to
// tell external cancellation from workflow timeout); runCtx is the
// possibly timeout-bounded context operations run under.
func (s *Smith) execute(outerCtx, runCtx context.Context, wf *Workflow, foundry Foundry) error {
	props := foundry.Properties()
	events := foundry.Events()
	clock := foundry.Clock()

	r := &run{wf: wf, foundry: foundry, workflowID: wf.ID()}

	// Deterministic keys survive process restarts; without them each
	// run gets fresh transient ids.
	popts := s.options.Persistence
	if popts.Enabled && popts.InstanceID != "" && popts.WorkflowKey != "" {
		if err := foundry.SetExecutionID(persist.DeriveExecutionID(popts.InstanceID)); err != nil {
			s.abortStart(wf)
			return err
		}
		r.workflowID = persist.DeriveWorkflowID(popts.WorkflowKey)
	}

	startIndex, err := s.loadStartIndex(runCtx, foundry)
	if err != nil {
		s.abortStart(wf)
		return err
	}

	if err := foundry.SetCurrentWorkflow(wf); err != nil {
		s.abortStart(wf)
		return err
	}
	defer func() { _ = foundry.SetCurrentWorkflow(nil) }()

	props.Set(KeyWorkflowName, wf.Name())
	if s.options.WorkflowTimeout > 0 {
		props.Set(KeyWorkflowTimeout, s.options.WorkflowTimeout)
	}

	ops := wf.Operations()
	startedAt := clock.Now()

	s.logger.Info("Workflow execution started",
		wflog.FieldExecutionID, foundry.ExecutionID().String(),
		wflog.FieldExecutionName, wf.Name(),
		wflog.FieldTotalOperationCount, len(ops),
	)
	events.Emit(emit.Event{
		Type:           emit.WorkflowStarted,
		Timestamp:      startedAt,
		ExecutionID:    foundry.ExecutionID(),
		WorkflowName:   wf.Name(),
		OperationIndex: -1,
	})

	middlewares := foundry.Middlewares()
	var prevOutput any
	if startIndex > 0 && s.options.EnableOutputChaining && startIndex-1 < len(ops) {
		// Resume: re-seed chaining from the persisted output of the
		// last completed operation.
		prevOutput, _ = props.Get(OutputKey(startIndex-1, ops[startIndex-1].Name()))
	}

	for i := startIndex; i < len(ops); i++ {
		op := ops[i]

		if err := runCtx.Err(); err != nil {
			return s.finishInterrupted(outerCtx, runCtx, r, i, err)
		}

		props.Set(KeyCurrentOperationIndex, i)

		var input any
		if s.options.EnableOutputChaining {
			input = prevOutput
		}

		events.Emit(emit.Event{
			Type:           emit.OperationStarted,
			Timestamp:      clock.Now(),
			ExecutionID:    foundry.ExecutionID(),
			WorkflowName:   wf.Name(),
			OperationName:  op.Name(),
			OperationIndex: i,
		})
		s.logger.Info("Operation execution started",
			wflog.FieldExecutionID, foundry.ExecutionID().String(),
			wflog.FieldExecutionName, op.Name(),
			wflog.FieldOperationStepIndex, i,
		)

		terminal := func(c context.Context) (any, error) {
			return op.Forge(c, input, foundry)
		}
		chain := buildChain(middlewares, op, foundry, input, terminal)

		opCtx := runCtx
		opCancel := func() {}
		if s.options.OperationTimeout > 0 {
			opCtx, opCancel = context.WithTimeout(runCtx, s.options.OperationTimeout)
		}

		opStart := clock.Now()
		output, opErr := chain(opCtx)
		opElapsed := clock.Since(opStart)
		opCancel()

		if opErr != nil {
			if s.metrics != nil {
				s.metrics.RecordOperationLatency(wf.Name(), op.Name(), opElapsed, "error")
			}

			if ctxErr := runCtx.Err(); ctxErr != nil && errors.Is(opErr, ctxErr) {
				return s.finishInterrupted(outerCtx, runCtx, r, i, opErr)
			}

			code := CodeOperationFailed
			if s.options.OperationTimeout > 0 && errors.Is(opErr, context.DeadlineExceeded) {
				// The per-operation deadline expired while the run
				// context stayed live.
				code = CodeOperationTimeout
				props.Set(KeyOperationTimedOut, true)
				props.Set(KeyOperationTimeoutDuration, s.options.OperationTimeout)
				props.Set(OperationTimeoutKey(i, op.Name()), s.options.OperationTimeout)
			}

			return s.failOperation(runCtx, r, i, op, opErr, &prevOutput, code)
		}

		if s.metrics != nil {
			s.metrics.RecordOperationLatency(wf.Name(), op.Name(), opElapsed, "success")
		}

		props.Set(OutputKey(i, op.Name()), output)
		props.Set(KeyLastCompletedIndex, i)
		props.Set(KeyLastCompletedName, op.Name())
		props.Set(KeyLastCompletedID, op.ID().String())

		r.stack = append(r.stack, compRecord{
			op:     op,
			index:  i,
			output: output,
			skip:   !op.SupportsRestore(),
		})

		events.Emit(emit.Event{
			Type:           emit.OperationCompleted,
			Timestamp:      clock.Now(),
			ExecutionID:    foundry.ExecutionID(),
			WorkflowName:   wf.Name(),
			OperationName:  op.Name(),
			OperationIndex: i,
			Duration:       opElapsed,
		})
		s.logger.Info("Operation execution completed",
			wflog.FieldExecutionID, foundry.ExecutionID().String(),
			wflog.FieldExecutionName, op.Name(),
			wflog.FieldOperationStepIndex, i,
		)

		if popts.Enabled && popts.PersistOnOperationComplete {
			s.checkpoint(runCtx, r, i+1)
		}

		prevOutput = output
	}

	elapsed := clock.Since(startedAt)

	if popts.Enabled && s.store != nil {
		if popts.PersistOnWorkflowComplete {
			s.checkpoint(runCtx, r, len(ops))
		}
		// Completed runs leave no pending snapshot behind.
		if err := s.store.Delete(runCtx, foundry.ExecutionID()); err != nil {
			s.logger.Warn("Failed to delete completed execution snapshots",
				wflog.FieldExecutionID, foundry.ExecutionID().String(),
				"Error", err,
			)
		}
	}

	events.Emit(emit.Event{
		Type:            emit.WorkflowCompleted,
		Timestamp:       clock.Now(),
		ExecutionID:     foundry.ExecutionID(),
		WorkflowName:    wf.Name(),
		OperationIndex:  -1,
		Duration:        elapsed,
		FinalProperties: props.Snapshot(),
	})
	s.logger.Info("Workflow execution completed successfully",
		wflog.FieldExecutionID, foundry.ExecutionID().String(),
		wflog.FieldExecutionName, wf.Name(),
		"DurationMs", elapsed.Milliseconds(),
	)
	if s.metrics != nil {
		s.metrics.WorkflowFinished(wf.Name(), "completed")
	}
	return nil
}

// loadStartIndex resolves where the run begins: 0 for a fresh run, the
// snapshot's NextOperationIndex when resuming persisted state.
func (s *Smith) loadStartIndex(ctx context.Context, foundry Foundry) (int, error) {
	if !s.options.Persistence.Enabled || s.store == nil {
		return 0, nil
	}

	snap, err := s.store.TryLoad(ctx, foundry.ExecutionID())
	if errors.Is(err, persist.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, &OperationError{
			OperationName: "TryLoad",
			Index:         -1,
			Code:          CodePersistenceFailed,
			Cause:         err,
		}
	}

	foundry.Properties().Restore(snap.Properties)
	if snap.NextOperationIndex < 0 {
		return 0, nil
	}
	return snap.NextOperationIndex, nil
}

// checkpoint persists the current execution state. Checkpoint failures
// are logged, not fatal: losing a snapshot must not fail a healthy run.
func (s *Smith) checkpoint(ctx context.Context, r *run, nextIndex int) {
	if s.store == nil {
		return
	}

	foundry := r.foundry
	snap := persist.Snapshot{
		ExecutionID:        foundry.ExecutionID(),
		WorkflowID:         r.workflowID,
		WorkflowName:       r.wf.Name(),
		NextOperationIndex: nextIndex,
		Properties:         foundry.Properties().Snapshot(),
		SavedAt:            foundry.Clock().Now(),
	}
	if err := s.store.Save(ctx, snap); err != nil {
		s.logger.Error("Failed to persist execution snapshot",
			wflog.FieldExecutionID, foundry.ExecutionID().String(),
			wflog.FieldOperationStepIndex, nextIndex,
			"Error", err,
		)
	}
}

// abortStart balances the inflight gauge when a run fails before its
// main loop begins.
func (s *Smith) abortStart(wf *Workflow) {
	if s.metrics != nil {
		s.metrics.WorkflowFinished(wf.Name(), "failed")
	}
}

// recordError writes the Error.* post-mortem properties. The smith
// records these on every failure path; the error-handling middleware
// may overwrite them with richer detail when registered.
func (s *Smith) recordError(props *Properties, clock Clock, err error) {
	props.Set(KeyErrorMessage, err.Error())
	props.Set(KeyErrorType, fmt.Sprintf("%T", err))
	props.Set(KeyErrorException, err)
	props.Set(KeyErrorTimestamp, clock.Now())
	props.Set(KeyErrorStackTrace, string(debug.Stack()))
}

// failOperation handles a non-cancellation operation failure: records
// failure bookkeeping, and either continues (ContinueOnError) or
// compensates and fails the run.
func (s *Smith) failOperation(runCtx context.Context, r *run, index int, op Operation, opErr error, prevOutput *any, code string) error {
	foundry := r.foundry
	props := foundry.Properties()
	events := foundry.Events()
	clock := foundry.Clock()

	props.Set(KeyLastFailedIndex, index)
	props.Set(KeyLastFailedName, op.Name())
	props.Set(KeyLastFailedID, op.ID().String())
	s.recordError(props, clock, opErr)

	events.Emit(emit.Event{
		Type:           emit.OperationFailed,
		Timestamp:      clock.Now(),
		ExecutionID:    foundry.ExecutionID(),
		WorkflowName:   r.wf.Name(),
		OperationName:  op.Name(),
		OperationIndex: index,
		Err:            opErr,
	})
	s.logger.Error("Operation execution failed",
		wflog.FieldExecutionID, foundry.ExecutionID().String(),
		wflog.FieldExecutionName, op.Name(),
		wflog.FieldOperationStepIndex, index,
		"Error", opErr,
	)

	popts := s.options.Persistence
	if popts.Enabled && popts.PersistOnFailure {
		// Recovery re-runs the failed operation.
		s.checkpoint(runCtx, r, index)
	}

	// A validation block means the forge never ran: nothing to undo,
	// nothing to push. Any other failure pushes a skip marker so the
	// stack mirrors attempted operations.
	var verr *ValidationError
	if !errors.As(opErr, &verr) {
		r.stack = append(r.stack, compRecord{op: op, index: index, skip: true})
	}

	if s.options.ContinueOnError {
		s.logger.Warn("Operation execution skipped",
			wflog.FieldExecutionID, foundry.ExecutionID().String(),
			wflog.FieldExecutionName, op.Name(),
			wflog.FieldOperationStepIndex, index,
			"Reason", "ContinueOnError",
		)
		*prevOutput = nil
		return nil
	}

	opError := &OperationError{
		OperationName: op.Name(),
		Index:         index,
		Code:          code,
		Cause:         opErr,
	}

	compErr := s.compensate(runCtx, r, op, opErr)

	events.Emit(emit.Event{
		Type:           emit.WorkflowFailed,
		Timestamp:      clock.Now(),
		ExecutionID:    foundry.ExecutionID(),
		WorkflowName:   r.wf.Name(),
		OperationName:  op.Name(),
		OperationIndex: index,
		Err:            opError,
	})
	s.logger.Error("Workflow execution failed",
		wflog.FieldExecutionID, foundry.ExecutionID().String(),
		wflog.FieldExecutionName, r.wf.Name(),
		wflog.FieldOperationStepIndex, index,
		"Error", opError,
	)
	if s.metrics != nil {
		s.metrics.WorkflowFinished(r.wf.Name(), "failed")
	}

	if compErr != nil && s.options.ThrowOnCompensationError {
		return errors.Join(opError, compErr)
	}
	return opError
}

// compensate walks the compensation stack in reverse (LIFO) order.
// Returns a *CompensationError when any restore failed, nil otherwise.
// The caller decides whether to surface it.
func (s *Smith) compensate(ctx context.Context, r *run, failedOp Operation, cause error) *CompensationError {
	foundry := r.foundry
	events := foundry.Events()
	clock := foundry.Clock()

	events.Emit(emit.Event{
		Type:           emit.CompensationTriggered,
		Timestamp:      clock.Now(),
		ExecutionID:    foundry.ExecutionID(),
		WorkflowName:   r.wf.Name(),
		OperationName:  failedOp.Name(),
		OperationIndex: -1,
		Reason:         "operation failed",
		Err:            cause,
	})
	s.logger.Info("Compensation process started",
		wflog.FieldExecutionID, foundry.ExecutionID().String(),
		wflog.FieldCompensationCount, len(r.stack),
	)

	compStart := clock.Now()
	successCount, failureCount := 0, 0
	var failures []error

	for i := len(r.stack) - 1; i >= 0; i-- {
		rec := r.stack[i]

		if rec.skip {
			events.Emit(emit.Event{
				Type:           emit.OperationSkipped,
				Timestamp:      clock.Now(),
				ExecutionID:    foundry.ExecutionID(),
				WorkflowName:   r.wf.Name(),
				OperationName:  rec.op.Name(),
				OperationIndex: rec.index,
				Reason:         "operation does not support restoration",
			})
			s.logger.Info("Compensation action skipped - operation does not support restoration",
				wflog.FieldExecutionID, foundry.ExecutionID().String(),
				wflog.FieldExecutionName, rec.op.Name(),
			)
			if s.metrics != nil {
				s.metrics.RecordCompensation(r.wf.Name(), "skipped")
			}
			continue
		}

		events.Emit(emit.Event{
			Type:           emit.OperationRestoreStarted,
			Timestamp:      clock.Now(),
			ExecutionID:    foundry.ExecutionID(),
			WorkflowName:   r.wf.Name(),
			OperationName:  rec.op.Name(),
			OperationIndex: rec.index,
		})
		s.logger.Info("Compensation action started",
			wflog.FieldExecutionID, foundry.ExecutionID().String(),
			wflog.FieldExecutionName, rec.op.Name(),
		)

		restoreStart := clock.Now()
		err := rec.op.Restore(ctx, rec.output, foundry)
		restoreElapsed := clock.Since(restoreStart)

		if err != nil {
			failureCount++
			failures = append(failures, fmt.Errorf("restore %s: %w", rec.op.Name(), err))
			events.Emit(emit.Event{
				Type:           emit.OperationRestoreFailed,
				Timestamp:      clock.Now(),
				ExecutionID:    foundry.ExecutionID(),
				WorkflowName:   r.wf.Name(),
				OperationName:  rec.op.Name(),
				OperationIndex: rec.index,
				Duration:       restoreElapsed,
				Err:            err,
			})
			s.logger.Error("Compensation action failed",
				wflog.FieldExecutionID, foundry.ExecutionID().String(),
				wflog.FieldExecutionName, rec.op.Name(),
				"Error", err,
			)
			if s.metrics != nil {
				s.metrics.RecordCompensation(r.wf.Name(), "failed")
			}
			if s.options.FailFastCompensation {
				break
			}
			continue
		}

		successCount++
		events.Emit(emit.Event{
			Type:           emit.OperationRestoreCompleted,
			Timestamp:      clock.Now(),
			ExecutionID:    foundry.ExecutionID(),
			WorkflowName:   r.wf.Name(),
			OperationName:  rec.op.Name(),
			OperationIndex: rec.index,
			Duration:       restoreElapsed,
		})
		s.logger.Info("Compensation action completed",
			wflog.FieldExecutionID, foundry.ExecutionID().String(),
			wflog.FieldExecutionName, rec.op.Name(),
		)
		if s.metrics != nil {
			s.metrics.RecordCompensation(r.wf.Name(), "restored")
		}
	}

	events.Emit(emit.Event{
		Type:           emit.CompensationCompleted,
		Timestamp:      clock.Now(),
		ExecutionID:    foundry.ExecutionID(),
		WorkflowName:   r.wf.Name(),
		OperationIndex: -1,
		Duration:       clock.Since(compStart),
		SuccessCount:   successCount,
		FailureCount:   failureCount,
	})
	s.logger.Info("Compensation process completed",
		wflog.FieldExecutionID, foundry.ExecutionID().String(),
		wflog.FieldCompensationSuccessCount, successCount,
		wflog.FieldCompensationFailureCount, failureCount,
	)

	if failureCount == 0 {
		return nil
	}
	return &CompensationError{
		SuccessCount: successCount,
		FailureCount: failureCount,
		Failures:     failures,
	}
}

// finishInterrupted closes out a run stopped by context: external
// cancellation ends without compensation; a workflow timeout is a
// failure and compensates what already ran.
func (s *Smith) finishInterrupted(outerCtx, runCtx context.Context, r *run, index int, cause error) error {
	foundry := r.foundry
	props := foundry.Properties()
	events := foundry.Events()
	clock := foundry.Clock()

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && outerCtx.Err() == nil

	if s.options.Persistence.Enabled && s.options.Persistence.PersistOnFailure {
		s.checkpoint(context.WithoutCancel(runCtx), r, index)
	}

	if timedOut {
		props.Set(KeyWorkflowTimedOut, true)
		props.Set(KeyWorkflowTimeoutDuration, s.options.WorkflowTimeout)
		s.recordError(props, clock, cause)

		opError := &OperationError{
			OperationName: r.wf.Name(),
			Index:         index,
			Code:          CodeOperationTimeout,
			Cause:         cause,
		}

		// Restores still deserve a live context.
		compErr := s.compensate(context.WithoutCancel(runCtx), r, r.wf.Operations()[index], cause)

		events.Emit(emit.Event{
			Type:           emit.WorkflowFailed,
			Timestamp:      clock.Now(),
			ExecutionID:    foundry.ExecutionID(),
			WorkflowName:   r.wf.Name(),
			OperationIndex: index,
			Err:            opError,
		})
		s.logger.Error("Workflow execution failed",
			wflog.FieldExecutionID, foundry.ExecutionID().String(),
			wflog.FieldExecutionName, r.wf.Name(),
			wflog.FieldErrorCode, CodeOperationTimeout,
			"Error", opError,
		)
		if s.metrics != nil {
			s.metrics.WorkflowFinished(r.wf.Name(), "timeout")
		}

		if compErr != nil && s.options.ThrowOnCompensationError {
			return errors.Join(opError, compErr)
		}
		return opError
	}

	events.Emit(emit.Event{
		Type:           emit.WorkflowCancelled,
		Timestamp:      clock.Now(),
		ExecutionID:    foundry.ExecutionID(),
		WorkflowName:   r.wf.Name(),
		OperationIndex: index,
		Err:            cause,
	})
	s.logger.Warn("Workflow execution cancelled",
		wflog.FieldExecutionID, foundry.ExecutionID().String(),
		wflog.FieldExecutionName, r.wf.Name(),
		wflog.FieldOperationStepIndex, index,
	)
	if s.metrics != nil {
		s.metrics.WorkflowFinished(r.wf.Name(), "cancelled")
	}
	return cause
}
