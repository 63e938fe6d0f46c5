package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
	"github.com/workflowforge/workflowforge-go/workflow/persist"
)

// WorkflowFactory rebuilds the workflow definition for a persisted
// execution. Called once per resume attempt; the returned workflow must
// have the same operation order as the one that checkpointed.
type WorkflowFactory func(snap persist.Snapshot) (*Workflow, error)

// FoundryFactory builds a fresh foundry for a resume attempt. The
// coordinator overwrites its execution id with the snapshot's, and the
// smith restores the persisted properties before running.
type FoundryFactory func(snap persist.Snapshot) Foundry

// RecoveryCoordinator resumes persisted executions after a crash or
// restart.
//
// A resume picks up at the snapshot's NextOperationIndex with the
// persisted property map: completed operations are not re-run, the
// failed (or next) operation is. Failed resume attempts retry with a
// fixed or exponential delay per RecoveryOptions.
type RecoveryCoordinator struct {
	logger  wflog.Logger
	smith   *Smith
	store   persist.Provider
	opts    RecoveryOptions
	clock   Clock
	metrics *PrometheusMetrics
}

// RecoveryOption customizes a coordinator at construction.
type RecoveryOption func(*RecoveryCoordinator)

// WithRecoveryClock injects a clock; defaults to the process-wide clock.
func WithRecoveryClock(clock Clock) RecoveryOption {
	return func(rc *RecoveryCoordinator) {
		if clock != nil {
			rc.clock = clock
		}
	}
}

// WithRecoveryMetrics attaches a Prometheus collector for resume
// attempt counts.
func WithRecoveryMetrics(m *PrometheusMetrics) RecoveryOption {
	return func(rc *RecoveryCoordinator) { rc.metrics = m }
}

// NewRecoveryCoordinator creates a coordinator resuming through the
// given smith and snapshot store. Retry behavior comes from the smith's
// Recovery options.
func NewRecoveryCoordinator(logger wflog.Logger, smith *Smith, store persist.Provider, ropts ...RecoveryOption) (*RecoveryCoordinator, error) {
	if smith == nil {
		return nil, &ConfigError{Fields: []string{"Smith"}, Problems: []string{"Smith cannot be nil"}}
	}
	if store == nil {
		return nil, &ConfigError{Fields: []string{"Store"}, Problems: []string{"Store cannot be nil"}}
	}

	rc := &RecoveryCoordinator{
		logger: wflog.OrNull(logger),
		smith:  smith,
		store:  store,
		opts:   smith.Options().Recovery,
		clock:  DefaultClock(),
	}
	for _, ro := range ropts {
		ro(rc)
	}
	return rc, nil
}

// Resume loads the persisted state of one execution and re-runs it from
// where it stopped, retrying up to MaxRetryAttempts times.
//
// Returns nil once a resume attempt completes the workflow; the last
// attempt's error when all attempts fail; persist.ErrNotFound (wrapped)
// when the execution has no persisted state.
func (rc *RecoveryCoordinator) Resume(ctx context.Context, executionID uuid.UUID, workflows WorkflowFactory, foundries FoundryFactory) error {
	snap, err := rc.store.TryLoad(ctx, executionID)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return fmt.Errorf("no persisted state for execution %s: %w", executionID, err)
		}
		return &OperationError{
			OperationName: "TryLoad",
			Index:         -1,
			Code:          CodePersistenceFailed,
			Cause:         err,
		}
	}
	return rc.resumeSnapshot(ctx, snap, workflows, foundries)
}

// ResumeAll resumes every pending execution the store knows about,
// oldest first. Returns the number of executions that completed and an
// aggregate of per-execution failures.
//
// The store must implement persist.Catalog.
func (rc *RecoveryCoordinator) ResumeAll(ctx context.Context, workflows WorkflowFactory, foundries FoundryFactory) (int, error) {
	catalog, ok := rc.store.(persist.Catalog)
	if !ok {
		return 0, &ConfigError{Fields: []string{"Store"}, Problems: []string{"Store does not support listing pending executions"}}
	}

	snaps, err := catalog.ListPending(ctx)
	if err != nil {
		return 0, &OperationError{
			OperationName: "ListPending",
			Index:         -1,
			Code:          CodePersistenceFailed,
			Cause:         err,
		}
	}

	succeeded := 0
	var failures []error
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		if err := rc.resumeSnapshot(ctx, snap, workflows, foundries); err != nil {
			failures = append(failures, fmt.Errorf("resume %s: %w", snap.ExecutionID, err))
			continue
		}
		succeeded++
	}
	return succeeded, errors.Join(failures...)
}

// resumeSnapshot runs the retry loop for one persisted execution.
func (rc *RecoveryCoordinator) resumeSnapshot(ctx context.Context, snap persist.Snapshot, workflows WorkflowFactory, foundries FoundryFactory) error {
	attempts := rc.opts.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if rc.opts.LogRecoveryAttempts {
			rc.logger.Info("Workflow recovery attempt started",
				wflog.FieldExecutionID, snap.ExecutionID.String(),
				wflog.FieldExecutionName, snap.WorkflowName,
				"Attempt", attempt,
				"MaxAttempts", attempts,
				"NextOperationIndex", snap.NextOperationIndex,
			)
		}

		lastErr = rc.attempt(ctx, snap, workflows, foundries)
		if lastErr == nil {
			if rc.metrics != nil {
				rc.metrics.RecordRecoveryAttempt(snap.WorkflowName, "success")
			}
			if rc.opts.LogRecoveryAttempts {
				rc.logger.Info("Workflow recovery succeeded",
					wflog.FieldExecutionID, snap.ExecutionID.String(),
					wflog.FieldExecutionName, snap.WorkflowName,
					"Attempt", attempt,
				)
			}
			return nil
		}

		if rc.metrics != nil {
			rc.metrics.RecordRecoveryAttempt(snap.WorkflowName, "failure")
		}
		if rc.opts.LogRecoveryAttempts {
			rc.logger.Warn("Workflow recovery attempt failed",
				wflog.FieldExecutionID, snap.ExecutionID.String(),
				wflog.FieldExecutionName, snap.WorkflowName,
				"Attempt", attempt,
				"Error", lastErr,
			)
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		if attempt < attempts {
			if err := rc.clock.Sleep(ctx, rc.delay(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// attempt performs one resume: fresh workflow, fresh foundry seeded
// with the persisted execution id, then a normal Forge. The smith loads
// the snapshot itself via the persistence options.
func (rc *RecoveryCoordinator) attempt(ctx context.Context, snap persist.Snapshot, workflows WorkflowFactory, foundries FoundryFactory) error {
	wf, err := workflows(snap)
	if err != nil {
		return fmt.Errorf("workflow factory: %w", err)
	}
	if wf == nil {
		return &ConfigError{Fields: []string{"Workflow"}, Problems: []string{"Workflow factory returned nil"}}
	}

	foundry := foundries(snap)
	if foundry == nil {
		return &ConfigError{Fields: []string{"Foundry"}, Problems: []string{"Foundry factory returned nil"}}
	}
	if err := foundry.SetExecutionID(snap.ExecutionID); err != nil {
		return err
	}

	return rc.smith.Forge(ctx, wf, foundry)
}

// delay computes the wait after the given 1-based failed attempt.
func (rc *RecoveryCoordinator) delay(attempt int) time.Duration {
	if !rc.opts.UseExponentialBackoff {
		return rc.opts.BaseDelay
	}
	return rc.opts.BaseDelay * (1 << (attempt - 1))
}
