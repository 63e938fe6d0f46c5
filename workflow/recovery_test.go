package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/workflowforge/workflowforge-go/workflow/persist"
)

// crashyWorkflow builds a two-step workflow whose second step fails
// until the shared flag flips. firstRuns counts executions of the first
// step so tests can prove completed work is not re-run on resume.
func crashyWorkflow(t *testing.T, firstRuns *int32, secondFails *atomic.Bool) *Workflow {
	t.Helper()
	wf, err := NewBuilder("order").
		AddOperationFunc("Reserve", func(ctx context.Context, input any, f Foundry) (any, error) {
			atomic.AddInt32(firstRuns, 1)
			return "reservation-7", nil
		}).
		AddOperationFunc("Charge", func(ctx context.Context, input any, f Foundry) (any, error) {
			if secondFails.Load() {
				return nil, errors.New("gateway unavailable")
			}
			if input != "reservation-7" {
				t.Errorf("Charge input = %v, want chained reservation", input)
			}
			return "charge-9", nil
		}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	return wf
}

func persistentOptions() Options {
	opts := DefaultOptions()
	opts.Persistence.Enabled = true
	opts.Persistence.InstanceID = "order-42"
	opts.Persistence.WorkflowKey = "order-workflow"
	opts.ContinueOnError = false
	return opts
}

func TestResumeAfterFailure(t *testing.T) {
	store := persist.NewMemoryProvider(0)
	opts := persistentOptions()
	smith, err := NewSmith(nil, nil, opts, WithPersistence(store))
	if err != nil {
		t.Fatal(err)
	}

	var firstRuns int32
	var secondFails atomic.Bool
	secondFails.Store(true)

	ctx := context.Background()
	execID := persist.DeriveExecutionID(opts.Persistence.InstanceID)

	// First run: Charge fails, progress is checkpointed.
	foundry := NewTestFoundry(opts)
	if err := smith.Forge(ctx, crashyWorkflow(t, &firstRuns, &secondFails), foundry); err == nil {
		t.Fatal("first run should fail")
	}
	if got := foundry.ExecutionID(); got != execID {
		t.Errorf("execution id = %s, want derived %s", got, execID)
	}

	snap, err := store.TryLoad(ctx, execID)
	if err != nil {
		t.Fatalf("snapshot missing after failure: %v", err)
	}
	if snap.NextOperationIndex != 1 {
		t.Errorf("NextOperationIndex = %d, want 1 (re-run the failed operation)", snap.NextOperationIndex)
	}
	if snap.WorkflowName != "order" {
		t.Errorf("WorkflowName = %q", snap.WorkflowName)
	}
	if v, ok := snap.Properties[OutputKey(0, "Reserve")]; !ok || v != "reservation-7" {
		t.Errorf("persisted properties missing Reserve output: %v", snap.Properties)
	}

	// The dependency recovers; resume completes the run.
	secondFails.Store(false)
	rc, err := NewRecoveryCoordinator(nil, smith, store)
	if err != nil {
		t.Fatal(err)
	}

	err = rc.Resume(ctx, execID,
		func(s persist.Snapshot) (*Workflow, error) {
			return crashyWorkflow(t, &firstRuns, &secondFails), nil
		},
		func(s persist.Snapshot) Foundry {
			return NewTestFoundry(opts)
		})
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if n := atomic.LoadInt32(&firstRuns); n != 1 {
		t.Errorf("Reserve ran %d times, want 1 (completed work must not re-run)", n)
	}

	// Completed executions leave no pending snapshot.
	if _, err := store.TryLoad(ctx, execID); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("snapshot should be deleted after completion, got %v", err)
	}
}

func TestResumeRetries(t *testing.T) {
	store := persist.NewMemoryProvider(0)
	opts := persistentOptions()
	opts.Recovery.MaxRetryAttempts = 3
	opts.Recovery.BaseDelay = time.Second
	opts.Recovery.UseExponentialBackoff = true
	smith, err := NewSmith(nil, nil, opts, WithPersistence(store))
	if err != nil {
		t.Fatal(err)
	}

	var firstRuns int32
	var secondFails atomic.Bool
	secondFails.Store(true)

	ctx := context.Background()
	execID := persist.DeriveExecutionID(opts.Persistence.InstanceID)

	foundry := NewTestFoundry(opts)
	if err := smith.Forge(ctx, crashyWorkflow(t, &firstRuns, &secondFails), foundry); err == nil {
		t.Fatal("first run should fail")
	}

	// The first two resume attempts still hit the failing dependency.
	var attempts int32
	clock := NewFakeClock(time.Now())
	rc, err := NewRecoveryCoordinator(nil, smith, store, WithRecoveryClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	err = rc.Resume(ctx, execID,
		func(s persist.Snapshot) (*Workflow, error) {
			if atomic.AddInt32(&attempts, 1) == 3 {
				secondFails.Store(false)
			}
			return crashyWorkflow(t, &firstRuns, &secondFails), nil
		},
		func(s persist.Snapshot) Foundry {
			return NewTestFoundry(opts)
		})
	if err != nil {
		t.Fatalf("resume should succeed on attempt 3: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}

	// Exponential: 1s after attempt 1, 2s after attempt 2.
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %v, want 2 waits", sleeps)
	}
	if sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("backoff = %v, want [1s 2s]", sleeps)
	}
}

func TestResumeExhaustsAttempts(t *testing.T) {
	store := persist.NewMemoryProvider(0)
	opts := persistentOptions()
	opts.Recovery.MaxRetryAttempts = 2
	opts.Recovery.BaseDelay = time.Millisecond
	smith, _ := NewSmith(nil, nil, opts, WithPersistence(store))

	var firstRuns int32
	var secondFails atomic.Bool
	secondFails.Store(true)

	ctx := context.Background()
	execID := persist.DeriveExecutionID(opts.Persistence.InstanceID)

	_ = smith.Forge(ctx, crashyWorkflow(t, &firstRuns, &secondFails), NewTestFoundry(opts))

	clock := NewFakeClock(time.Now())
	rc, _ := NewRecoveryCoordinator(nil, smith, store, WithRecoveryClock(clock))

	err := rc.Resume(ctx, execID,
		func(s persist.Snapshot) (*Workflow, error) {
			return crashyWorkflow(t, &firstRuns, &secondFails), nil
		},
		func(s persist.Snapshot) Foundry { return NewTestFoundry(opts) })
	if err == nil {
		t.Fatal("resume should fail when all attempts fail")
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Errorf("expected the last attempt's operation error, got %v", err)
	}

	// The failing snapshot survives for a later resume.
	if _, err := store.TryLoad(ctx, execID); err != nil {
		t.Errorf("snapshot should survive failed recovery: %v", err)
	}
}

func TestResumeUnknownExecution(t *testing.T) {
	store := persist.NewMemoryProvider(0)
	smith, _ := NewSmith(nil, nil, persistentOptions(), WithPersistence(store))
	rc, _ := NewRecoveryCoordinator(nil, smith, store)

	err := rc.Resume(context.Background(), persist.DeriveExecutionID("never-ran"),
		func(s persist.Snapshot) (*Workflow, error) { return NewBuilder("wf").Build() },
		func(s persist.Snapshot) Foundry { return NewTestFoundry(persistentOptions()) })
	if !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResumeAll(t *testing.T) {
	store := persist.NewMemoryProvider(0)
	opts := DefaultOptions()
	opts.Persistence.Enabled = true
	smith, err := NewSmith(nil, nil, opts, WithPersistence(store))
	if err != nil {
		t.Fatal(err)
	}

	var secondFails atomic.Bool
	secondFails.Store(true)
	var firstRuns int32

	ctx := context.Background()

	// Strand two executions mid-run.
	for i := 0; i < 2; i++ {
		_ = smith.Forge(ctx, crashyWorkflow(t, &firstRuns, &secondFails), NewTestFoundry(opts))
	}
	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending executions = %d, want 2", len(pending))
	}

	secondFails.Store(false)
	rc, _ := NewRecoveryCoordinator(nil, smith, store)

	resumed, err := rc.ResumeAll(ctx,
		func(s persist.Snapshot) (*Workflow, error) {
			return crashyWorkflow(t, &firstRuns, &secondFails), nil
		},
		func(s persist.Snapshot) Foundry { return NewTestFoundry(opts) })
	if err != nil {
		t.Fatalf("ResumeAll failed: %v", err)
	}
	if resumed != 2 {
		t.Errorf("resumed = %d, want 2", resumed)
	}

	pending, _ = store.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending after ResumeAll = %d, want 0", len(pending))
	}
}
