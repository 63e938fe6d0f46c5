package workflow

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// ForEachOperation forges a child operation once per input item with
// bounded concurrency.
//
// The input must be a []any (items are passed to the child as its
// input); the output is a []any of child outputs in item order. The
// first child error cancels the remaining items and fails the whole
// operation.
//
// Items may run concurrently, so the child operation and any foundry
// properties it touches must tolerate concurrent access.
type ForEachOperation struct {
	id             uuid.UUID
	name           string
	child          Operation
	maxConcurrency int

	// mu serializes read-modify-write of the completion record in the
	// foundry. Completed item indices live in foundry properties (keyed
	// by operation id) rather than on the operation, which the workflow
	// owns and reuses across runs.
	mu           sync.Mutex
	completedKey string
}

// NewForEachOperation creates a fan-out operation.
//
// maxConcurrency bounds the number of items in flight; values < 1 mean
// sequential execution.
func NewForEachOperation(name string, child Operation, maxConcurrency int) *ForEachOperation {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	id := uuid.New()
	return &ForEachOperation{
		id:             id,
		name:           name,
		child:          child,
		maxConcurrency: maxConcurrency,
		completedKey:   "ForEach." + id.String() + ".Completed",
	}
}

// ID implements Operation.
func (f *ForEachOperation) ID() uuid.UUID { return f.id }

// Name implements Operation.
func (f *ForEachOperation) Name() string { return f.name }

// SupportsRestore mirrors the child operation.
func (f *ForEachOperation) SupportsRestore() bool { return f.child.SupportsRestore() }

// Forge runs the child once per item.
func (f *ForEachOperation) Forge(ctx context.Context, input any, foundry Foundry) (any, error) {
	items, ok := input.([]any)
	if !ok {
		return nil, &OperationError{
			OperationName: f.name,
			Code:          CodeOperationFailed,
			Cause:         errInputNotSlice,
		}
	}

	foundry.Logger().Debug("Operation execution started",
		wflog.FieldForEachCollectionSize, len(items),
		wflog.FieldForEachMaxConcurrency, f.maxConcurrency,
	)

	outputs := make([]any, len(items))

	// Each run starts with a fresh completion record so a reused
	// workflow cannot replay an earlier run's items on restore.
	props := foundry.Properties()
	props.Set(f.completedKey, []int(nil))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxConcurrency)

	for i, item := range items {
		g.Go(func() error {
			foundry.Logger().Debug("Operation execution started",
				wflog.FieldForEachItemIndex, i,
				wflog.FieldForEachCollectionSize, len(items),
			)
			out, err := f.child.Forge(gctx, item, foundry)
			if err != nil {
				foundry.Logger().Error("Operation execution failed",
					wflog.FieldForEachItemIndex, i, "Error", err)
				return err
			}
			outputs[i] = out
			f.mu.Lock()
			done, _ := props.Get(f.completedKey)
			indices, _ := done.([]int)
			props.Set(f.completedKey, append(indices, i))
			f.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// Restore undoes completed items in reverse completion order. Items
// whose forge never finished are not restored. The completion record is
// read from the foundry and consumed, so restoring twice is a no-op.
func (f *ForEachOperation) Restore(ctx context.Context, lastOutput any, foundry Foundry) error {
	outputs, _ := lastOutput.([]any)

	props := foundry.Properties()
	f.mu.Lock()
	done, _ := props.Get(f.completedKey)
	completed := completedIndices(done)
	props.Delete(f.completedKey)
	f.mu.Unlock()

	var firstErr error
	for i := len(completed) - 1; i >= 0; i-- {
		idx := completed[i]
		var out any
		if idx < len(outputs) {
			out = outputs[idx]
		}
		if err := f.child.Restore(ctx, out, foundry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// completedIndices tolerates both the in-process []int record and the
// []any form it takes after a persistence round-trip through JSON.
func completedIndices(v any) []int {
	switch record := v.(type) {
	case []int:
		return record
	case []any:
		out := make([]int, 0, len(record))
		for _, item := range record {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	}
	return nil
}

var errInputNotSlice = &inputTypeError{}

type inputTypeError struct{}

func (*inputTypeError) Error() string { return "foreach input must be []any" }
