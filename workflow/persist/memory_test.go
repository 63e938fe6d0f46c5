package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func sampleSnapshot(next int) Snapshot {
	return Snapshot{
		ExecutionID:        uuid.New(),
		WorkflowID:         uuid.New(),
		WorkflowName:       "order",
		NextOperationIndex: next,
		Properties: map[string]any{
			"Workflow.Name":              "order",
			"Operation.0:Reserve.Output": "reservation-7",
		},
		SavedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := NewMemoryProvider(0)
	ctx := context.Background()
	snap := sampleSnapshot(1)

	if err := p.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}

	got, err := p.TryLoad(ctx, snap.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExecutionID != snap.ExecutionID || got.WorkflowID != snap.WorkflowID {
		t.Error("identity fields lost")
	}
	if got.NextOperationIndex != 1 || got.WorkflowName != "order" {
		t.Errorf("fields lost: %+v", got)
	}
	if got.Properties["Operation.0:Reserve.Output"] != "reservation-7" {
		t.Error("properties lost")
	}

	// Stored state is isolated from the caller's map.
	snap.Properties["Workflow.Name"] = "mutated"
	got2, _ := p.TryLoad(ctx, snap.ExecutionID)
	if got2.Properties["Workflow.Name"] != "order" {
		t.Error("stored snapshot shares the caller's map")
	}
}

func TestMemoryProviderNotFound(t *testing.T) {
	p := NewMemoryProvider(0)
	if _, err := p.TryLoad(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryProviderDelete(t *testing.T) {
	p := NewMemoryProvider(0)
	ctx := context.Background()
	snap := sampleSnapshot(0)

	if err := p.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}
	if err := p.Delete(ctx, snap.ExecutionID); err != nil {
		t.Fatal(err)
	}
	if _, err := p.TryLoad(ctx, snap.ExecutionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting an unknown execution is a no-op.
	if err := p.Delete(ctx, uuid.New()); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryProviderVersions(t *testing.T) {
	p := NewMemoryProvider(3)
	ctx := context.Background()
	snap := sampleSnapshot(0)

	for i := 0; i < 5; i++ {
		snap.NextOperationIndex = i
		if err := p.Save(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	// Oldest versions are purged first; the latest survives.
	if got := p.VersionCount(snap.ExecutionID); got != 3 {
		t.Errorf("retained versions = %d, want 3", got)
	}
	latest, err := p.TryLoad(ctx, snap.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.NextOperationIndex != 4 {
		t.Errorf("latest NextOperationIndex = %d, want 4", latest.NextOperationIndex)
	}
}

func TestMemoryProviderListPending(t *testing.T) {
	p := NewMemoryProvider(0)
	ctx := context.Background()

	older := sampleSnapshot(1)
	older.SavedAt = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := sampleSnapshot(2)
	newer.SavedAt = time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)

	if err := p.Save(ctx, newer); err != nil {
		t.Fatal(err)
	}
	if err := p.Save(ctx, older); err != nil {
		t.Fatal(err)
	}

	pending, err := p.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if !pending[0].SavedAt.Before(pending[1].SavedAt) {
		t.Error("pending snapshots should be oldest first")
	}
}

func TestDeriveKeys(t *testing.T) {
	a := DeriveExecutionID("order-42")
	b := DeriveExecutionID("order-42")
	if a != b {
		t.Error("derived execution ids must be stable")
	}
	if a == DeriveExecutionID("order-43") {
		t.Error("different instances must not collide")
	}
	// Execution and workflow namespaces are distinct even for the same
	// input string.
	if DeriveExecutionID("order-42") == DeriveWorkflowID("order-42") {
		t.Error("execution and workflow key spaces collide")
	}
	if DeriveWorkflowID("order-workflow") != DeriveWorkflowID("order-workflow") {
		t.Error("derived workflow ids must be stable")
	}
}
