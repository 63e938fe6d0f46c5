package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConditionalOperation(t *testing.T) {
	mkBranch := func(name string, restored *bool) Operation {
		return NewRestorableOperation(name,
			func(ctx context.Context, input any, f Foundry) (any, error) {
				return name, nil
			},
			func(ctx context.Context, lastOutput any, f Foundry) error {
				*restored = true
				return nil
			})
	}

	t.Run("true takes then branch", func(t *testing.T) {
		var thenRestored, elseRestored bool
		op := NewConditionalOperation("route",
			func(f Foundry) bool { return true },
			mkBranch("then", &thenRestored),
			mkBranch("else", &elseRestored))

		f := NewTestFoundry(DefaultOptions())
		out, err := op.Forge(context.Background(), nil, f)
		if err != nil || out != "then" {
			t.Fatalf("Forge = %v, %v", out, err)
		}

		if err := op.Restore(context.Background(), out, f); err != nil {
			t.Fatal(err)
		}
		if !thenRestored || elseRestored {
			t.Errorf("restore hit wrong branch: then=%v else=%v", thenRestored, elseRestored)
		}
	})

	t.Run("false takes otherwise branch", func(t *testing.T) {
		var thenRestored, elseRestored bool
		op := NewConditionalOperation("route",
			func(f Foundry) bool { return false },
			mkBranch("then", &thenRestored),
			mkBranch("else", &elseRestored))

		f := NewTestFoundry(DefaultOptions())
		out, err := op.Forge(context.Background(), nil, f)
		if err != nil || out != "else" {
			t.Fatalf("Forge = %v, %v", out, err)
		}
		if err := op.Restore(context.Background(), out, f); err != nil {
			t.Fatal(err)
		}
		if thenRestored || !elseRestored {
			t.Errorf("restore hit wrong branch: then=%v else=%v", thenRestored, elseRestored)
		}
	})

	t.Run("nil otherwise forwards input", func(t *testing.T) {
		var thenRestored bool
		op := NewConditionalOperation("route",
			func(f Foundry) bool { return false },
			mkBranch("then", &thenRestored), nil)

		f := NewTestFoundry(DefaultOptions())
		out, err := op.Forge(context.Background(), "pass-through", f)
		if err != nil || out != "pass-through" {
			t.Fatalf("Forge = %v, %v", out, err)
		}
		// Nothing ran: restore is a no-op.
		if err := op.Restore(context.Background(), out, f); err != nil {
			t.Fatal(err)
		}
		if thenRestored {
			t.Error("untaken branch restored")
		}
	})

	t.Run("restore support requires both branches", func(t *testing.T) {
		var r bool
		plain := NewOperation("plain", func(ctx context.Context, input any, f Foundry) (any, error) {
			return nil, nil
		})
		mixed := NewConditionalOperation("route", func(Foundry) bool { return true },
			mkBranch("then", &r), plain)
		if mixed.SupportsRestore() {
			t.Error("mixed branches should not support restore")
		}
	})
}

func TestDelayOperation(t *testing.T) {
	clock := NewFakeClock(testInstant())
	op := NewDelayOperation("wait", 5*time.Second)

	f := NewTestFoundry(DefaultOptions(), WithFoundryClock(clock))
	out, err := op.Forge(context.Background(), "carried", f)
	if err != nil {
		t.Fatal(err)
	}
	if out != "carried" {
		t.Errorf("delay should forward input, got %v", out)
	}
	if sleeps := clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != 5*time.Second {
		t.Errorf("Sleeps = %v", sleeps)
	}
	if op.SupportsRestore() {
		t.Error("a wait has nothing to undo")
	}
}

func TestForEachOperation(t *testing.T) {
	t.Run("maps items in order", func(t *testing.T) {
		child := NewOperation("double", func(ctx context.Context, input any, f Foundry) (any, error) {
			return input.(int) * 2, nil
		})
		op := NewForEachOperation("double-all", child, 4)

		f := NewTestFoundry(DefaultOptions())
		out, err := op.Forge(context.Background(), []any{1, 2, 3, 4, 5}, f)
		if err != nil {
			t.Fatal(err)
		}
		got := out.([]any)
		for i, v := range got {
			if v != (i+1)*2 {
				t.Errorf("item %d = %v, want %d", i, v, (i+1)*2)
			}
		}
	})

	t.Run("rejects non-slice input", func(t *testing.T) {
		child := NewOperation("noop", func(ctx context.Context, input any, f Foundry) (any, error) {
			return nil, nil
		})
		op := NewForEachOperation("fan", child, 1)
		if _, err := op.Forge(context.Background(), "not-a-slice", NewTestFoundry(DefaultOptions())); err == nil {
			t.Fatal("non-slice input must fail")
		}
	})

	t.Run("bounds concurrency", func(t *testing.T) {
		var inflight, peak int32
		child := NewOperation("hold", func(ctx context.Context, input any, f Foundry) (any, error) {
			n := atomic.AddInt32(&inflight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			return nil, nil
		})
		op := NewForEachOperation("bounded", child, 2)

		items := make([]any, 8)
		for i := range items {
			items[i] = i
		}
		if _, err := op.Forge(context.Background(), items, NewTestFoundry(DefaultOptions())); err != nil {
			t.Fatal(err)
		}
		if p := atomic.LoadInt32(&peak); p > 2 {
			t.Errorf("peak concurrency = %d, want <= 2", p)
		}
	})

	t.Run("first error cancels the rest", func(t *testing.T) {
		boom := errors.New("item 2 failed")
		child := NewOperation("flaky", func(ctx context.Context, input any, f Foundry) (any, error) {
			if input.(int) == 2 {
				return nil, boom
			}
			return input, nil
		})
		op := NewForEachOperation("fan", child, 1)

		_, err := op.Forge(context.Background(), []any{0, 1, 2, 3}, NewTestFoundry(DefaultOptions()))
		if !errors.Is(err, boom) {
			t.Fatalf("expected item error, got %v", err)
		}
	})

	t.Run("restore undoes completed items in reverse", func(t *testing.T) {
		var mu sync.Mutex
		var restored []any
		child := NewRestorableOperation("undoable",
			func(ctx context.Context, input any, f Foundry) (any, error) {
				return input, nil
			},
			func(ctx context.Context, lastOutput any, f Foundry) error {
				mu.Lock()
				defer mu.Unlock()
				restored = append(restored, lastOutput)
				return nil
			})
		op := NewForEachOperation("fan", child, 1)

		f := NewTestFoundry(DefaultOptions())
		out, err := op.Forge(context.Background(), []any{"a", "b", "c"}, f)
		if err != nil {
			t.Fatal(err)
		}
		if err := op.Restore(context.Background(), out, f); err != nil {
			t.Fatal(err)
		}
		// Sequential execution completes in order, restore walks back.
		if len(restored) != 3 || restored[0] != "c" || restored[2] != "a" {
			t.Errorf("restore order = %v", restored)
		}
	})

	t.Run("reuse does not replay earlier runs", func(t *testing.T) {
		var mu sync.Mutex
		var restored []any
		child := NewRestorableOperation("undoable",
			func(ctx context.Context, input any, f Foundry) (any, error) {
				return input, nil
			},
			func(ctx context.Context, lastOutput any, f Foundry) error {
				mu.Lock()
				defer mu.Unlock()
				restored = append(restored, lastOutput)
				return nil
			})
		op := NewForEachOperation("fan", child, 1)

		f := NewTestFoundry(DefaultOptions())
		if _, err := op.Forge(context.Background(), []any{"a", "b", "c"}, f); err != nil {
			t.Fatal(err)
		}
		out, err := op.Forge(context.Background(), []any{"x", "y", "z"}, f)
		if err != nil {
			t.Fatal(err)
		}

		// Only the second run's items are undone.
		if err := op.Restore(context.Background(), out, f); err != nil {
			t.Fatal(err)
		}
		if len(restored) != 3 || restored[0] != "z" || restored[2] != "x" {
			t.Errorf("restore replayed %d items (%v), want the second run's 3", len(restored), restored)
		}

		// The completion record was consumed; restoring again is a no-op.
		if err := op.Restore(context.Background(), out, f); err != nil {
			t.Fatal(err)
		}
		if len(restored) != 3 {
			t.Errorf("second restore replayed items: %v", restored)
		}
	})
}
