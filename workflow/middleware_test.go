package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// recordingLogger captures log messages for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level  string
	msg    string
	fields []any
}

func (l *recordingLogger) log(level, msg string, fields []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) Debug(msg string, fields ...any) { l.log("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...any)  { l.log("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...any)  { l.log("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...any) { l.log("error", msg, fields) }

func (l *recordingLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

// forgeThrough runs a single operation through the given middleware on
// a fresh smith run.
func forgeThrough(t *testing.T, opts Options, logger *recordingLogger, mw Middleware, forge ForgeFunc) (*TestFoundry, error) {
	t.Helper()
	var lg wflog.Logger
	if logger != nil {
		lg = logger
	}
	smith, err := NewSmith(lg, nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	wf, err := NewBuilder("single").AddOperationFunc("Op", forge).Build()
	if err != nil {
		t.Fatal(err)
	}
	foundry := NewTestFoundry(opts)
	if mw != nil {
		if err := foundry.AddMiddleware(mw); err != nil {
			t.Fatal(err)
		}
	}
	return foundry, smith.Forge(context.Background(), wf, foundry)
}

func TestTimingMiddleware(t *testing.T) {
	t.Run("records duration on success", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Timing.Enabled = true

		foundry, err := forgeThrough(t, opts, nil, NewTimingMiddleware(opts.Timing),
			func(ctx context.Context, input any, f Foundry) (any, error) { return nil, nil })
		if err != nil {
			t.Fatal(err)
		}

		props := foundry.Properties()
		if !props.Has(KeyTimingStartTime) || !props.Has(KeyTimingEndTime) {
			t.Error("timing boundaries not recorded")
		}
		if !props.Has(KeyTimingDuration) || !props.Has(KeyTimingDurationTicks) {
			t.Error("timing durations not recorded")
		}
		if props.Has(KeyTimingFailed) {
			t.Error("Timing.Failed must not be set on success")
		}
	})

	t.Run("marks failure and re-raises", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Timing.Enabled = true

		foundry, err := forgeThrough(t, opts, nil, NewTimingMiddleware(opts.Timing),
			func(ctx context.Context, input any, f Foundry) (any, error) {
				return nil, errors.New("boom")
			})
		if err == nil {
			t.Fatal("failure must propagate through timing middleware")
		}
		if !foundry.Properties().GetBool(KeyTimingFailed) {
			t.Error("Timing.Failed not set")
		}
	})

	t.Run("disabled is pass-through", func(t *testing.T) {
		foundry, err := forgeThrough(t, DefaultOptions(), nil, NewTimingMiddleware(TimingOptions{}),
			func(ctx context.Context, input any, f Foundry) (any, error) { return nil, nil })
		if err != nil {
			t.Fatal(err)
		}
		if foundry.Properties().Has(KeyTimingStartTime) {
			t.Error("disabled middleware must not record timings")
		}
	})

	t.Run("detailed timings use per-operation keys", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Timing.Enabled = true
		opts.Timing.IncludeDetailedTimings = true

		foundry, err := forgeThrough(t, opts, nil, NewTimingMiddleware(opts.Timing),
			func(ctx context.Context, input any, f Foundry) (any, error) { return nil, nil })
		if err != nil {
			t.Fatal(err)
		}
		if !foundry.Properties().Has("Timing.0:Op.Duration") {
			t.Error("per-operation timing key not recorded")
		}
	})
}

func TestErrorHandlingMiddleware(t *testing.T) {
	t.Run("records error properties and re-raises", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ErrorHandling.Enabled = true
		opts.ErrorHandling.RethrowExceptions = true

		boom := errors.New("payment declined")
		foundry, err := forgeThrough(t, opts, nil, NewErrorHandlingMiddleware(opts.ErrorHandling),
			func(ctx context.Context, input any, f Foundry) (any, error) { return nil, boom })
		if err == nil {
			t.Fatal("error must re-raise")
		}

		props := foundry.Properties()
		if got := props.GetString(KeyErrorMessage); got != "payment declined" {
			t.Errorf("Error.Message = %q", got)
		}
		if got := props.GetString(KeyErrorType); got == "" {
			t.Error("Error.Type not recorded")
		}
		if !props.Has(KeyErrorTimestamp) {
			t.Error("Error.Timestamp not recorded")
		}
		if props.Has(KeyErrorStackTrace) {
			t.Error("stack trace recorded without IncludeStackTraces")
		}
	})

	t.Run("swallows when rethrow is off", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ErrorHandling.Enabled = true
		opts.ErrorHandling.RethrowExceptions = false

		foundry, err := forgeThrough(t, opts, nil, NewErrorHandlingMiddleware(opts.ErrorHandling),
			func(ctx context.Context, input any, f Foundry) (any, error) {
				return nil, errors.New("transient")
			})
		if err != nil {
			t.Fatalf("swallowed error must not fail the run: %v", err)
		}
		if got := foundry.Properties().GetString(KeyErrorMessage); got != "transient" {
			t.Errorf("Error.Message = %q", got)
		}
	})

	t.Run("captures stack traces when asked", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ErrorHandling.Enabled = true
		opts.ErrorHandling.RethrowExceptions = true
		opts.ErrorHandling.IncludeStackTraces = true

		foundry, _ := forgeThrough(t, opts, nil, NewErrorHandlingMiddleware(opts.ErrorHandling),
			func(ctx context.Context, input any, f Foundry) (any, error) {
				return nil, errors.New("boom")
			})
		if !foundry.Properties().Has(KeyErrorStackTrace) {
			t.Error("Error.StackTrace not recorded")
		}
	})
}

func TestLoggingMiddleware(t *testing.T) {
	t.Run("logs lifecycle messages", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Logging.Enabled = true
		logger := &recordingLogger{}

		// The middleware logs through the foundry's logger, which the
		// test foundry discards; build a foundry around the recorder.
		smith, _ := NewSmith(nil, nil, opts)
		wf, _ := NewBuilder("logged").
			AddOperationFunc("Op", func(ctx context.Context, input any, f Foundry) (any, error) {
				return nil, nil
			}).Build()
		foundry := NewFoundry(logger, nil, opts)
		if err := foundry.AddMiddleware(NewLoggingMiddleware(opts.Logging)); err != nil {
			t.Fatal(err)
		}
		if err := smith.Forge(context.Background(), wf, foundry); err != nil {
			t.Fatal(err)
		}

		msgs := strings.Join(logger.messages("info"), "|")
		if !strings.Contains(msgs, "Operation execution started") {
			t.Error("missing start log")
		}
		if !strings.Contains(msgs, "Operation execution completed") {
			t.Error("missing completion log")
		}
	})

	t.Run("logs failures at error level", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Logging.Enabled = true
		logger := &recordingLogger{}

		smith, _ := NewSmith(nil, nil, opts)
		wf, _ := NewBuilder("logged").
			AddOperationFunc("Op", func(ctx context.Context, input any, f Foundry) (any, error) {
				return nil, errors.New("boom")
			}).Build()
		foundry := NewFoundry(logger, nil, opts)
		_ = foundry.AddMiddleware(NewLoggingMiddleware(opts.Logging))
		_ = smith.Forge(context.Background(), wf, foundry)

		found := false
		for _, m := range logger.messages("error") {
			if m == "Operation execution failed" {
				found = true
			}
		}
		if !found {
			t.Error("missing failure log at error level")
		}
	})

	t.Run("minimum level suppresses info", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Logging.Enabled = true
		opts.Logging.MinimumLevel = LevelError
		logger := &recordingLogger{}

		smith, _ := NewSmith(nil, nil, opts)
		wf, _ := NewBuilder("quiet").
			AddOperationFunc("Op", func(ctx context.Context, input any, f Foundry) (any, error) {
				return nil, nil
			}).Build()
		foundry := NewFoundry(logger, nil, opts)
		_ = foundry.AddMiddleware(NewLoggingMiddleware(opts.Logging))
		if err := smith.Forge(context.Background(), wf, foundry); err != nil {
			t.Fatal(err)
		}

		for _, m := range logger.messages("info") {
			if strings.HasPrefix(m, "Operation execution") {
				t.Errorf("info log %q should be suppressed at MinimumLevel=Error", m)
			}
		}
	})
}

func TestAuditMiddleware(t *testing.T) {
	collect := func() (*[]AuditEntry, AuditProvider) {
		var entries []AuditEntry
		var mu sync.Mutex
		return &entries, AuditProviderFunc(func(ctx context.Context, entry AuditEntry) error {
			mu.Lock()
			defer mu.Unlock()
			entries = append(entries, entry)
			return nil
		})
	}

	t.Run("standard detail records start and completion", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Audit.Enabled = true
		opts.Audit.DetailLevel = AuditStandard
		entries, provider := collect()

		_, err := forgeThrough(t, opts, nil, NewAuditMiddleware(opts.Audit, provider, "svc-forge"),
			func(ctx context.Context, input any, f Foundry) (any, error) { return "out", nil })
		if err != nil {
			t.Fatal(err)
		}

		if len(*entries) != 2 {
			t.Fatalf("entries = %d, want 2", len(*entries))
		}
		if (*entries)[0].EventType != AuditStarted || (*entries)[1].EventType != AuditCompleted {
			t.Errorf("entry types = %v, %v", (*entries)[0].EventType, (*entries)[1].EventType)
		}
		if (*entries)[1].Status != "Completed" {
			t.Errorf("completion status = %q", (*entries)[1].Status)
		}
	})

	t.Run("minimal detail records completion only", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Audit.Enabled = true
		opts.Audit.DetailLevel = AuditMinimal
		entries, provider := collect()

		if _, err := forgeThrough(t, opts, nil, NewAuditMiddleware(opts.Audit, provider, ""),
			func(ctx context.Context, input any, f Foundry) (any, error) { return nil, nil }); err != nil {
			t.Fatal(err)
		}
		if len(*entries) != 1 || (*entries)[0].EventType != AuditCompleted {
			t.Errorf("minimal entries = %+v", *entries)
		}
	})

	t.Run("failures become Failed entries", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Audit.Enabled = true
		entries, provider := collect()

		_, err := forgeThrough(t, opts, nil, NewAuditMiddleware(opts.Audit, provider, ""),
			func(ctx context.Context, input any, f Foundry) (any, error) {
				return nil, errors.New("boom")
			})
		if err == nil {
			t.Fatal("expected failure")
		}
		last := (*entries)[len(*entries)-1]
		if last.EventType != AuditFailed || last.ErrorMessage != "boom" {
			t.Errorf("failure entry = %+v", last)
		}
	})

	t.Run("provider failure never breaks execution", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Audit.Enabled = true
		logger := &recordingLogger{}
		provider := AuditProviderFunc(func(ctx context.Context, entry AuditEntry) error {
			return errors.New("audit store down")
		})

		smith, _ := NewSmith(logger, nil, opts)
		wf, _ := NewBuilder("audited").
			AddOperationFunc("Op", func(ctx context.Context, input any, f Foundry) (any, error) {
				return nil, nil
			}).Build()
		foundry := NewFoundry(logger, nil, opts)
		_ = foundry.AddMiddleware(NewAuditMiddleware(opts.Audit, provider, ""))

		if err := smith.Forge(context.Background(), wf, foundry); err != nil {
			t.Fatalf("audit failure must not fail the run: %v", err)
		}
		if len(logger.messages("warn")) == 0 {
			t.Error("audit failure should be logged")
		}
	})
}

func TestValidationMiddleware(t *testing.T) {
	failing := ValidatorFunc(func(ctx context.Context, op Operation, f Foundry, input any) []FieldError {
		return []FieldError{{PropertyName: "Qty", ErrorMessage: "must be > 0"}}
	})
	passing := ValidatorFunc(func(ctx context.Context, op Operation, f Foundry, input any) []FieldError {
		return nil
	})

	t.Run("success records status", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Validation.Enabled = true

		foundry, err := forgeThrough(t, opts, nil, NewValidationMiddleware(opts.Validation, passing),
			func(ctx context.Context, input any, f Foundry) (any, error) { return nil, nil })
		if err != nil {
			t.Fatal(err)
		}
		if got := foundry.Properties().GetString(KeyValidationStatus); got != ValidationStatusSuccess {
			t.Errorf("Validation.Status = %q, want Success", got)
		}
	})

	t.Run("ignore mode runs anyway", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Validation.Enabled = true
		opts.Validation.IgnoreValidationFailures = true

		ran := false
		foundry, err := forgeThrough(t, opts, nil, NewValidationMiddleware(opts.Validation, failing),
			func(ctx context.Context, input any, f Foundry) (any, error) {
				ran = true
				return nil, nil
			})
		if err != nil {
			t.Fatal(err)
		}
		if !ran {
			t.Error("operation should run under IgnoreValidationFailures")
		}
		if got := foundry.Properties().GetString(KeyValidationStatus); got != ValidationStatusFailed {
			t.Errorf("Validation.Status = %q, want Failed", got)
		}
		stored, _ := foundry.Properties().Get(KeyValidationErrors)
		findings, ok := stored.([]FieldError)
		if !ok || len(findings) != 1 {
			t.Fatalf("Validation.Errors = %#v, want one FieldError", stored)
		}
		if findings[0].PropertyName == "" || findings[0].ErrorMessage == "" {
			t.Errorf("finding lost its fields: %+v", findings[0])
		}
	})

	t.Run("block mode skips silently", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Validation.Enabled = true

		ran := false
		foundry, err := forgeThrough(t, opts, nil, NewValidationMiddleware(opts.Validation, failing),
			func(ctx context.Context, input any, f Foundry) (any, error) {
				ran = true
				return nil, nil
			})
		if err != nil {
			t.Fatalf("blocking mode must not fail the run: %v", err)
		}
		if ran {
			t.Error("operation must not run when blocked")
		}
		if got := foundry.Properties().GetString(KeyValidationStatus); got != ValidationStatusFailed {
			t.Errorf("Validation.Status = %q, want Failed", got)
		}
	})

	t.Run("findings aggregate across validators", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Validation.Enabled = true
		opts.Validation.ThrowOnValidationError = true

		other := ValidatorFunc(func(ctx context.Context, op Operation, f Foundry, input any) []FieldError {
			return []FieldError{{PropertyName: "Name", ErrorMessage: "required"}}
		})
		_, err := forgeThrough(t, opts, nil, NewValidationMiddleware(opts.Validation, failing, other),
			func(ctx context.Context, input any, f Foundry) (any, error) { return nil, nil })

		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if len(verr.Errors) != 2 {
			t.Errorf("findings = %d, want 2", len(verr.Errors))
		}
	})

	t.Run("conflicting options rejected by Validate", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Validation.IgnoreValidationFailures = true
		opts.Validation.ThrowOnValidationError = true
		if err := opts.Validate(); err == nil {
			t.Error("ignore+throw combination must be invalid")
		}
	})
}

func TestMiddlewareShortCircuit(t *testing.T) {
	smith, _ := NewSmith(nil, nil, DefaultOptions())

	ran := false
	wf, _ := NewBuilder("gated").
		AddOperationFunc("Op", func(ctx context.Context, input any, f Foundry) (any, error) {
			ran = true
			return nil, nil
		}).Build()

	foundry := NewTestFoundry(DefaultOptions())
	_ = foundry.AddMiddleware(MiddlewareFunc(func(ctx context.Context, op Operation, f Foundry, input any, next Next) (any, error) {
		// Never calls next: the operation is suppressed.
		return "gated", nil
	}))

	if err := smith.Forge(context.Background(), wf, foundry); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("operation ran despite middleware short-circuit")
	}
	if v, _ := foundry.Properties().Get(OutputKey(0, "Op")); v != "gated" {
		t.Errorf("middleware output not recorded, got %v", v)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if !opts.EnableOutputChaining {
		t.Error("output chaining should default on")
	}
	if opts.MaxConcurrentWorkflows != 0 {
		t.Error("concurrency should default to unlimited")
	}
	if !opts.ErrorHandling.RethrowExceptions {
		t.Error("rethrow should default on")
	}
	if !opts.Persistence.PersistOnOperationComplete || !opts.Persistence.PersistOnFailure {
		t.Error("persistence checkpoints should default on")
	}
	if opts.Recovery.MaxRetryAttempts != 3 || opts.Recovery.BaseDelay != time.Second {
		t.Error("recovery defaults wrong")
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}
