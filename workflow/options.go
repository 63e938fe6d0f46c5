package workflow

import (
	"time"
)

// Log levels recognized by Logging.MinimumLevel.
const (
	LevelTrace       = "Trace"
	LevelDebug       = "Debug"
	LevelInformation = "Information"
	LevelWarning     = "Warning"
	LevelError       = "Error"
	LevelCritical    = "Critical"
)

// Audit detail levels recognized by Audit.DetailLevel.
const (
	AuditMinimal  = "Minimal"
	AuditStandard = "Standard"
	AuditVerbose  = "Verbose"
	AuditComplete = "Complete"
)

// Options configures the smith and the standard middleware.
//
// Options are plain records: construct with DefaultOptions, adjust
// fields, and pass to NewSmith, which validates the whole record and
// reports every invalid field at once.
type Options struct {
	// MaxConcurrentWorkflows bounds concurrently running workflows
	// across this smith. 0 means unlimited; negative is a
	// configuration error.
	MaxConcurrentWorkflows int

	// ContinueOnError makes a failing operation log-and-proceed
	// instead of triggering compensation. Default false.
	ContinueOnError bool

	// FailFastCompensation aborts the compensation walk at the first
	// restore failure. Default false: the walk continues and counts.
	FailFastCompensation bool

	// ThrowOnCompensationError surfaces an aggregated
	// CompensationError after the walk when any restore failed.
	// Default false: restore failures are logged only.
	ThrowOnCompensationError bool

	// EnableOutputChaining forwards each operation's output as the
	// next operation's input. Default true. When false, operations
	// receive nil input.
	EnableOutputChaining bool

	// WorkflowTimeout bounds one whole run. 0 disables. On expiry the
	// run is cancelled and Workflow.TimedOut / Workflow.TimeoutDuration
	// are recorded.
	WorkflowTimeout time.Duration

	// OperationTimeout bounds each individual operation (middleware
	// chain included). 0 disables. On expiry the operation fails with
	// OPERATION_TIMEOUT and Operation.TimedOut /
	// Operation.TimeoutDuration are recorded; compensation runs as for
	// any operation failure.
	OperationTimeout time.Duration

	Timing        TimingOptions
	Logging       LoggingOptions
	ErrorHandling ErrorHandlingOptions
	Persistence   PersistenceOptions
	Recovery      RecoveryOptions
	Audit         AuditOptions
	Validation    ValidationOptions
}

// TimingOptions configures the timing middleware.
type TimingOptions struct {
	Enabled bool

	// IncludeDetailedTimings additionally records per-operation start
	// and end times, not just the duration.
	IncludeDetailedTimings bool
}

// LoggingOptions configures the logging middleware.
type LoggingOptions struct {
	Enabled bool

	// MinimumLevel is the lowest level the middleware logs at. One of
	// Trace, Debug, Information, Warning, Error, Critical.
	MinimumLevel string

	// LogDataPayloads includes operation inputs/outputs in log output.
	// Off by default: payloads may carry sensitive data.
	LogDataPayloads bool
}

// ErrorHandlingOptions configures the error-handling middleware.
type ErrorHandlingOptions struct {
	Enabled bool

	// RethrowExceptions re-raises after recording Error.* properties.
	// When false the middleware swallows the failure (the operation
	// appears successful with nil output).
	RethrowExceptions bool

	// IncludeStackTraces captures a goroutine stack into
	// Error.StackTrace.
	IncludeStackTraces bool
}

// PersistenceOptions configures durable checkpointing.
type PersistenceOptions struct {
	Enabled bool

	// PersistOnOperationComplete checkpoints after each successful
	// operation. Default true.
	PersistOnOperationComplete bool

	// PersistOnWorkflowComplete writes a final snapshot just before
	// deletion. Default true.
	PersistOnWorkflowComplete bool

	// PersistOnFailure checkpoints the failing index so recovery
	// re-runs it. Default true.
	PersistOnFailure bool

	// MaxVersions bounds retained snapshot history per execution.
	// 0 = unlimited.
	MaxVersions int

	// InstanceId and WorkflowKey, when both non-empty, derive
	// deterministic 128-bit keys stable across process restarts,
	// replacing the transient execution/workflow ids.
	InstanceID  string
	WorkflowKey string
}

// RecoveryOptions configures the recovery coordinator.
type RecoveryOptions struct {
	Enabled bool

	// MaxRetryAttempts per resume, in [1, 100].
	MaxRetryAttempts int

	// BaseDelay between attempts, in [0, 10m].
	BaseDelay time.Duration

	// UseExponentialBackoff doubles the delay each attempt.
	UseExponentialBackoff bool

	// AttemptResume enables automatic resume of pending executions at
	// startup.
	AttemptResume bool

	// LogRecoveryAttempts logs each attempt.
	LogRecoveryAttempts bool
}

// AuditOptions configures the audit middleware.
type AuditOptions struct {
	Enabled bool

	// DetailLevel is one of Minimal, Standard, Verbose, Complete.
	DetailLevel string

	// LogDataPayloads includes payload metadata in audit entries.
	LogDataPayloads bool

	// IncludeTimestamps stamps entries with wall-clock time.
	IncludeTimestamps bool

	// IncludeUserContext records the initiator on each entry.
	IncludeUserContext bool
}

// ValidationOptions configures the validation middleware.
//
// The combination IgnoreValidationFailures=true with
// ThrowOnValidationError=true is rejected by Validate.
type ValidationOptions struct {
	Enabled bool

	// IgnoreValidationFailures logs failures and lets the operation
	// run anyway.
	IgnoreValidationFailures bool

	// ThrowOnValidationError short-circuits the operation with a
	// ValidationError.
	ThrowOnValidationError bool

	// LogValidationErrors logs each finding.
	LogValidationErrors bool

	// StoreValidationResults records Validation.Status and
	// Validation.Errors properties.
	StoreValidationResults bool
}

// DefaultOptions returns the engine defaults: unlimited concurrency,
// output chaining on, checkpoint-on-everything when persistence is
// enabled, and all middleware options off.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentWorkflows: 0,
		EnableOutputChaining:   true,
		Logging: LoggingOptions{
			MinimumLevel: LevelInformation,
		},
		ErrorHandling: ErrorHandlingOptions{
			RethrowExceptions: true,
		},
		Persistence: PersistenceOptions{
			PersistOnOperationComplete: true,
			PersistOnWorkflowComplete:  true,
			PersistOnFailure:           true,
		},
		Recovery: RecoveryOptions{
			MaxRetryAttempts:    3,
			BaseDelay:           time.Second,
			LogRecoveryAttempts: true,
		},
		Audit: AuditOptions{
			DetailLevel:       AuditStandard,
			IncludeTimestamps: true,
		},
		Validation: ValidationOptions{
			LogValidationErrors:    true,
			StoreValidationResults: true,
		},
	}
}

// Validate checks the whole record and returns a ConfigError naming
// every invalid field, or nil.
func (o Options) Validate() error {
	cfg := &ConfigError{}

	if o.MaxConcurrentWorkflows < 0 {
		cfg.add("MaxConcurrentWorkflows", "must be >= 0 (0 = unlimited)")
	}
	if o.WorkflowTimeout < 0 {
		cfg.add("WorkflowTimeout", "must be >= 0")
	}
	if o.OperationTimeout < 0 {
		cfg.add("OperationTimeout", "must be >= 0")
	}

	switch o.Logging.MinimumLevel {
	case "", LevelTrace, LevelDebug, LevelInformation, LevelWarning, LevelError, LevelCritical:
	default:
		cfg.add("Logging.MinimumLevel", "must be one of Trace, Debug, Information, Warning, Error, Critical")
	}

	if o.Persistence.MaxVersions < 0 {
		cfg.add("Persistence.MaxVersions", "must be >= 0 (0 = unlimited)")
	}

	if o.Recovery.MaxRetryAttempts < 1 || o.Recovery.MaxRetryAttempts > 100 {
		cfg.add("Recovery.MaxRetryAttempts", "must be in [1, 100]")
	}
	if o.Recovery.BaseDelay < 0 || o.Recovery.BaseDelay > 10*time.Minute {
		cfg.add("Recovery.BaseDelay", "must be in [0, 10m]")
	}

	switch o.Audit.DetailLevel {
	case "", AuditMinimal, AuditStandard, AuditVerbose, AuditComplete:
	default:
		cfg.add("Audit.DetailLevel", "must be one of Minimal, Standard, Verbose, Complete")
	}

	if o.Validation.IgnoreValidationFailures && o.Validation.ThrowOnValidationError {
		cfg.add("Validation", "IgnoreValidationFailures and ThrowOnValidationError cannot both be true")
	}

	return cfg.orNil()
}
