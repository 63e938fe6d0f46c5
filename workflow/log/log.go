// Package log defines the structured logging contract consumed by the
// workflow engine.
//
// The engine never logs through a concrete sink directly. Every component
// takes a Logger, which keeps logging backends pluggable:
//   - NullLogger for tests and silent deployments
//   - NewZerolog for zerolog-backed structured output
//   - Any caller-supplied adapter (zap, slog, logr, ...)
package log

import (
	"github.com/rs/zerolog"
)

// Field names used across the engine's structured log output.
//
// Adapters should pass these through unchanged so downstream queries
// (dashboards, alerts) work regardless of the configured backend.
const (
	FieldExecutionID              = "ExecutionId"
	FieldExecutionName            = "ExecutionName"
	FieldExecutionType            = "ExecutionType"
	FieldFoundryExecutionID       = "FoundryExecutionId"
	FieldTotalOperationCount      = "TotalOperationCount"
	FieldParentWorkflowExecution  = "ParentWorkflowExecutionId"
	FieldOperationStepIndex       = "OperationStepIndex"
	FieldExceptionType            = "ExceptionType"
	FieldErrorCode                = "ErrorCode"
	FieldErrorCategory            = "ErrorCategory"
	FieldCompensationCount        = "CompensationOperationCount"
	FieldCompensationSuccessCount = "CompensationSuccessCount"
	FieldCompensationFailureCount = "CompensationFailureCount"
	FieldForEachItemIndex         = "ForEachItemIndex"
	FieldForEachCollectionSize    = "ForEachCollectionSize"
	FieldForEachMaxConcurrency    = "ForEachMaxConcurrency"
)

// Logger is the structured logging contract.
//
// Fields are alternating key-value pairs ("key1", v1, "key2", v2, ...).
// Keys must be strings; values may be any loggable type. A trailing key
// without a value is dropped by adapters.
//
// Implementations must be safe for concurrent use.
type Logger interface {
	// Debug logs fine-grained diagnostic detail.
	Debug(msg string, fields ...any)

	// Info logs normal lifecycle progress.
	Info(msg string, fields ...any)

	// Warn logs recoverable anomalies (swallowed audit failures,
	// persistence errors that did not abort the run).
	Warn(msg string, fields ...any)

	// Error logs failures surfaced to the caller.
	Error(msg string, fields ...any)
}

// NullLogger discards all log output.
//
// It is the default when a component is constructed with a nil Logger,
// and the usual choice in unit tests.
type NullLogger struct{}

// NewNullLogger returns a Logger that discards everything.
func NewNullLogger() *NullLogger { return &NullLogger{} }

// Debug discards the message.
func (*NullLogger) Debug(string, ...any) {}

// Info discards the message.
func (*NullLogger) Info(string, ...any) {}

// Warn discards the message.
func (*NullLogger) Warn(string, ...any) {}

// Error discards the message.
func (*NullLogger) Error(string, ...any) {}

// OrNull returns l, or a NullLogger when l is nil.
//
// Components call this once at construction so they never have to
// nil-check their logger on the hot path.
func OrNull(l Logger) Logger {
	if l == nil {
		return NewNullLogger()
	}
	return l
}

// ZerologLogger adapts a zerolog.Logger to the engine's Logger contract.
//
// Example:
//
//	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	logger := log.NewZerolog(zl)
//	smith, err := workflow.NewSmith(logger, nil, workflow.DefaultOptions())
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerolog wraps a zerolog.Logger.
func NewZerolog(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

// Debug logs at zerolog's debug level.
func (z *ZerologLogger) Debug(msg string, fields ...any) {
	applyFields(z.zl.Debug(), fields).Msg(msg)
}

// Info logs at zerolog's info level.
func (z *ZerologLogger) Info(msg string, fields ...any) {
	applyFields(z.zl.Info(), fields).Msg(msg)
}

// Warn logs at zerolog's warn level.
func (z *ZerologLogger) Warn(msg string, fields ...any) {
	applyFields(z.zl.Warn(), fields).Msg(msg)
}

// Error logs at zerolog's error level.
func (z *ZerologLogger) Error(msg string, fields ...any) {
	applyFields(z.zl.Error(), fields).Msg(msg)
}

// applyFields folds alternating key-value pairs into the zerolog event.
// Non-string keys and trailing keys without values are dropped.
func applyFields(ev *zerolog.Event, fields []any) *zerolog.Event {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	return ev
}
