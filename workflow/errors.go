// Package workflow provides the WorkflowForge execution runtime:
// workflow definitions, the per-execution foundry, the smith
// coordinator, the middleware pipeline, saga compensation, and
// durable checkpoint/resume.
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFoundryFrozen is returned when a disposed (frozen) foundry is
// mutated or read.
var ErrFoundryFrozen = errors.New("foundry is frozen: disposed or in use by a run")

// Error codes carried by OperationError.
const (
	CodeOperationFailed    = "OPERATION_FAILED"
	CodeOperationCancelled = "OPERATION_CANCELLED"
	CodeOperationTimeout   = "OPERATION_TIMEOUT"
	CodePersistenceFailed  = "PERSISTENCE_FAILED"
)

// OperationError reports the failure of a single operation within a
// workflow run.
type OperationError struct {
	// OperationName is the failing operation's name.
	OperationName string

	// Index is the zero-based position of the operation in the workflow.
	Index int

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// Cause is the underlying error returned by the operation.
	Cause error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s): %s: %v", e.Index, e.OperationName, e.Code, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *OperationError) Unwrap() error { return e.Cause }

// FieldError is one validation finding for a property of the subject.
type FieldError struct {
	PropertyName string `json:"propertyName"`
	ErrorMessage string `json:"errorMessage"`
}

// String renders the finding as "PropertyName: message".
func (fe FieldError) String() string {
	return fe.PropertyName + ": " + fe.ErrorMessage
}

// ValidationError is raised by the validation middleware in throwing
// mode. The operation's forge was not invoked when this error surfaces.
type ValidationError struct {
	// OperationName is the operation that was blocked.
	OperationName string

	// Errors lists the individual validation findings.
	Errors []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.String())
	}
	return fmt.Sprintf("validation failed for operation %s: %s", e.OperationName, strings.Join(msgs, "; "))
}

// CompensationError aggregates restore failures from a compensation
// walk. It is surfaced only when Options.ThrowOnCompensationError is
// set; otherwise the failures are logged and the original operation
// error is returned alone.
type CompensationError struct {
	// SuccessCount and FailureCount summarize the walk.
	SuccessCount int
	FailureCount int

	// Failures holds each restore error in walk (reverse) order.
	Failures []error
}

// Error implements the error interface.
func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation completed with %d failure(s), %d success(es): %v",
		e.FailureCount, e.SuccessCount, errors.Join(e.Failures...))
}

// Unwrap exposes the individual restore failures to errors.Is/As.
func (e *CompensationError) Unwrap() []error { return e.Failures }

// ConfigError reports invalid engine configuration at construction
// time. It carries every invalid field, not just the first.
type ConfigError struct {
	// Fields names each invalid option field.
	Fields []string

	// Problems holds one human-readable description per field.
	Problems []string
}

// Error implements the error interface. The message names every
// invalid field.
func (e *ConfigError) Error() string {
	return "Invalid WorkflowForge options: " + strings.Join(e.Problems, "; ")
}

// add records one invalid field with its description.
func (e *ConfigError) add(field, problem string) {
	e.Fields = append(e.Fields, field)
	e.Problems = append(e.Problems, field+" "+problem)
}

// orNil returns the error, or nil when no fields were invalid.
func (e *ConfigError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
