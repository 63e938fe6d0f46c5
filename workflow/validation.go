package workflow

import (
	"context"

	"github.com/workflowforge/workflowforge-go/workflow/emit"
	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// Validator checks an operation's input before it runs. Findings are
// FieldError values; an empty result means the input is acceptable.
type Validator interface {
	Validate(ctx context.Context, op Operation, foundry Foundry, input any) []FieldError
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, op Operation, foundry Foundry, input any) []FieldError

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, op Operation, foundry Foundry, input any) []FieldError {
	return f(ctx, op, foundry, input)
}

// ValidationMiddleware runs registered validators before each operation.
//
// Outcome on findings depends on the options:
//   - ThrowOnValidationError: short-circuit with a *ValidationError;
//     the operation's forge never runs.
//   - IgnoreValidationFailures: log the findings and run anyway.
//   - neither: block the operation silently; it is skipped with nil
//     output and an OperationSkipped event.
//
// With StoreValidationResults the middleware records Validation.Status
// and, on failure, Validation.Errors into foundry properties.
type ValidationMiddleware struct {
	opts       ValidationOptions
	validators []Validator
}

// NewValidationMiddleware creates the validation middleware over the
// given validators. Nil validators are dropped.
func NewValidationMiddleware(opts ValidationOptions, validators ...Validator) *ValidationMiddleware {
	vs := make([]Validator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			vs = append(vs, v)
		}
	}
	return &ValidationMiddleware{opts: opts, validators: vs}
}

// Execute implements Middleware.
func (v *ValidationMiddleware) Execute(ctx context.Context, op Operation, foundry Foundry, inputData any, next Next) (any, error) {
	if !v.opts.Enabled || len(v.validators) == 0 {
		return next(ctx)
	}

	var findings []FieldError
	for _, validator := range v.validators {
		findings = append(findings, validator.Validate(ctx, op, foundry, inputData)...)
	}

	props := foundry.Properties()
	if len(findings) == 0 {
		if v.opts.StoreValidationResults {
			props.Set(KeyValidationStatus, ValidationStatusSuccess)
		}
		return next(ctx)
	}

	if v.opts.StoreValidationResults {
		props.Set(KeyValidationStatus, ValidationStatusFailed)
		props.Set(KeyValidationErrors, append([]FieldError(nil), findings...))
	}

	if v.opts.LogValidationErrors {
		logger := foundry.Logger()
		for _, fe := range findings {
			logger.Warn("Operation input validation failed",
				wflog.FieldExecutionName, op.Name(),
				"PropertyName", fe.PropertyName,
				"ErrorMessage", fe.ErrorMessage,
			)
		}
	}

	if v.opts.IgnoreValidationFailures {
		return next(ctx)
	}

	if v.opts.ThrowOnValidationError {
		return nil, &ValidationError{OperationName: op.Name(), Errors: findings}
	}

	// Block silently: the operation is skipped, downstream sees nil.
	foundry.Events().Emit(emit.Event{
		Type:           emit.OperationSkipped,
		Timestamp:      foundry.Clock().Now(),
		ExecutionID:    foundry.ExecutionID(),
		OperationName:  op.Name(),
		OperationIndex: props.GetInt(KeyCurrentOperationIndex),
		Reason:         "input validation failed",
	})
	return nil, nil
}
