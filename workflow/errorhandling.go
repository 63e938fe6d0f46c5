package workflow

import (
	"context"
	"fmt"
	"runtime/debug"

	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// ErrorHandlingMiddleware records failure details into the Error.*
// properties and optionally swallows the failure.
//
// With RethrowExceptions (the default) the error continues up the
// chain so the smith can trigger compensation; without it the failing
// operation appears successful with nil output; use only for flows
// where downstream operations tolerate missing inputs.
type ErrorHandlingMiddleware struct {
	opts ErrorHandlingOptions
}

// NewErrorHandlingMiddleware creates the error-handling middleware.
func NewErrorHandlingMiddleware(opts ErrorHandlingOptions) *ErrorHandlingMiddleware {
	return &ErrorHandlingMiddleware{opts: opts}
}

// Execute implements Middleware.
func (e *ErrorHandlingMiddleware) Execute(ctx context.Context, op Operation, foundry Foundry, inputData any, next Next) (any, error) {
	if !e.opts.Enabled {
		return next(ctx)
	}

	output, err := next(ctx)
	if err == nil {
		return output, nil
	}

	props := foundry.Properties()
	props.Set(KeyErrorMessage, err.Error())
	props.Set(KeyErrorType, fmt.Sprintf("%T", err))
	props.Set(KeyErrorException, err)
	props.Set(KeyErrorTimestamp, foundry.Clock().Now())
	if e.opts.IncludeStackTraces {
		props.Set(KeyErrorStackTrace, string(debug.Stack()))
	}

	if e.opts.RethrowExceptions {
		return nil, err
	}

	foundry.Logger().Warn("Operation execution failed",
		wflog.FieldExecutionName, op.Name(),
		"Error", err,
		"Swallowed", true,
	)
	return nil, nil
}
