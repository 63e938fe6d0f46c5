package workflow

import (
	"context"
)

// Next invokes the rest of the middleware chain and ultimately the
// operation's forge. Middleware may call it zero or one times; not
// calling it short-circuits the operation.
type Next func(ctx context.Context) (any, error)

// Middleware wraps one operation invocation.
//
// The smith composes the registered middleware into a chain
// terminating in the operation's own Forge. The first-registered
// middleware wraps outermost: for a chain [A, B, C] the observed
// nesting is A.before, B.before, C.before, forge, C.after, B.after,
// A.after.
//
// Contract:
//   - Propagate ctx into next and honor its cancellation.
//   - Re-raise errors after cleanup; only the smith converts failure
//     into compensation.
//   - Prefer statelessness; one middleware value may serve concurrent
//     runs.
type Middleware interface {
	// Execute wraps the invocation of op with inputData as its input.
	Execute(ctx context.Context, op Operation, foundry Foundry, inputData any, next Next) (any, error)
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(ctx context.Context, op Operation, foundry Foundry, inputData any, next Next) (any, error)

// Execute implements Middleware.
func (f MiddlewareFunc) Execute(ctx context.Context, op Operation, foundry Foundry, inputData any, next Next) (any, error) {
	return f(ctx, op, foundry, inputData, next)
}

// buildChain composes middlewares around the terminal forge call.
// middlewares[0] ends up outermost. The chain is rebuilt per
// invocation, so middleware values themselves stay reentrant.
func buildChain(middlewares []Middleware, op Operation, foundry Foundry, input any, terminal Next) Next {
	next := terminal
	for i := len(middlewares) - 1; i >= 0; i-- {
		mw := middlewares[i]
		inner := next
		next = func(ctx context.Context) (any, error) {
			return mw.Execute(ctx, op, foundry, input, inner)
		}
	}
	return next
}
