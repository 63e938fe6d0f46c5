package workflow

import (
	"context"
	"fmt"
)

// TimingMiddleware records wall-clock duration of each operation into
// foundry properties:
//
//	Timing.StartTime, Timing.EndTime, Timing.Duration (ms),
//	Timing.DurationTicks (100ns units)
//
// On failure it additionally sets Timing.Failed = true, then re-raises.
// With IncludeDetailedTimings the duration is also stored under a
// per-operation key so later operations do not overwrite it.
type TimingMiddleware struct {
	opts TimingOptions
}

// NewTimingMiddleware creates the timing middleware.
func NewTimingMiddleware(opts TimingOptions) *TimingMiddleware {
	return &TimingMiddleware{opts: opts}
}

// Execute implements Middleware.
func (t *TimingMiddleware) Execute(ctx context.Context, op Operation, foundry Foundry, inputData any, next Next) (any, error) {
	if !t.opts.Enabled {
		return next(ctx)
	}

	clock := foundry.Clock()
	props := foundry.Properties()

	start := clock.Now()
	props.Set(KeyTimingStartTime, start)

	output, err := next(ctx)

	end := clock.Now()
	elapsed := end.Sub(start)

	props.Set(KeyTimingEndTime, end)
	props.Set(KeyTimingDuration, elapsed.Milliseconds())
	props.Set(KeyTimingDurationTicks, elapsed.Nanoseconds()/100)

	if t.opts.IncludeDetailedTimings {
		index := props.GetInt(KeyCurrentOperationIndex)
		props.Set(fmt.Sprintf("Timing.%d:%s.Duration", index, op.Name()), elapsed.Milliseconds())
	}

	if err != nil {
		props.Set(KeyTimingFailed, true)
		return nil, err
	}
	return output, nil
}
