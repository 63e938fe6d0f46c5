package workflow

import (
	"context"

	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// LoggingMiddleware logs the lifecycle of each operation invocation
// through the foundry's logger, honoring the configured minimum level.
//
// Messages use the engine's fixed templates so log queries stay stable:
// "Operation execution started|completed|failed".
type LoggingMiddleware struct {
	opts LoggingOptions
}

// NewLoggingMiddleware creates the logging middleware.
func NewLoggingMiddleware(opts LoggingOptions) *LoggingMiddleware {
	if opts.MinimumLevel == "" {
		opts.MinimumLevel = LevelInformation
	}
	return &LoggingMiddleware{opts: opts}
}

// levelRank orders the configurable minimum levels.
var levelRank = map[string]int{
	LevelTrace:       0,
	LevelDebug:       1,
	LevelInformation: 2,
	LevelWarning:     3,
	LevelError:       4,
	LevelCritical:    5,
}

func (l *LoggingMiddleware) allows(level string) bool {
	return levelRank[level] >= levelRank[l.opts.MinimumLevel]
}

// Execute implements Middleware.
func (l *LoggingMiddleware) Execute(ctx context.Context, op Operation, foundry Foundry, inputData any, next Next) (any, error) {
	if !l.opts.Enabled {
		return next(ctx)
	}

	logger := foundry.Logger()
	props := foundry.Properties()
	index := props.GetInt(KeyCurrentOperationIndex)

	fields := []any{
		wflog.FieldExecutionID, foundry.ExecutionID().String(),
		wflog.FieldExecutionName, op.Name(),
		wflog.FieldOperationStepIndex, index,
	}
	if l.opts.LogDataPayloads {
		fields = append(fields, "Input", inputData)
	}

	if l.allows(LevelInformation) {
		logger.Info("Operation execution started", fields...)
	}

	start := foundry.Clock().Now()
	output, err := next(ctx)
	elapsed := foundry.Clock().Since(start)

	fields = append(fields, "DurationMs", elapsed.Milliseconds())

	if err != nil {
		if l.allows(LevelError) {
			logger.Error("Operation execution failed", append(fields, "Error", err)...)
		}
		return nil, err
	}

	if l.opts.LogDataPayloads {
		fields = append(fields, "Output", output)
	}
	if l.allows(LevelInformation) {
		logger.Info("Operation execution completed", fields...)
	}
	return output, nil
}
