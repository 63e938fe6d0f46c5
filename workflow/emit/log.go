package emit

import (
	wflog "github.com/workflowforge/workflowforge-go/workflow/log"
)

// LogEmitter implements Emitter by writing each event through the
// engine's structured Logger.
//
// Failures log at error level, everything else at info level. Attach
// one to a foundry's multicast to get a structured trace of a run:
//
//	logger := wflog.NewZerolog(zl)
//	foundry.Events().Attach(emit.NewLogEmitter(logger))
type LogEmitter struct {
	logger wflog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger discards output.
func NewLogEmitter(logger wflog.Logger) *LogEmitter {
	return &LogEmitter{logger: wflog.OrNull(logger)}
}

// Emit writes the event as one structured log line.
func (l *LogEmitter) Emit(event Event) {
	fields := []any{
		wflog.FieldExecutionID, event.ExecutionID.String(),
		wflog.FieldExecutionName, event.WorkflowName,
	}
	if event.OperationName != "" {
		fields = append(fields,
			"OperationName", event.OperationName,
			wflog.FieldOperationStepIndex, event.OperationIndex,
		)
	}
	if event.Duration > 0 {
		fields = append(fields, "DurationMs", event.Duration.Milliseconds())
	}

	switch event.Type {
	case WorkflowFailed, OperationFailed, OperationRestoreFailed:
		fields = append(fields, "Error", event.Err)
		l.logger.Error(string(event.Type), fields...)
	case CompensationTriggered:
		fields = append(fields, "Reason", event.Reason, "Error", event.Err)
		l.logger.Warn(string(event.Type), fields...)
	case CompensationCompleted:
		fields = append(fields,
			wflog.FieldCompensationSuccessCount, event.SuccessCount,
			wflog.FieldCompensationFailureCount, event.FailureCount,
		)
		l.logger.Info(string(event.Type), fields...)
	default:
		l.logger.Info(string(event.Type), fields...)
	}
}
