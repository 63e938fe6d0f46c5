package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a short-lived span:
//   - Span name: the event type (e.g. "OperationCompleted")
//   - Attributes: execution id, workflow name, operation name/index,
//     duration, compensation counters, and all Meta fields
//   - Status: error when the event carries a failure
//
// Events represent points in time, so spans are ended immediately;
// wall-clock durations travel as attributes rather than span length.
//
// Usage:
//
//	tracer := otel.Tracer("workflowforge")
//	emitter := emit.NewOTelEmitter(tracer)
//	foundry.Events().Attach(emitter)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter from an OpenTelemetry tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and ends one span for the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Type))
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetaAttributes(span, event.Meta)

	if event.Err != nil {
		span.SetStatus(codes.Error, event.Err.Error())
		span.RecordError(event.Err)
	}
}

// Flush forces export of all pending spans.
//
// Call before shutdown so buffered spans reach the backend. Providers
// that do not support flushing (e.g. the noop provider) return nil.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// addStandardAttributes adds core event fields as span attributes.
func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("workflowforge.execution_id", event.ExecutionID.String()),
		attribute.String("workflowforge.workflow_name", event.WorkflowName),
	)
	if event.OperationName != "" {
		span.SetAttributes(
			attribute.String("workflowforge.operation_name", event.OperationName),
			attribute.Int("workflowforge.operation_index", event.OperationIndex),
		)
	}
	if event.Duration > 0 {
		span.SetAttributes(attribute.Int64("workflowforge.duration_ms", event.Duration.Milliseconds()))
	}
	if event.Type == CompensationCompleted {
		span.SetAttributes(
			attribute.Int("workflowforge.compensation_success_count", event.SuccessCount),
			attribute.Int("workflowforge.compensation_failure_count", event.FailureCount),
		)
	}
	if event.Reason != "" {
		span.SetAttributes(attribute.String("workflowforge.reason", event.Reason))
	}
}

// addMetaAttributes converts event metadata to span attributes.
//
// Handles common types directly; time.Duration becomes milliseconds;
// everything else falls back to its string representation.
func (o *OTelEmitter) addMetaAttributes(span trace.Span, meta map[string]any) {
	for key, value := range meta {
		attrKey := "workflowforge." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
