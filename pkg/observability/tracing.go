// Package observability provides OpenTelemetry tracing for the connector.
// Spans are exported to stderr so they never mix with protocol output.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span wraps a tracing span and batches its attributes
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// NewSpan starts a span on the installed tracer
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := GetTracer().Start(ctx, operationName)

	return ctx, &Span{
		span:      span,
		startTime: time.Now(),
	}
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetStatus sets the span status
func (s *Span) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

// Fail records err on the span and marks it failed
func (s *Span) Fail(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End flushes the attributes and ends the span
func (s *Span) End() {
	s.attributes = append(s.attributes, attribute.Int64("duration_ms", time.Since(s.startTime).Milliseconds()))
	s.span.SetAttributes(s.attributes...)
	s.span.End()
}

// ConnectorTracer names spans after the connector and the protocol verb
type ConnectorTracer struct {
	connectorName string
	command       string
}

// NewConnectorTracer creates a tracer for one invocation
func NewConnectorTracer(connectorName, command string) *ConnectorTracer {
	return &ConnectorTracer{
		connectorName: connectorName,
		command:       command,
	}
}

// StartSpan starts a connector-specific span
func (ct *ConnectorTracer) StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	operationName := fmt.Sprintf("%s.%s.%s", ct.connectorName, ct.command, operation)
	ctx, span := NewSpan(ctx, operationName)

	span.SetAttribute("connector.name", ct.connectorName)
	span.SetAttribute("connector.command", ct.command)
	span.SetAttribute("connector.operation", operation)

	return ctx, span
}

// Trace runs fn inside a span and records its outcome
func (ct *ConnectorTracer) Trace(ctx context.Context, operation string, attrs map[string]interface{}, fn func(ctx context.Context) error) error {
	ctx, span := ct.StartSpan(ctx, operation)
	defer span.End()

	for k, v := range attrs {
		span.SetAttribute(k, v)
	}

	err := fn(ctx)
	if err != nil {
		span.Fail(err)
		span.SetAttribute("error", true)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttribute("status", getStatus(err))

	return err
}

// TraceSlice traces the fetch of one report slice
func (ct *ConnectorTracer) TraceSlice(ctx context.Context, stream, start, end string, fn func(ctx context.Context) (int, error)) error {
	ctx, span := ct.StartSpan(ctx, "slice")
	defer span.End()

	span.SetAttribute("stream", stream)
	span.SetAttribute("slice.start", start)
	span.SetAttribute("slice.end", end)

	records, err := fn(ctx)
	span.SetAttribute("slice.records", records)
	if err != nil {
		span.Fail(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// getStatus returns status string for span attributes
func getStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
