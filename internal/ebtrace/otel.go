// Package ebtrace wraps the OpenTelemetry tracing API,
// so that the rest of the module only references this package.
package ebtrace

import (
	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// InstrumentationName is the tracer name used by the broker.
const InstrumentationName = "github.com/gordian-engine/eventbroker"

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// WithAttributes is an alias to [oteltrace.WithAttributes]
// to allow consumers to only reference the ebtrace package.
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// SpanError sets the given span to error status,
// with detail from err.Error().
func SpanError(span Span, err error) {
	span.SetStatus(otelcodes.Error, err.Error())
}

func TopicAttr(topic string) KeyValueAttr {
	return otelattr.String("eventbroker.topic", topic)
}

func TargetsAttr(n int) KeyValueAttr {
	return otelattr.Int("eventbroker.publish.targets", n)
}

func ImmediateAttr(n int) KeyValueAttr {
	return otelattr.Int("eventbroker.publish.immediate", n)
}
