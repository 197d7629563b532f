package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrierSetReplacesExisting(t *testing.T) {
	c := KafkaHeaderCarrier{{Key: "traceparent", Value: []byte("old")}}
	c.Set("traceparent", "new")
	c.Set("baggage", "promotion_id=1")

	if got := c.Get("traceparent"); got != "new" {
		t.Fatalf("traceparent = %q, want new", got)
	}
	if len(c.Keys()) != 2 {
		t.Fatalf("keys = %v, want 2 entries", c.Keys())
	}
	if c.Get("missing") != "" {
		t.Fatal("expected empty value for missing key")
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "produce")
	defer span.End()

	var headers []kafka.Header
	InjectTraceContext(ctx, &headers)
	if len(headers) == 0 {
		t.Fatal("expected trace headers to be injected")
	}

	extracted := ExtractTraceContext(context.Background(), headers)
	got := trace.SpanContextFromContext(extracted)
	if got.TraceID() != span.SpanContext().TraceID() {
		t.Fatalf("trace id = %s, want %s", got.TraceID(), span.SpanContext().TraceID())
	}
}

func TestDLTTopic(t *testing.T) {
	if DLTTopic("deal-notifications") != "deal-notifications.DLT" {
		t.Fatal("unexpected dead letter topic name")
	}
}
