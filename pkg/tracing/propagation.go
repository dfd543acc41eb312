package tracing

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	TraceParentHeader = "traceparent"
	TraceStateHeader  = "tracestate"
	BaggageHeader     = "baggage"
)

// IsTraceHeader reports whether key is used for context propagation rather
// than being a message attribute.
func IsTraceHeader(key string) bool {
	return key == TraceParentHeader || key == TraceStateHeader || key == BaggageHeader
}

// InjectMap returns the propagation headers for ctx.
func InjectMap(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier
}

func InjectKafkaHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	for k, v := range InjectMap(ctx) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// StartConsumerSpan continues the trace carried by a received message.
func StartConsumerSpan(ctx context.Context, operationName string, carrier map[string]string) (context.Context, trace.Span) {
	if len(carrier) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))
	}
	return tracer().Start(ctx, operationName, trace.WithSpanKind(trace.SpanKindConsumer))
}
