package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey         = "trace_id"
	RequestIDKey       = "request_id"
	BusMessageIDKey    = "bus_message_id"
	ClientMessageIDKey = "client_message_id"
	ServiceNameKey     = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey(RequestIDKey), requestID)
}

// WithBusMessageID tags ctx with the id the bus assigned to the message being handled.
func WithBusMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey(BusMessageIDKey), id)
}

func WithClientMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey(ClientMessageIDKey), id)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func stringValue(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the non-empty context values as zap key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	for _, key := range []string{TraceIDKey, RequestIDKey, BusMessageIDKey, ClientMessageIDKey, ServiceNameKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
