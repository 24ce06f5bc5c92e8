package tracing

import (
    "context"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    "go.opentelemetry.io/otel/attribute"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

var enabled bool

// Setup configures a global tracer provider when enable=true.
// It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled = enable
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// StartSpan starts a tracing span if tracing is enabled. attrs are
// key/value string pairs attached to the span.
func StartSpan(ctx context.Context, name string, attrs ...string) (context.Context, func()) {
    if !enabled {
        return ctx, func() {}
    }
    var opts []trace.SpanStartOption
    if len(attrs) > 1 {
        kv := make([]attribute.KeyValue, 0, len(attrs)/2)
        for i := 0; i+1 < len(attrs); i += 2 { kv = append(kv, attribute.String(attrs[i], attrs[i+1])) }
        opts = append(opts, trace.WithAttributes(kv...))
    }
    ctx, span := otel.Tracer("go-topics").Start(ctx, name, opts...)
    return ctx, func() { span.End() }
}
