package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hallcall/hallcall-api"

// DBSpan runs fn inside a client span describing a MongoDB operation. fn
// reports how many documents it touched.
func DBSpan(ctx context.Context, collection, operation string, fn func(ctx context.Context) (int64, error)) error {
	tracer := otel.Tracer(instrumentationName)

	ctx, span := tracer.Start(ctx, fmt.Sprintf("mongo.%s %s", operation, collection),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMongoDB,
			semconv.DBOperationKey.String(operation),
			semconv.DBMongoDBCollectionKey.String(collection),
		),
	)
	defer span.End()

	count, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if count > 0 {
		span.SetAttributes(attribute.Int64("db.result.count", count))
	}
	return nil
}

// VendorSpan wraps an outbound vendor HTTP call.
func VendorSpan(ctx context.Context, vendor, method, path string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, vendor+" "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("vendor", vendor),
			semconv.HTTPMethodKey.String(method),
		),
	)
}
