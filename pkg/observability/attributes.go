package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// appdev semantic convention attributes.
var (
	AttrAppID            = attribute.Key("appdev.app.id")
	AttrAppName          = attribute.Key("appdev.app.name")
	AttrExtensionHandle  = attribute.Key("appdev.extension.handle")
	AttrExtensionType    = attribute.Key("appdev.extension.type")
	AttrExtensionCount   = attribute.Key("appdev.extension.count")
	AttrDraftSkipped     = attribute.Key("appdev.draft.skipped")
	AttrOperation        = attribute.Key("appdev.operation")
	AttrOutcome          = attribute.Key("appdev.outcome")
)

// Extension returns the attributes identifying one extension.
func Extension(handle, typ string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrExtensionHandle.String(handle),
		AttrExtensionType.String(typ),
	}
}

// App returns the attributes identifying an app and its extension count.
func App(id, name string, extensions int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAppID.String(id),
		AttrAppName.String(name),
		AttrExtensionCount.Int(extensions),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
