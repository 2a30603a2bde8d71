package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "appdev", config.ServiceName)
	require.Equal(t, Version, config.ServiceVersion)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
	require.True(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Enabled())
	require.NotNil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
}

func TestTrackOperationRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p := Disabled()

	_, done := p.TrackOperation(context.Background(), "devsession.build", Extension("banner", "ui_extension")...)
	done(nil)
	_, done = p.TrackOperation(context.Background(), "devsession.push", Extension("discount", "function")...)
	done(errors.New("push failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "devsession.build", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), AttrExtensionHandle.String("banner"))

	assert.Equal(t, "devsession.push", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "push failed", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
}

func TestTrackOperationRecordsDuration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	p := Disabled()
	_, done := p.TrackOperation(context.Background(), "devsession.rebuild")
	done(nil)
	_, done = p.TrackOperation(context.Background(), "devsession.rebuild")
	done(errors.New("build failed"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "appdev.operation.duration", m.Name)

	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	outcomes := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value(AttrOutcome)
		outcomes[v.AsString()] += dp.Count
	}
	assert.Equal(t, map[string]uint64{"ok": 1, "error": 1}, outcomes)
}

func TestAttributeHelpers(t *testing.T) {
	attrs := App("gid://app/1", "shop", 3)
	require.Len(t, attrs, 3)
	assert.Equal(t, "appdev.app.id", string(attrs[0].Key))
	assert.Equal(t, int64(3), attrs[2].Value.AsInt64())

	ext := Extension("banner", "ui_extension")
	assert.Equal(t, "appdev.extension.type", string(ext[1].Key))
	assert.Equal(t, "ui_extension", ext[1].Value.AsString())
}
