package ipcotel

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Query-farm/script-ipc/scriptipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type telemetry struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	cfg    OtelConfig
}

func newTelemetry() *telemetry {
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	cfg := DefaultConfig()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &telemetry{spans: spans, reader: reader, cfg: cfg}
}

func (tel *telemetry) requestCount(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tel.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

type echoHandler struct{}

func (echoHandler) Serve(_ context.Context, req string) (string, error) {
	if req == "fail" {
		return "", errors.New("refused")
	}
	return req, nil
}

func (echoHandler) Method(string) string { return "echo" }

func TestInstrumentChannel(t *testing.T) {
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	client := scriptipc.NewChannel(s2cR, c2sW)
	server := scriptipc.NewChannel(c2sR, s2cW)
	server.SetServiceName("Echo")

	serverTel, clientTel := newTelemetry(), newTelemetry()
	InstrumentChannel(server, serverTel.cfg)
	InstrumentChannel(client, clientTel.cfg)

	done := make(chan error, 1)
	go func() {
		done <- scriptipc.Execute[string, string](context.Background(), server, echoHandler{})
	}()

	ctx := context.Background()
	_, err := scriptipc.Call[string, string](ctx, client, "echo", "hi")
	require.NoError(t, err)
	_, err = scriptipc.Call[string, string](ctx, client, "echo", "fail")
	require.Error(t, err)

	require.NoError(t, c2sW.Close())
	require.NoError(t, <-done)

	serverSpans := serverTel.spans.Ended()
	require.Len(t, serverSpans, 2)
	ok, failed := serverSpans[0], serverSpans[1]
	assert.Equal(t, "script_ipc/echo", ok.Name())
	assert.Equal(t, trace.SpanKindServer, ok.SpanKind())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	v, found := attrValue(ok.Attributes(), "rpc.service")
	require.True(t, found)
	assert.Equal(t, "Echo", v.AsString())
	v, found = attrValue(ok.Attributes(), "rpc.script_ipc.codec")
	require.True(t, found)
	assert.Equal(t, "cbor", v.AsString())
	v, found = attrValue(ok.Attributes(), "rpc.script_ipc.request_bytes")
	require.True(t, found)
	assert.Positive(t, v.AsInt64())

	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "refused", failed.Status().Description)
	v, found = attrValue(failed.Attributes(), "rpc.script_ipc.error_code")
	require.True(t, found)
	assert.Equal(t, int64(scriptipc.CodeHandlerError), v.AsInt64())
	require.Len(t, failed.Events(), 1)

	clientSpans := clientTel.spans.Ended()
	require.Len(t, clientSpans, 2)
	assert.Equal(t, trace.SpanKindClient, clientSpans[0].SpanKind())
	v, found = attrValue(clientSpans[1].Attributes(), "rpc.script_ipc.error_type")
	require.True(t, found)
	assert.Equal(t, "HandlerError", v.AsString())

	assert.Equal(t, int64(2), serverTel.requestCount(t, "rpc.server.requests"))
	assert.Equal(t, int64(2), clientTel.requestCount(t, "rpc.client.requests"))
	assert.Equal(t, int64(0), clientTel.requestCount(t, "rpc.server.requests"))
}

func TestTracingDisabled(t *testing.T) {
	tel := newTelemetry()
	tel.cfg.EnableTracing = false
	hook := NewHook(tel.cfg)

	info := scriptipc.DispatchInfo{Method: "m", Role: scriptipc.RoleServer}
	ctx, token := hook.OnDispatchStart(context.Background(), info)
	hook.OnDispatchEnd(ctx, token, info, &scriptipc.CallStatistics{}, nil)

	assert.Empty(t, tel.spans.Ended())
	assert.Equal(t, int64(1), tel.requestCount(t, "rpc.server.requests"))
}

func TestServiceNameFallback(t *testing.T) {
	h := &otelHook{}
	assert.Equal(t, "ScriptIpcService", h.serviceName(scriptipc.DispatchInfo{}))
	assert.Equal(t, "World", h.serviceName(scriptipc.DispatchInfo{ServiceName: "World"}))
	h.cfg.ServiceName = "Override"
	assert.Equal(t, "Override", h.serviceName(scriptipc.DispatchInfo{ServiceName: "World"}))
}
