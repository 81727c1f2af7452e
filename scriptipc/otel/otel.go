// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package ipcotel provides OpenTelemetry instrumentation for script-ipc
// channels. It implements the [scriptipc.DispatchHook] interface to add
// tracing and metrics to calls and served requests.
//
// Usage:
//
//	ch := scriptipc.NewChannel(r, w)
//	ipcotel.InstrumentChannel(ch, ipcotel.DefaultConfig())
package ipcotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/script-ipc/scriptipc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "script_ipc"
	rpcSystem           = "script_ipc"
)

// OtelConfig configures OpenTelemetry instrumentation for a channel.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed dispatches.
	// Default true.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. Defaults to the
	// service name in DispatchInfo, then "ScriptIpcService".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with tracing, metrics and exception
// recording enabled. Providers are resolved from the global OTel SDK at
// instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// NewHook builds a dispatch hook from cfg.
func NewHook(cfg OtelConfig) scriptipc.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		for _, role := range []string{scriptipc.RoleServer, scriptipc.RoleClient} {
			counter, _ := meter.Int64Counter(fmt.Sprintf("rpc.%s.requests", role),
				metric.WithUnit("{request}"),
				metric.WithDescription("Number of RPC requests"),
			)
			histogram, _ := meter.Float64Histogram(fmt.Sprintf("rpc.%s.duration", role),
				metric.WithUnit("s"),
				metric.WithDescription("Duration of RPC requests"),
			)
			hook.instruments[roleIndex(role)] = instruments{counter: counter, duration: histogram}
		}
	}
	return hook
}

// InstrumentChannel attaches OpenTelemetry instrumentation to ch via
// [scriptipc.Channel.SetDispatchHook].
func InstrumentChannel(ch *scriptipc.Channel, cfg OtelConfig) {
	ch.SetDispatchHook(NewHook(cfg))
}

func roleIndex(role string) int {
	if role == scriptipc.RoleClient {
		return 1
	}
	return 0
}

type instruments struct {
	counter  metric.Int64Counter
	duration metric.Float64Histogram
}

// otelHook implements scriptipc.DispatchHook with tracing and metrics.
type otelHook struct {
	cfg         OtelConfig
	tracer      trace.Tracer
	instruments [2]instruments
}

// spanToken is the HookToken returned by OnDispatchStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

func (h *otelHook) serviceName(info scriptipc.DispatchInfo) string {
	switch {
	case h.cfg.ServiceName != "":
		return h.cfg.ServiceName
	case info.ServiceName != "":
		return info.ServiceName
	default:
		return "ScriptIpcService"
	}
}

func methodLabel(info scriptipc.DispatchInfo) string {
	if info.Method == "" {
		return "unknown"
	}
	return info.Method
}

// OnDispatchStart starts a client or server span for the call.
func (h *otelHook) OnDispatchStart(ctx context.Context, info scriptipc.DispatchInfo) (context.Context, scriptipc.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	kind := trace.SpanKindServer
	if info.Role == scriptipc.RoleClient {
		kind = trace.SpanKindClient
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", rpcSystem),
		attribute.String("rpc.service", h.serviceName(info)),
		attribute.String("rpc.method", methodLabel(info)),
		attribute.String("rpc.script_ipc.codec", info.Codec),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("%s/%s", rpcSystem, methodLabel(info)),
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and span attributes, then ends the span.
func (h *otelHook) OnDispatchEnd(ctx context.Context, token scriptipc.HookToken, info scriptipc.DispatchInfo, stats *scriptipc.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		inst := h.instruments[roleIndex(info.Role)]
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", rpcSystem),
			attribute.String("rpc.service", h.serviceName(info)),
			attribute.String("rpc.method", methodLabel(info)),
			attribute.String("status", status),
		)
		if inst.counter != nil {
			inst.counter.Add(ctx, 1, metricAttrs)
		}
		if inst.duration != nil {
			inst.duration.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("rpc.script_ipc.request_bytes", stats.RequestBytes),
			attribute.Int64("rpc.script_ipc.response_bytes", stats.ResponseBytes),
			attribute.Int64("rpc.script_ipc.error_code", int64(stats.ErrorCode)),
		)
	}

	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		errType := fmt.Sprintf("%T", err)
		var perr *scriptipc.ProtocolError
		if errors.As(err, &perr) {
			errType = perr.Code.String()
		}
		st.span.SetAttributes(attribute.String("rpc.script_ipc.error_type", errType))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}

	st.span.End()
}
