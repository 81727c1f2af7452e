// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package scriptipc

import (
	"context"
	"log/slog"
)

// Role values for DispatchInfo.Role.
const (
	RoleClient = "client"
	RoleServer = "server"
)

// DispatchHook provides observability callpoints around one call: the
// client side of Call, or one request handled by Execute.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries call metadata passed to hooks.
type DispatchInfo struct {
	Method      string // method name, empty when the handler does not report one
	Role        string // RoleClient or RoleServer
	ServiceName string // set via Channel.SetServiceName
	Codec       string // payload codec name
}

// CallStatistics holds per-call byte counters.
type CallStatistics struct {
	RequestBytes  int64 // request payload bytes
	ResponseBytes int64 // response payload bytes
	ErrorCode     ErrorCode
}

// RecordRequest records the size of a request payload.
func (s *CallStatistics) RecordRequest(payloadBytes int) {
	s.RequestBytes += int64(payloadBytes)
}

// RecordResponse records a response's code and payload size.
func (s *CallStatistics) RecordResponse(code ErrorCode, payloadBytes int) {
	s.ErrorCode = code
	s.ResponseBytes += int64(payloadBytes)
}

// hookCall runs a hook around one dispatch. Hook panics are logged and
// never reach the channel.
type hookCall struct {
	hook   DispatchHook
	logger *slog.Logger
	info   DispatchInfo
	token  HookToken
	active bool
	stats  CallStatistics
}

func (h *hookCall) start(ctx context.Context) (out context.Context) {
	out = ctx
	if h.hook == nil {
		return out
	}
	defer func() {
		if rv := recover(); rv != nil {
			h.logger.Error("dispatch hook start panic", "err", rv)
			out = ctx
		}
	}()
	hookCtx, token := h.hook.OnDispatchStart(ctx, h.info)
	h.token = token
	h.active = true
	if hookCtx != nil {
		out = hookCtx
	}
	return out
}

func (h *hookCall) end(ctx context.Context, err error) {
	if !h.active {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			h.logger.Error("dispatch hook end panic", "err", rv)
		}
	}()
	h.hook.OnDispatchEnd(ctx, h.token, h.info, &h.stats, err)
}
