// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package scriptipc

import "context"

// Serve turns one decoded request into exactly one response.
//
// An error returned by Serve is a protocol error: the server answers with a
// non-zero error code and no decodable payload. Return a *ProtocolError to
// pick the code; any other error is sent as CodeHandlerError. Application
// failures ("name not found") belong inside Resp as ordinary values.
type Serve[Req, Resp any] interface {
	Serve(ctx context.Context, req Req) (Resp, error)
}

// MethodNamer is implemented by handlers that can name the method a request
// invokes. The name is used for logging and hooks only.
type MethodNamer[Req any] interface {
	Method(req Req) string
}

// ServeFunc adapts a function to Serve.
type ServeFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Serve calls f(ctx, req).
func (f ServeFunc[Req, Resp]) Serve(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// methodOf returns the handler's name for req, or "".
func methodOf[Req, Resp any](handler Serve[Req, Resp], req Req) string {
	if namer, ok := handler.(MethodNamer[Req]); ok {
		return namer.Method(req)
	}
	return ""
}
