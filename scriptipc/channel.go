// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package scriptipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Query-farm/script-ipc/scriptipc/codec"
)

// Channel is one end of a request/response connection. It owns its reader
// and writer for its whole lifetime and handles one call at a time; it is
// not safe for concurrent use.
//
// A failed packet read or write may leave part of a packet on the stream.
// The first such error breaks the channel: every later send or receive
// returns it without touching the stream.
type Channel struct {
	r           *bufio.Reader
	w           io.Writer
	codec       codec.Codec
	logger      *slog.Logger
	maxPayload  uint64
	hook        DispatchHook
	serviceName string
	broken      error
}

// NewChannel creates a channel reading from r and writing to w, using the
// default payload codec.
func NewChannel(r io.Reader, w io.Writer) *Channel {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Channel{r: br, w: w, codec: codec.Default()}
}

// SetCodec sets the payload codec. Both ends must agree on it.
func (c *Channel) SetCodec(cd codec.Codec) {
	c.codec = cd
	c.limitCodec()
}

// Codec returns the payload codec in use.
func (c *Channel) Codec() codec.Codec {
	return c.codec
}

// SetLogger routes the channel's log records to l instead of slog.Default.
func (c *Channel) SetLogger(l *slog.Logger) {
	c.logger = l
}

// SetMaxPayloadSize rejects incoming packets declaring more than n payload
// bytes. Zero means no limit. A codec that expands payloads while decoding
// (codec.Limiter) is bounded by n as well.
func (c *Channel) SetMaxPayloadSize(n uint64) {
	c.maxPayload = n
	c.limitCodec()
}

func (c *Channel) limitCodec() {
	l, ok := c.codec.(codec.Limiter)
	if !ok {
		return
	}
	if err := l.SetMaxDecodedSize(c.maxPayload); err != nil {
		c.log().Warn("failed to bound codec decoded size", "codec", c.codec.Name(), "limit", c.maxPayload, "err", err)
	}
}

// SetDispatchHook registers a hook called around every call and every
// served request. Pass nil to disable.
func (c *Channel) SetDispatchHook(hook DispatchHook) {
	c.hook = hook
}

// SetServiceName sets the name reported to dispatch hooks.
func (c *Channel) SetServiceName(name string) {
	c.serviceName = name
}

func (c *Channel) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Err returns the error that broke the channel, or nil.
func (c *Channel) Err() error {
	return c.broken
}

func (c *Channel) fail(err error) error {
	if c.broken == nil {
		c.broken = err
	}
	return err
}

// SendRequest frames payload as a request packet and writes it.
func (c *Channel) SendRequest(payload []byte) error {
	if c.broken != nil {
		return c.broken
	}
	pkt := NewRequestPacket(payload)
	c.log().Debug("send request", "packet", pkt)
	if err := WriteAll(c.w, pkt.Serialize()); err != nil {
		return c.fail(err)
	}
	return nil
}

// ReceiveRequest reads the next request packet. It returns io.EOF when the
// peer closed the stream between packets.
func (c *Channel) ReceiveRequest() (*RequestPacket, error) {
	if c.broken != nil {
		return nil, c.broken
	}
	pkt, err := readRequestPacket(c.r, c.maxPayload)
	if err != nil {
		return nil, c.fail(err)
	}
	c.log().Debug("receive request", "packet", pkt)
	return pkt, nil
}

// SendResponse frames a response packet and writes it.
func (c *Channel) SendResponse(code ErrorCode, payload []byte) error {
	if c.broken != nil {
		return c.broken
	}
	pkt := NewResponsePacket(code, payload)
	c.log().Debug("send response", "packet", pkt)
	if err := WriteAll(c.w, pkt.Serialize()); err != nil {
		return c.fail(err)
	}
	return nil
}

// ReceiveResponse reads the next response packet. It returns io.EOF when the
// peer closed the stream before answering.
func (c *Channel) ReceiveResponse() (*ResponsePacket, error) {
	if c.broken != nil {
		return nil, c.broken
	}
	pkt, err := readResponsePacket(c.r, c.maxPayload)
	if err != nil {
		return nil, c.fail(err)
	}
	c.log().Debug("receive response", "packet", pkt)
	return pkt, nil
}

// Call sends req and blocks for the matching response.
//
// A response with a non-zero error code is returned as *ProtocolError and
// its payload is not decoded. If the server is gone, either because the
// write hits a closed pipe or the stream ends before a response, the error
// is a *ProtocolError with CodeOtherEndClosed. method only labels logs and
// hooks.
func Call[Req, Resp any](ctx context.Context, ch *Channel, method string, req Req) (Resp, error) {
	var zero Resp
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	hc := hookCall{
		hook:   ch.hook,
		logger: ch.log(),
		info: DispatchInfo{
			Method:      method,
			Role:        RoleClient,
			ServiceName: ch.serviceName,
			Codec:       ch.codec.Name(),
		},
	}
	hctx := hc.start(ctx)
	resp, err := call[Req, Resp](ch, req, &hc.stats)
	hc.end(hctx, err)
	if err != nil {
		return zero, err
	}
	return resp, nil
}

func call[Req, Resp any](ch *Channel, req Req, stats *CallStatistics) (Resp, error) {
	var resp Resp

	payload, err := ch.codec.Marshal(req)
	if err != nil {
		return resp, newError(KindSerialize, err)
	}
	stats.RecordRequest(len(payload))

	if err := ch.SendRequest(payload); err != nil {
		if isTransportClosed(err) {
			return resp, &ProtocolError{Code: CodeOtherEndClosed, Message: err.Error()}
		}
		return resp, err
	}

	pkt, err := ch.ReceiveResponse()
	if err != nil {
		if err == io.EOF {
			return resp, &ProtocolError{Code: CodeOtherEndClosed, Message: "channel closed before response"}
		}
		return resp, err
	}
	stats.RecordResponse(pkt.ErrorCode, len(pkt.Payload))

	if pkt.ErrorCode != CodeOK {
		return resp, &ProtocolError{Code: pkt.ErrorCode, Message: string(pkt.Payload)}
	}
	if err := ch.codec.Unmarshal(pkt.Payload, &resp); err != nil {
		return resp, newError(KindDeserialize, err)
	}
	return resp, nil
}

// Execute serves requests from ch with handler until the client closes its
// end of the channel, which returns nil.
//
// A request that cannot be decoded is answered with CodeDeserializeError.
// A handler error is answered with its *ProtocolError code, or
// CodeHandlerError for any other error, and the error text as payload. In
// both cases serving continues. A write that finds the client gone also ends
// serving with nil. Framing and other transport errors are returned.
//
// ctx is checked between requests; a blocked read is not interrupted.
func Execute[Req, Resp any](ctx context.Context, ch *Channel, handler Serve[Req, Resp]) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := serveOne(ctx, ch, handler)
		if err != nil {
			ch.log().Error("serve loop error", "err", err)
			return err
		}
		if done {
			return nil
		}
	}
}

// serveOne handles a single request. done reports that the client went
// away and serving should stop without error.
func serveOne[Req, Resp any](ctx context.Context, ch *Channel, handler Serve[Req, Resp]) (done bool, err error) {
	pkt, err := ch.ReceiveRequest()
	if err == io.EOF {
		ch.log().Debug("client closed channel")
		return true, nil
	}
	if err != nil {
		return false, err
	}

	hc := hookCall{
		hook:   ch.hook,
		logger: ch.log(),
		info: DispatchInfo{
			Role:        RoleServer,
			ServiceName: ch.serviceName,
			Codec:       ch.codec.Name(),
		},
	}
	hc.stats.RecordRequest(len(pkt.Payload))

	var req Req
	if uerr := ch.codec.Unmarshal(pkt.Payload, &req); uerr != nil {
		derr := newError(KindDeserialize, uerr)
		ch.log().Warn("failed to deserialize request", "err", uerr)
		hctx := hc.start(ctx)
		return respond(hctx, ch, &hc, CodeDeserializeError, []byte(uerr.Error()), derr)
	}

	hc.info.Method = methodOf(handler, req)
	hctx := hc.start(ctx)

	resp, herr := invoke(hctx, handler, req)
	if herr != nil {
		code, msg := CodeHandlerError, herr.Error()
		var perr *ProtocolError
		if errors.As(herr, &perr) && perr.Code != CodeOK {
			code, msg = perr.Code, perr.Message
		}
		ch.log().Debug("handler failed", "method", hc.info.Method, "code", code, "err", herr)
		return respond(hctx, ch, &hc, code, []byte(msg), herr)
	}

	payload, merr := ch.codec.Marshal(resp)
	if merr != nil {
		serr := newError(KindSerialize, merr)
		ch.log().Error("failed to serialize response", "method", hc.info.Method, "err", merr)
		return respond(hctx, ch, &hc, CodeHandlerError, []byte(serr.Error()), serr)
	}
	return respond(hctx, ch, &hc, CodeOK, payload, nil)
}

func respond(ctx context.Context, ch *Channel, hc *hookCall, code ErrorCode, payload []byte, dispatchErr error) (bool, error) {
	hc.stats.RecordResponse(code, len(payload))
	werr := ch.SendResponse(code, payload)

	hookErr := dispatchErr
	if hookErr == nil {
		hookErr = werr
	}
	hc.end(ctx, hookErr)

	if werr != nil {
		if isTransportClosed(werr) {
			ch.log().Debug("client closed channel before response", "err", werr)
			return true, nil
		}
		return false, werr
	}
	return false, nil
}

// invoke runs the handler, turning a panic into a handler error.
func invoke[Req, Resp any](ctx context.Context, handler Serve[Req, Resp], req Req) (resp Resp, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = fmt.Errorf("handler panic: %v", rv)
		}
	}()
	return handler.Serve(ctx, req)
}
