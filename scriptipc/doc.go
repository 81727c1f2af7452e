// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package scriptipc implements a small request/response protocol between
// two cooperating processes joined by a pair of one-way byte streams,
// typically host pipes.
//
// A client issues one call at a time and blocks for its response; a server
// reads requests in order, dispatches each to a handler and writes exactly
// one response back. There is no multiplexing and no pipelining.
//
// # Wire format
//
// Every length is a VLQ: an unsigned 64-bit integer split into 7-bit
// groups, least-significant group first, with the high bit of each byte set
// when another group follows (at most 10 bytes).
//
//	request  = VLQ(len) payload
//	response = code(8 bytes, little-endian) VLQ(len) payload
//
// A response code of zero means the payload is the encoded response value.
// Any other code is a protocol error and the payload, if any, is a
// diagnostic message:
//
//   - 1 ([CodeDeserializeError]): the server could not decode the request
//   - 2 ([CodeOtherEndClosed]): the peer went away before answering
//   - 3 ([CodeHandlerError]): the handler failed with a plain Go error
//
// Handlers may return a [*ProtocolError] to send other codes.
//
// # Payloads
//
// Request and response values are encoded by a [codec.Codec] chosen with
// [Channel.SetCodec]; both ends must use the same one. The default is CBOR.
// Multi-method services model a request as a struct with one pointer field
// per method, exactly one of which is set, and the response likewise.
// Application failures travel inside the response value; only protocol
// failures use the error code.
//
// # Serving
//
// [Execute] runs the serve loop until the client closes its end. [Call]
// performs one client round trip. [NewPipePair] creates the host pipes for
// an in-process pair; package proc starts a server child process with its
// pipe ends as inherited descriptors.
package scriptipc
