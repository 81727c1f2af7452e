// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package scriptipc

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// Wire format:
//
//	request:  VLQ(len) || payload
//	response: error_code (uint64, little-endian) || VLQ(len) || payload

const (
	errorCodeSize = 8
	// payloadChunk bounds the up-front allocation for a payload; longer
	// payloads grow as their bytes actually arrive.
	payloadChunk = 64 << 10
	// logPreview is how many payload bytes a packet shows in log records.
	logPreview = 32
)

// RequestPacket is one framed request.
type RequestPacket struct {
	Payload []byte
}

// NewRequestPacket wraps a serialized request. The packet owns payload.
func NewRequestPacket(payload []byte) *RequestPacket {
	return &RequestPacket{Payload: payload}
}

// Serialize returns the wire form of the packet.
func (p *RequestPacket) Serialize() []byte {
	out := make([]byte, 0, MaxVLQLen+len(p.Payload))
	out = AppendVLQ(out, uint64(len(p.Payload)))
	return append(out, p.Payload...)
}

// LogValue implements slog.LogValuer.
func (p *RequestPacket) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("len", len(p.Payload)),
		slog.String("payload", previewHex(p.Payload)),
	)
}

// ResponsePacket is one framed response. A zero ErrorCode means Payload is
// the serialized success value.
type ResponsePacket struct {
	ErrorCode ErrorCode
	Payload   []byte
}

// NewResponsePacket wraps a serialized response. The packet owns payload.
func NewResponsePacket(code ErrorCode, payload []byte) *ResponsePacket {
	return &ResponsePacket{ErrorCode: code, Payload: payload}
}

// Serialize returns the wire form of the packet.
func (p *ResponsePacket) Serialize() []byte {
	out := make([]byte, 0, errorCodeSize+MaxVLQLen+len(p.Payload))
	out = binary.LittleEndian.AppendUint64(out, uint64(p.ErrorCode))
	out = AppendVLQ(out, uint64(len(p.Payload)))
	return append(out, p.Payload...)
}

// LogValue implements slog.LogValuer.
func (p *ResponsePacket) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("code", uint64(p.ErrorCode)),
		slog.Int("len", len(p.Payload)),
		slog.String("payload", previewHex(p.Payload)),
	)
}

// ReadRequestPacket reads one complete request packet from r. It returns
// io.EOF if r ends before the first byte of a packet, and an error
// matching ErrUnexpectedEOF or ErrIncompleteVlqSeq if it ends inside one.
func ReadRequestPacket(r io.Reader) (*RequestPacket, error) {
	return readRequestPacket(r, 0)
}

// ReadResponsePacket reads one complete response packet from r, with the
// same end-of-stream rules as ReadRequestPacket.
func ReadResponsePacket(r io.Reader) (*ResponsePacket, error) {
	return readResponsePacket(r, 0)
}

func readRequestPacket(r io.Reader, limit uint64) (*RequestPacket, error) {
	payload, err := readPayload(r, limit, true)
	if err != nil {
		return nil, err
	}
	return &RequestPacket{Payload: payload}, nil
}

func readResponsePacket(r io.Reader, limit uint64) (*ResponsePacket, error) {
	var hdr [errorCodeSize]byte
	n, err := readExact(r, hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	payload, err := readPayload(r, limit, false)
	if err != nil {
		return nil, err
	}
	return &ResponsePacket{
		ErrorCode: ErrorCode(binary.LittleEndian.Uint64(hdr[:])),
		Payload:   payload,
	}, nil
}

// readPayload reads a VLQ length and then exactly that many bytes. With
// atBoundary set, a stream that ends before the length starts is io.EOF.
func readPayload(r io.Reader, limit uint64, atBoundary bool) ([]byte, error) {
	length, n, err := DecodeVLQ(asByteReader(r))
	if err != nil {
		if atBoundary && n == 0 && errors.Is(err, ErrIncompleteVlqSeq) {
			return nil, io.EOF
		}
		return nil, err
	}
	if limit == 0 {
		limit = math.MaxInt64
	}
	if length > limit {
		return nil, newError(KindPayloadTooLarge,
			fmt.Errorf("declared payload of %d bytes exceeds limit %d", length, limit))
	}
	return readPayloadBytes(r, int64(length))
}

func readPayloadBytes(r io.Reader, length int64) ([]byte, error) {
	if length <= payloadChunk {
		buf := make([]byte, length)
		if err := ReadExact(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	var buf bytes.Buffer
	buf.Grow(payloadChunk)
	n, err := io.CopyN(&buf, r, length)
	if n < length {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, newError(KindUnexpectedEOF, io.ErrUnexpectedEOF)
		}
		return nil, newError(KindReadExact, err)
	}
	return buf.Bytes(), nil
}

func previewHex(b []byte) string {
	if len(b) <= logPreview {
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b[:logPreview]) + "..."
}
