// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultMaxDecodedSize bounds the decompressed size of one zstd payload
// unless SetMaxDecodedSize sets another bound.
const DefaultMaxDecodedSize = 128 << 20

// Limiter is implemented by codecs that expand payloads while decoding.
// Channels pass their maximum payload size to it, so a small payload on the
// wire cannot decode into an unbounded one.
type Limiter interface {
	// SetMaxDecodedSize bounds the decoded size of one payload. Zero
	// restores the codec's default.
	SetMaxDecodedSize(n uint64) error
}

// zstdCodec compresses the output of another codec.
type zstdCodec struct {
	inner      Codec
	enc        *zstd.Encoder
	dec        *zstd.Decoder
	maxDecoded uint64
}

// Zstd wraps inner so payloads are zstd-compressed on the wire. Both ends
// of a channel must use the same wrapping. Decoded payloads are bounded by
// DefaultMaxDecodedSize; the returned codec implements Limiter.
func Zstd(inner Codec, level zstd.EncoderLevel) (Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := newZstdDecoder(DefaultMaxDecodedSize)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{inner: inner, enc: enc, dec: dec, maxDecoded: DefaultMaxDecodedSize}, nil
}

func newZstdDecoder(maxDecoded uint64) (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return dec, nil
}

func (c *zstdCodec) Name() string {
	return ZstdPrefix + c.inner.Name()
}

// SetMaxDecodedSize replaces the decoder with one bounded by n. It must not
// be called while the codec is decoding.
func (c *zstdCodec) SetMaxDecodedSize(n uint64) error {
	if n == 0 {
		n = DefaultMaxDecodedSize
	}
	if n == c.maxDecoded {
		return nil
	}
	dec, err := newZstdDecoder(n)
	if err != nil {
		return err
	}
	c.dec.Close()
	c.dec, c.maxDecoded = dec, n
	return nil
}

func (c *zstdCodec) Marshal(v any) ([]byte, error) {
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, nil), nil
}

func (c *zstdCodec) Unmarshal(data []byte, v any) error {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("zstd decode (limit %d bytes): %w", c.maxDecoded, err)
	}
	return c.inner.Unmarshal(raw, v)
}
