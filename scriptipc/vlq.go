// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package scriptipc

import (
	"encoding/binary"
	"errors"
	"io"
)

// MaxVLQLen is the longest encoding of a uint64: ceil(64/7) groups.
const MaxVLQLen = binary.MaxVarintLen64

// VLQ groups are ordered least-significant first. Every byte but the last
// has the continuation bit (0x80) set.

// AppendVLQ appends the canonical encoding of v to dst.
func AppendVLQ(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// EncodeVLQ returns the canonical encoding of v.
func EncodeVLQ(v uint64) []byte {
	return AppendVLQ(make([]byte, 0, MaxVLQLen), v)
}

// DecodeVLQ reads one VLQ integer from r and reports how many bytes it
// consumed. A source that ends before the terminating group yields
// ErrIncompleteVlqSeq (n is 0 when nothing at all was read); more groups
// than a uint64 can hold yield ErrDecodeVlqOverflow.
func DecodeVLQ(r io.ByteReader) (value uint64, n int, err error) {
	var shift uint
	for n < MaxVLQLen {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, n, newError(KindIncompleteVlqSeq, io.EOF)
			}
			return 0, n, newError(KindReadVlq, err)
		}
		n++
		if b < 0x80 {
			if n == MaxVLQLen && b > 1 {
				return 0, n, ErrDecodeVlqOverflow
			}
			return value | uint64(b)<<shift, n, nil
		}
		value |= uint64(b&0x7f) << shift
		shift += 7
	}
	return 0, n, ErrDecodeVlqOverflow
}

// DecodeVLQBytes decodes a VLQ integer from the front of b.
func DecodeVLQBytes(b []byte) (value uint64, n int, err error) {
	br := sliceByteReader(b)
	return DecodeVLQ(&br)
}

type sliceByteReader []byte

func (s *sliceByteReader) ReadByte() (byte, error) {
	if len(*s) == 0 {
		return 0, io.EOF
	}
	b := (*s)[0]
	*s = (*s)[1:]
	return b, nil
}

// byteReader reads single bytes from r without reading ahead, so the bytes
// after a VLQ stay in the stream.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func asByteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &byteReader{r: r}
}

func (b *byteReader) ReadByte() (byte, error) {
	n, err := b.r.Read(b.buf[:])
	if n == 1 {
		return b.buf[0], nil
	}
	if err == nil {
		// A source that yields nothing is treated as exhausted.
		err = io.EOF
	}
	return 0, err
}
