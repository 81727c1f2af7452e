// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package scriptipc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// The read, write and seek capabilities are io.Reader, io.Writer and
// io.Seeker. BufReader is the buffered-read capability; sources implement
// only the ones they support, and the helpers below are written once
// against them.

// BufReader is a reader with an internal buffer the caller can inspect.
type BufReader interface {
	// Fill returns the buffered bytes, reading more from the source when the
	// buffer is empty. An empty slice with a nil error means end of stream.
	Fill() ([]byte, error)
	// Consume marks n bytes returned by Fill as read.
	Consume(n int)
}

// ReadExact fills buf completely from r. A source that ends first fails
// with ErrUnexpectedEOF; other read failures are wrapped as ErrReadExact.
func ReadExact(r io.Reader, buf []byte) error {
	_, err := readExact(r, buf)
	return err
}

// readExact is ReadExact that also reports how much was read, so callers
// can tell a clean boundary (nothing read) from a truncated frame.
func readExact(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if total == len(buf) {
			return total, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, newError(KindUnexpectedEOF, io.ErrUnexpectedEOF)
			}
			return total, newError(KindReadExact, err)
		}
		if n == 0 {
			return total, newError(KindUnexpectedEOF, io.ErrUnexpectedEOF)
		}
	}
	return total, nil
}

// WriteAll writes every byte of buf to w. A write that accepts nothing while
// data remains fails with ErrShortWrite.
func WriteAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		buf = buf[n:]
		if err != nil && !errors.Is(err, io.ErrShortWrite) && !errors.Is(err, ErrSliceWrite) {
			return wrapIO(err)
		}
		if n == 0 && len(buf) > 0 {
			return newError(KindShortWrite, err)
		}
	}
	return nil
}

// ReadUntil appends bytes from r to dst up to and including delim, or until
// r is exhausted.
func ReadUntil(r BufReader, delim byte, dst []byte) ([]byte, error) {
	for {
		avail, err := r.Fill()
		if err != nil {
			return dst, newError(KindReadUntil, err)
		}
		if len(avail) == 0 {
			return dst, nil
		}
		if i := bytes.IndexByte(avail, delim); i >= 0 {
			dst = append(dst, avail[:i+1]...)
			r.Consume(i + 1)
			return dst, nil
		}
		dst = append(dst, avail...)
		r.Consume(len(avail))
	}
}

// StreamPosition returns the current offset of s.
func StreamPosition(s io.Seeker) (int64, error) {
	return s.Seek(0, io.SeekCurrent)
}

// NewBufReader adapts a *bufio.Reader to BufReader.
func NewBufReader(r *bufio.Reader) BufReader {
	return bufioReader{r}
}

type bufioReader struct {
	r *bufio.Reader
}

func (b bufioReader) Fill() ([]byte, error) {
	if b.r.Buffered() == 0 {
		if _, err := b.r.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, newError(KindBufReader, err)
		}
	}
	return b.r.Peek(b.r.Buffered())
}

func (b bufioReader) Consume(n int) {
	_, _ = b.r.Discard(n)
}

// NewBytesBufReader returns a BufReader over an in-memory slice.
func NewBytesBufReader(data []byte) BufReader {
	s := sliceBufReader(data)
	return &s
}

type sliceBufReader []byte

func (s *sliceBufReader) Fill() ([]byte, error) {
	return *s, nil
}

func (s *sliceBufReader) Consume(n int) {
	*s = (*s)[n:]
}
