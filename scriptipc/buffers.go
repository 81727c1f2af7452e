// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package scriptipc

import (
	"io"

	"github.com/gammazero/deque"
)

// In-memory byte sources and sinks. Flat slices use bytes.Reader (read,
// seek) and growable buffers use bytes.Buffer; the two types here cover the
// remaining shapes.

// SliceWriter writes into a caller-provided slice and never grows it.
type SliceWriter struct {
	buf []byte
	n   int
}

// NewSliceWriter returns a writer whose capacity is len(buf).
func NewSliceWriter(buf []byte) *SliceWriter {
	return &SliceWriter{buf: buf}
}

// Write copies as much of p as fits. A short write reports ErrSliceWrite.
func (w *SliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.n:], p)
	w.n += n
	if n < len(p) {
		return n, ErrSliceWrite
	}
	return n, nil
}

// Bytes returns the written part of the slice.
func (w *SliceWriter) Bytes() []byte {
	return w.buf[:w.n]
}

// Available returns how many more bytes fit.
func (w *SliceWriter) Available() int {
	return len(w.buf) - w.n
}

// Deque is a double-ended byte queue: writes push at the back, reads pop
// from the front. It implements io.Reader, io.Writer, io.ByteReader and
// BufReader.
type Deque struct {
	q       deque.Deque[byte]
	scratch []byte
}

// NewDeque returns a deque holding a copy of data.
func NewDeque(data []byte) *Deque {
	d := &Deque{}
	_, _ = d.Write(data)
	return d
}

// Len returns the number of queued bytes.
func (d *Deque) Len() int {
	return d.q.Len()
}

func (d *Deque) Write(p []byte) (int, error) {
	for _, b := range p {
		d.q.PushBack(b)
	}
	return len(p), nil
}

// PushFront puts p back at the front of the queue, preserving its order.
func (d *Deque) PushFront(p []byte) {
	for i := len(p) - 1; i >= 0; i-- {
		d.q.PushFront(p[i])
	}
}

func (d *Deque) Read(p []byte) (int, error) {
	if d.q.Len() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && d.q.Len() > 0 {
		p[n] = d.q.PopFront()
		n++
	}
	return n, nil
}

func (d *Deque) ReadByte() (byte, error) {
	if d.q.Len() == 0 {
		return 0, io.EOF
	}
	return d.q.PopFront(), nil
}

// Fill returns a copy of the queued bytes; it never blocks.
func (d *Deque) Fill() ([]byte, error) {
	d.scratch = d.scratch[:0]
	for i := 0; i < d.q.Len(); i++ {
		d.scratch = append(d.scratch, d.q.At(i))
	}
	return d.scratch, nil
}

func (d *Deque) Consume(n int) {
	for ; n > 0 && d.q.Len() > 0; n-- {
		d.q.PopFront()
	}
}
