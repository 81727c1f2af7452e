// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package scriptipc

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
)

// Pipe is one direction of a host pipe. Reads and writes block; host
// failures other than end of stream come back as ErrTransport.
type Pipe struct {
	f *os.File
}

// NewPipe wraps an open pipe descriptor.
func NewPipe(f *os.File) *Pipe {
	return &Pipe{f: f}
}

// Read keeps io.EOF unwrapped so the channel sees a clean end of stream.
func (p *Pipe) Read(b []byte) (int, error) {
	n, err := p.f.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		err = wrapIO(err)
	}
	return n, err
}

func (p *Pipe) Write(b []byte) (int, error) {
	n, err := p.f.Write(b)
	return n, wrapIO(err)
}

func (p *Pipe) Close() error {
	return p.f.Close()
}

// Fd returns the host descriptor number.
func (p *Pipe) Fd() uintptr {
	return p.f.Fd()
}

// File returns the underlying file, e.g. to hand it to a child process.
func (p *Pipe) File() *os.File {
	return p.f
}

// Endpoints is the pair of pipes one side of a channel owns.
type Endpoints struct {
	Reader *Pipe
	Writer *Pipe
}

// Close closes both pipes and reports every failure.
func (e *Endpoints) Close() error {
	var result *multierror.Error
	for _, p := range []*Pipe{e.Writer, e.Reader} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Channel builds a channel over the endpoints.
func (e *Endpoints) Channel() *Channel {
	return NewChannel(e.Reader, e.Writer)
}

// NewPipePair creates two host pipes and returns the endpoints for each
// side: what the client writes the server reads, and the other way round.
func NewPipePair() (client, server *Endpoints, err error) {
	r1, w1, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating pipe: %w", err)
	}
	r2, w2, err := os.Pipe()
	if err != nil {
		_ = r1.Close()
		_ = w1.Close()
		return nil, nil, fmt.Errorf("creating pipe: %w", err)
	}
	client = &Endpoints{Reader: NewPipe(r1), Writer: NewPipe(w2)}
	server = &Endpoints{Reader: NewPipe(r2), Writer: NewPipe(w1)}
	return client, server, nil
}
