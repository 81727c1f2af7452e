// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package proc starts script-ipc servers as child processes and opens the
// endpoints a child was started with.
//
// The parent keeps one end of each of two pipes; the child gets the other
// ends as descriptor 3 (requests in) and descriptor 4 (responses out), so
// its stdin, stdout and stderr stay free.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/Query-farm/script-ipc/scriptipc"
	"github.com/hashicorp/go-multierror"
)

// Descriptor numbers of the pipe ends a spawned child inherits.
const (
	RequestFd  = 3
	ResponseFd = 4
)

// ErrNoInheritedFds is returned by Inherited when the process was not
// started with the request and response descriptors.
var ErrNoInheritedFds = errors.New("proc: request/response descriptors 3 and 4 not inherited")

// Worker is a running child process serving on the far end of a channel.
type Worker struct {
	cmd  *exec.Cmd
	ends *scriptipc.Endpoints
	ch   *scriptipc.Channel
}

// Spawn starts path with args as a server child process.
func Spawn(ctx context.Context, path string, args ...string) (*Worker, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr
	return Start(cmd)
}

// Start runs a prepared command as a server child process. cmd.ExtraFiles
// must be empty; Start fills it with the child's pipe ends.
func Start(cmd *exec.Cmd) (*Worker, error) {
	if len(cmd.ExtraFiles) != 0 {
		return nil, fmt.Errorf("proc: command already has %d extra files", len(cmd.ExtraFiles))
	}
	client, server, err := scriptipc.NewPipePair()
	if err != nil {
		return nil, err
	}
	cmd.ExtraFiles = []*os.File{server.Reader.File(), server.Writer.File()}

	if err := cmd.Start(); err != nil {
		return nil, multierror.Append(fmt.Errorf("proc: starting %s: %w", cmd.Path, err),
			client.Close(), server.Close()).ErrorOrNil()
	}
	// The child holds its own copies now; ours would keep the pipes open
	// after the child exits.
	if err := server.Close(); err != nil {
		_ = client.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("proc: closing child pipe ends: %w", err)
	}
	return &Worker{cmd: cmd, ends: client, ch: client.Channel()}, nil
}

// Channel returns the client end of the worker's channel.
func (w *Worker) Channel() *scriptipc.Channel {
	return w.ch
}

// Pid returns the child's process id.
func (w *Worker) Pid() int {
	return w.cmd.Process.Pid
}

// Close closes the request pipe, which ends the child's serve loop at a
// packet boundary, then waits for the child to exit and closes the
// response pipe. Every failure is reported.
func (w *Worker) Close() error {
	var result *multierror.Error
	if err := w.ends.Writer.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("proc: closing request pipe: %w", err))
	}
	if err := w.cmd.Wait(); err != nil {
		result = multierror.Append(result, fmt.Errorf("proc: waiting for child: %w", err))
	}
	if err := w.ends.Reader.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("proc: closing response pipe: %w", err))
	}
	return result.ErrorOrNil()
}

// Inherited opens the endpoints a child started by Spawn or Start received.
func Inherited() (*scriptipc.Endpoints, error) {
	for _, fd := range []int{RequestFd, ResponseFd} {
		var st syscall.Stat_t
		if err := syscall.Fstat(fd, &st); err != nil {
			return nil, fmt.Errorf("%w: descriptor %d: %v", ErrNoInheritedFds, fd, err)
		}
	}
	return &scriptipc.Endpoints{
		Reader: scriptipc.NewPipe(os.NewFile(RequestFd, "ipc-request")),
		Writer: scriptipc.NewPipe(os.NewFile(ResponseFd, "ipc-response")),
	}, nil
}

// Stdio returns endpoints over standard input and output, for servers
// launched by hosts that only connect stdio. Log output must then go to
// stderr.
func Stdio() *scriptipc.Endpoints {
	return &scriptipc.Endpoints{Reader: scriptipc.NewPipe(os.Stdin), Writer: scriptipc.NewPipe(os.Stdout)}
}
