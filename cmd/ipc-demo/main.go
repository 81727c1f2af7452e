// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// ipc-demo greets a name through a World server. It starts a copy of itself
// with the serve command as the server, joined by two pipes passed as
// descriptors 3 and 4, makes the call and prints the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"

	"github.com/Query-farm/script-ipc/examples/world"
	"github.com/Query-farm/script-ipc/scriptipc"
	"github.com/Query-farm/script-ipc/scriptipc/codec"
	ipcotel "github.com/Query-farm/script-ipc/scriptipc/otel"
	"github.com/Query-farm/script-ipc/scriptipc/proc"
)

var app = &cli.App{
	Name:  "ipc-demo",
	Usage: "call a World server running in a child process",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "codec", Value: "cbor", EnvVars: []string{"SCRIPT_IPC_CODEC"}, Usage: fmt.Sprintf("payload codec, optionally prefixed with %q (%v)", codec.ZstdPrefix, codec.Names())},
		&cli.StringFlag{Name: "name", Value: "world", Usage: "name to greet; \"error\" makes the server fail"},
		&cli.BoolFlag{Name: "trace", Usage: "export spans and metrics to stderr"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log every packet to stderr"},
	},
	Action: runClient,
	Commands: []*cli.Command{
		{
			Name:   "serve",
			Usage:  "serve World on descriptors 3 and 4",
			Action: runServer,
		},
	},
}

func newLogger(c *cli.Context, role string) *slog.Logger {
	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("role", role, "pid", os.Getpid())
}

// setupChannel applies the shared flags to ch and returns the telemetry
// shutdown function.
func setupChannel(c *cli.Context, ch *scriptipc.Channel, role string) (func(context.Context) error, error) {
	cd, err := codec.Lookup(c.String("codec"))
	if err != nil {
		return nil, err
	}
	ch.SetCodec(cd)
	ch.SetLogger(newLogger(c, role))
	ch.SetServiceName("World")

	if !c.Bool("trace") {
		return func(context.Context) error { return nil }, nil
	}
	tel, err := newTelemetry(os.Stderr)
	if err != nil {
		return nil, err
	}
	cfg := ipcotel.DefaultConfig()
	cfg.TracerProvider = tel.tracerProvider
	cfg.MeterProvider = tel.meterProvider
	ipcotel.InstrumentChannel(ch, cfg)
	return tel.Shutdown, nil
}

// childArgs forwards the global flags to the server process.
func childArgs(c *cli.Context) []string {
	args := []string{"--codec", c.String("codec")}
	if c.Bool("verbose") {
		args = append(args, "--verbose")
	}
	if c.Bool("trace") {
		args = append(args, "--trace")
	}
	return append(args, "serve")
}

func runClient(c *cli.Context) (err error) {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable: %w", err)
	}

	w, err := proc.Spawn(c.Context, exe, childArgs(c)...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	ch := w.Channel()
	shutdown, err := setupChannel(c, ch, scriptipc.RoleClient)
	if err != nil {
		return err
	}
	defer func() {
		if serr := shutdown(context.Background()); serr != nil {
			err = multierror.Append(err, serr).ErrorOrNil()
		}
	}()

	msg, err := world.NewWorldClient(ch).Hello(c.Context, c.String("name"))
	var appErr *world.Error
	switch {
	case errors.As(err, &appErr):
		fmt.Fprintf(c.App.Writer, "error code %d\n", appErr.Code)
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintln(c.App.Writer, msg)
	return nil
}

func runServer(c *cli.Context) (err error) {
	ends, err := proc.Inherited()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ends.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	ch := ends.Channel()
	shutdown, err := setupChannel(c, ch, scriptipc.RoleServer)
	if err != nil {
		return err
	}
	defer func() {
		if serr := shutdown(context.Background()); serr != nil {
			err = multierror.Append(err, serr).ErrorOrNil()
		}
	}()

	return scriptipc.Execute[world.WorldRequest, world.WorldResponse](
		c.Context, ch, world.NewServeWorld(world.Greeter{}))
}

func main() {
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ipc-demo: %v\n", err)
		os.Exit(1)
	}
}
