// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// script-ipc-conformance serves the conformance service on the request and
// response descriptors it inherited, or on stdin/stdout with --stdio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"

	"github.com/Query-farm/script-ipc/conformance"
	"github.com/Query-farm/script-ipc/scriptipc"
	"github.com/Query-farm/script-ipc/scriptipc/codec"
	"github.com/Query-farm/script-ipc/scriptipc/proc"
)

var app = &cli.App{
	Name:  "script-ipc-conformance",
	Usage: "serve the script-ipc conformance service",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "codec", Value: "cbor", EnvVars: []string{"SCRIPT_IPC_CODEC"}, Usage: fmt.Sprintf("payload codec, optionally prefixed with %q (%v)", codec.ZstdPrefix, codec.Names())},
		&cli.BoolFlag{Name: "stdio", Usage: "serve on stdin/stdout instead of descriptors 3 and 4"},
		&cli.Uint64Flag{Name: "max-payload", Usage: "reject requests larger than this many bytes (0: no limit)"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log every packet to stderr"},
	},
	Action: serve,
}

func serve(c *cli.Context) (err error) {
	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cd, err := codec.Lookup(c.String("codec"))
	if err != nil {
		return err
	}

	var ends *scriptipc.Endpoints
	if c.Bool("stdio") {
		ends = proc.Stdio()
	} else if ends, err = proc.Inherited(); err != nil {
		return fmt.Errorf("%w (use --stdio to serve on stdin/stdout)", err)
	}
	defer func() {
		if cerr := ends.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	ch := ends.Channel()
	ch.SetCodec(cd)
	ch.SetLogger(logger)
	ch.SetMaxPayloadSize(c.Uint64("max-payload"))
	ch.SetServiceName("conformance")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return scriptipc.Execute[conformance.Request, conformance.Response](ctx, ch, conformance.Service{})
}

func main() {
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "script-ipc-conformance: %v\n", err)
		os.Exit(1)
	}
}
