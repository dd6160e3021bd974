// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Command gumgoctl is a demo/debug CLI exercising internal/interceptor
// end-to-end against the target functions in the demo package. Grounded on
// tool/cmd/main.go + tool/cmd/cmd-*.go's shape: one *cli.Command per
// subcommand, a context-threaded slog.Logger installed by a root Before
// hook.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/gumgo/gumgo/internal/backend/amd64"
	"github.com/gumgo/gumgo/internal/codealloc"
	"github.com/gumgo/gumgo/internal/gumex"
	"github.com/gumgo/gumgo/internal/gumutil"
	"github.com/gumgo/gumgo/internal/interceptor"
	"github.com/gumgo/gumgo/internal/osabi"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:  "gumgoctl",
		Usage: "inspect and drive gumgo's interceptor against the demo targets",
		Commands: []*cli.Command{
			commandAttach,
			commandDetach,
			commandFlush,
			commandInspect,
			commandLoad,
			commandVersion,
		},
		Before: initLogger,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		gumex.Fatal(gumex.Wrap(err))
	}
}

func initLogger(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return gumutil.ContextWithLogger(ctx, slog.New(handler)), nil
}

// obtainInterceptor wires the reference amd64 backend, host capability
// detection, and the process-wide singleton together — this is the one
// place in the repo that picks a concrete Backend for internal/interceptor
// to run against.
func obtainInterceptor() *interceptor.Interceptor {
	pool := codealloc.NewPool()
	be := amd64.New(pool)
	strategy := osabi.DetectStrategy(false, "")
	return interceptor.Obtain(be, strategy, nil)
}

func fprintln(cmd *cli.Command, args ...any) {
	fmt.Fprintln(cmd.Writer, args...)
}
