// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/gumgo/gumgo/demo"
	"github.com/gumgo/gumgo/internal/gumex"
)

var commandDetach = &cli.Command{
	Name:      "detach",
	Usage:     "attach then detach a demo target, printing the context snapshot around it",
	ArgsUsage: "<symbol>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		name := cmd.Args().First()
		fn, ok := demo.Registry[name]
		if !ok {
			return gumex.Newf("gumgoctl: unknown demo symbol %q", name)
		}

		ic := obtainInterceptor()
		defer ic.Release()

		l := &loggingListener{cmd: cmd, name: name}
		target := demo.FuncAddr(fn)
		if err := ic.Attach(ctx, target, l, nil); err != nil {
			return gumex.Wrapf(err, "attach %s", name)
		}
		fprintln(cmd, "before detach:", ic.Snapshot())

		if err := ic.Detach(ctx, l); err != nil {
			return gumex.Wrapf(err, "detach %s", name)
		}
		fprintln(cmd, "after detach:", ic.Snapshot())
		return nil
	},
}
