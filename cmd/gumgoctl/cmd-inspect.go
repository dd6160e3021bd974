// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v3"

	"github.com/gumgo/gumgo/demo"
	"github.com/gumgo/gumgo/internal/gumex"
)

var inspectJSON = jsoniter.ConfigCompatibleWithStandardLibrary

var commandInspect = &cli.Command{
	Name:      "inspect",
	Usage:     "attach to a demo target and dump its function-context registry entry as JSON",
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
		defer func() { _ = ic.Detach(ctx, l) }()

		out, err := inspectJSON.MarshalIndent(ic.Snapshot(), "", "  ")
		if err != nil {
			return gumex.Wrap(err)
		}
		fprintln(cmd, string(out))
		return nil
	},
}
