// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

var commandFlush = &cli.Command{
	Name:  "flush",
	Usage: "force-drain any pending deferred-destroy tasks on the shared interceptor",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		ic := obtainInterceptor()
		defer ic.Release()

		if err := ic.Flush(ctx); err != nil {
			return err
		}
		fprintln(cmd, "flushed;", len(ic.Snapshot()), "context(s) remain live")
		return nil
	},
}
