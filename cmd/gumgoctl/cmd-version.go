// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

var commandVersion = &cli.Command{
	Name:  "version",
	Usage: "print gumgoctl's version",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		fprintln(cmd, "gumgoctl", version)
		return nil
	},
}
