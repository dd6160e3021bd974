// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/gumgo/gumgo/config"
	"github.com/gumgo/gumgo/demo"
	"github.com/gumgo/gumgo/internal/gumex"
	"github.com/gumgo/gumgo/pkg/hook"
)

var commandLoad = &cli.Command{
	Name:      "load",
	Usage:     "attach every hook declared in a YAML hook-spec document",
	ArgsUsage: "<path>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		doc, err := config.Load(cmd.Args().First())
		if err != nil {
			return err
		}

		ic := obtainInterceptor()
		defer ic.Release()

		for _, h := range doc.Hooks {
			// gumgoctl has no real dynamic symbol resolver; it resolves a
			// HookSpec's Symbol against the demo registry only, matching
			// SPEC_FULL.md §4.11's "the core takes resolved addresses,
			// never symbol names" boundary — resolution is entirely this
			// CLI's problem, not internal/interceptor's.
			fn, ok := demo.Registry[h.Symbol]
			if !ok {
				if h.IgnoreErrors {
					fprintln(cmd, "skip", h.Symbol, "(unknown demo symbol)")
					continue
				}
				return gumex.Newf("gumgoctl load: unknown demo symbol %q", h.Symbol)
			}
			target := demo.FuncAddr(fn)

			var hookErr error
			switch h.Kind {
			case config.KindListener:
				hookErr = ic.Attach(ctx, target, &loggingListener{cmd: cmd, name: h.Symbol}, nil)
			case config.KindReplace:
				repl, ok := demo.Replacements[h.Symbol]
				if !ok {
					if h.IgnoreErrors {
						fprintln(cmd, "skip", h.Symbol, "(no demo replacement registered)")
						continue
					}
					return gumex.Newf("gumgoctl load: %s has no demo replacement", h.Symbol)
				}
				_, hookErr = ic.Replace(ctx, target, hook.Replacement{Addr: demo.FuncAddr(repl)})
			}
			if hookErr != nil {
				if h.IgnoreErrors {
					fprintln(cmd, "skip", h.Symbol, "(", hookErr, ")")
					continue
				}
				return gumex.Wrapf(hookErr, "load %s", h.Symbol)
			}
			fprintln(cmd, "loaded", h.Symbol, "as", h.Kind)
		}
		return nil
	},
}
