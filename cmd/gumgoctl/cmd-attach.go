// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"reflect"

	"github.com/urfave/cli/v3"

	"github.com/gumgo/gumgo/demo"
	"github.com/gumgo/gumgo/internal/gumex"
	"github.com/gumgo/gumgo/pkg/hook"
)

// loggingListener implements hook.EnterListener and hook.LeaveListener,
// printing one line per call boundary. The amd64 backend's trampolines do
// not call into the engine's entry/leave dispatch, so on a live call to a
// demo function these callbacks do not run (see DESIGN.md, "no real
// trampoline-to-Go bridge").
type loggingListener struct {
	cmd  *cli.Command
	name string
}

func (l *loggingListener) OnEnter(inv hook.Invocation) {
	fprintln(l.cmd, l.name, "enter: depth", inv.Depth(), "pc", inv.CPUContext().PC)
}

func (l *loggingListener) OnLeave(inv hook.Invocation) {
	fprintln(l.cmd, l.name, "leave: return", inv.CPUContext().ReturnValue)
}

var commandAttach = &cli.Command{
	Name:      "attach",
	Usage:     "attach a logging listener to a demo target and invoke it",
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

		callDemoFunction(fn)

		if err := ic.Detach(ctx, l); err != nil {
			return gumex.Wrapf(err, "detach %s", name)
		}
		return ic.Flush(ctx)
	},
}

// callDemoFunction invokes fn with zero-valued arguments of its declared
// parameter types via reflection, since the CLI has no type-specific
// knowledge of which demo.Registry entry it was handed.
func callDemoFunction(fn any) []reflect.Value {
	v := reflect.ValueOf(fn)
	t := v.Type()
	args := make([]reflect.Value, t.NumIn())
	for i := range args {
		args[i] = reflect.Zero(t.In(i))
	}
	return v.Call(args)
}
