// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"github.com/gumgo/gumgo/internal/gumutil"
	"github.com/gumgo/gumgo/pkg/hook"
)

// invocationView is the one concrete hook.Invocation implementation. Per
// spec.md §3's thread context, each threadContext owns two preallocated
// instances — one reused across every listener callback, one reused while
// exposing a replacement's own in-flight call — rather than allocating a
// fresh view per dispatch.
type invocationView struct {
	frame       *invocationFrame
	pointCut    hook.PointCut
	owner       *listenerEntry // nil while exposing a replacement's call
	replacement bool
}

var _ hook.Invocation = (*invocationView)(nil)

func (v *invocationView) PointCut() hook.PointCut { return v.pointCut }

func (v *invocationView) Function() uintptr { return v.frame.ctx.target }

func (v *invocationView) Depth() int { return v.frame.depth }

func (v *invocationView) CPUContext() *hook.CPUContext { return &v.frame.cpu }

func (v *invocationView) SetCPUContext(ctx *hook.CPUContext) {
	if ctx != nil {
		v.frame.cpu = *ctx
	}
}

func (v *invocationView) SystemError() uintptr { return v.frame.systemError }

func (v *invocationView) SetSystemError(errno uintptr) { v.frame.systemError = errno }

func (v *invocationView) Data() any { return v.frame.data }

func (v *invocationView) SetData(val any) { v.frame.data = val }

func (v *invocationView) ListenerData() *[hook.ListenerDataSize]byte {
	gumutil.Assert(v.owner != nil, "invocationView: ListenerData has no owning listener (replacement view)")
	return v.frame.threadCtx.listenerData(v.owner)
}

func (v *invocationView) FuncData() any {
	gumutil.Assert(v.owner != nil, "invocationView: FuncData has no owning listener (replacement view)")
	return v.owner.getFuncData()
}

func (v *invocationView) SetFuncData(val any) {
	gumutil.Assert(v.owner != nil, "invocationView: SetFuncData has no owning listener (replacement view)")
	v.owner.setFuncData(val)
}

func (v *invocationView) IsReplacement() bool { return v.replacement }
