// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"testing"

	"github.com/gumgo/gumgo/pkg/hook"
)

func TestInvocationView_BasicAccessors(t *testing.T) {
	ctx := newFuncContext(0x1000, kindDefault)
	frame := &invocationFrame{ctx: ctx, depth: 3, cpu: hook.CPUContext{PC: 0x1000}, systemError: 7}
	v := &invocationView{frame: frame, pointCut: hook.PointCutEnter}

	if v.Function() != 0x1000 {
		t.Fatalf("expected Function 0x1000, got %#x", v.Function())
	}
	if v.Depth() != 3 {
		t.Fatalf("expected Depth 3, got %d", v.Depth())
	}
	if v.PointCut() != hook.PointCutEnter {
		t.Fatal("expected PointCutEnter")
	}
	if v.SystemError() != 7 {
		t.Fatalf("expected SystemError 7, got %d", v.SystemError())
	}
	v.SetSystemError(9)
	if frame.systemError != 9 {
		t.Fatal("expected SetSystemError to mutate the underlying frame")
	}

	if v.Data() != nil {
		t.Fatal("expected nil Data before SetData")
	}
	v.SetData("hello")
	if v.Data() != "hello" {
		t.Fatalf("expected Data 'hello', got %v", v.Data())
	}

	newCPU := &hook.CPUContext{PC: 0x2000}
	v.SetCPUContext(newCPU)
	if v.CPUContext().PC != 0x2000 {
		t.Fatal("expected SetCPUContext to replace the frame's cpu snapshot")
	}
}

func TestInvocationView_ListenerDataAndFuncDataRequireOwner(t *testing.T) {
	tc := newThreadContext(1)
	ctx := newFuncContext(0x1000, kindDefault)
	frame := &invocationFrame{ctx: ctx, threadCtx: tc}
	entry := newListenerEntry(&recordingListener{}, nil)
	v := &invocationView{frame: frame, owner: entry}

	data := v.ListenerData()
	data[0] = 0x11
	again := v.ListenerData()
	if again[0] != 0x11 {
		t.Fatal("expected ListenerData to be stable across calls for the same owner")
	}

	if v.FuncData() != nil {
		t.Fatal("expected nil FuncData before SetFuncData")
	}
	v.SetFuncData(99)
	if v.FuncData() != 99 {
		t.Fatalf("expected FuncData 99, got %v", v.FuncData())
	}
}

func TestInvocationView_IsReplacement(t *testing.T) {
	v := &invocationView{replacement: true}
	if !v.IsReplacement() {
		t.Fatal("expected IsReplacement true")
	}
	v2 := &invocationView{}
	if v2.IsReplacement() {
		t.Fatal("expected IsReplacement false by default")
	}
}
