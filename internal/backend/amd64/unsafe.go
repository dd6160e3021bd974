// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package amd64

import (
	"unsafe"

	"github.com/gumgo/gumgo/internal/codealloc"
)

// unsafeRead copies n bytes starting at addrVal out of process memory. It is
// the backend's only direct memory read: reading a target's prologue bytes
// to disassemble before a trampoline exists, and reading the head of an
// address to check for an existing redirect jump (ResolveRedirect).
// DeactivateTrampoline reads the saved original bytes through the code
// slice instead.
func unsafeRead(addrVal uintptr, n int) []byte {
	src := unsafe.Slice((*byte)(unsafe.Pointer(addrVal)), n)
	dst := make([]byte, n)
	copy(dst, src)
	return dst
}

// unsafeWrite copies data into process memory starting at addrVal. Callers
// are responsible for the destination already being writable — for a live
// function's prologue that means the interceptor's batcher has already
// staged the page per its host strategy (spec.md §4.3); amd64 never touches
// page protection itself.
func unsafeWrite(addrVal uintptr, data []byte) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addrVal)), len(data))
	copy(dst, data)
}

// sliceHandle and sliceFromHandle round-trip a *codealloc.Slice through the
// unsafe.Pointer backend.Trampoline.code uses to stay backend-agnostic.
func sliceHandle(s *codealloc.Slice) unsafe.Pointer {
	return unsafe.Pointer(s)
}

func sliceFromHandle(p unsafe.Pointer) *codealloc.Slice {
	if p == nil {
		return nil
	}
	return (*codealloc.Slice)(p)
}
