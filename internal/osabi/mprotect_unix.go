// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package osabi

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gumgo/gumgo/internal/gumex"
)

// Mprotect changes the protection of the length-byte region starting at
// addrVal to prot. Callers (internal/interceptor's batcher) are
// responsible for rounding addrVal down to a page boundary first; Mprotect
// does not do it for them since the batcher needs the rounded address for
// bookkeeping anyway.
func Mprotect(addrVal uintptr, length int, prot Protection) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addrVal)), length)
	if err := unix.Mprotect(b, int(prot)); err != nil {
		return gumex.Wrapf(err, "osabi: mprotect(%#x, %d, %v) failed", addrVal, length, prot)
	}
	return nil
}

// CanAllocateRWX probes whether the host permits a simultaneously writable
// and executable mapping, by attempting one and freeing it immediately.
// Used by DetectStrategy to choose between StrategyRWXAllowed and a W^X
// strategy.
func CanAllocateRWX() bool {
	b, err := unix.Mmap(-1, 0, PageSize(), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return false
	}
	_ = unix.Munmap(b)
	return true
}
