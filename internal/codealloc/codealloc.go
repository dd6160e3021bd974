// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package codealloc is the code allocator external collaborator from
// spec.md §6 ("Code allocator: init(size), commit(), free()"): a pool of
// executable memory trampolines are carved out of.
//
// Grounded on other_examples/8663555b_Dk2014-hinako__hinako.go.go's
// virtualAllocatedMemory (one VirtualAlloc call, many trampolines written
// into the region it returns), re-expressed over golang.org/x/sys/unix.Mmap
// for a POSIX target instead of hinako's kernel32 calls.
package codealloc

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gumgo/gumgo/internal/gumex"
)

// DefaultSliceSize is a default code-slice size for amd64/arm64. Pool.Init
// does not consult it: each Init call reserves the size it is given,
// page-rounded. There is no separate MIPS value; this module ships only the
// amd64 backend.
const DefaultSliceSize = 4096

// Slice is one allocation returned by Pool.Init: a fixed-size region of
// memory, RW until Commit makes it RX, freed by Free.
type Slice struct {
	pool     *Pool
	addr     uintptr
	data     []byte
	size     int
	offset   int
	committed bool
}

// Addr is the slice's base address.
func (s *Slice) Addr() uintptr { return s.addr }

// Bytes exposes the slice's backing memory for writing generated code
// before Commit.
func (s *Slice) Bytes() []byte { return s.data }

// Alloc reserves n bytes from the slice's remaining capacity, returning the
// offset, or -1 if the slice is exhausted.
func (s *Slice) Alloc(n int) int {
	if s.offset+n > s.size {
		return -1
	}
	off := s.offset
	s.offset += n
	return off
}

// Commit switches the slice from RW to RX, making generated code in it
// executable. It does not flush the instruction cache. After Commit, Bytes
// must not be written to again.
func (s *Slice) Commit() error {
	if s.committed {
		return nil
	}
	if err := unix.Mprotect(s.data, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return gumex.Wrapf(err, "codealloc: mprotect RX failed for slice at %#x", s.addr)
	}
	s.committed = true
	return nil
}

// Free releases the slice back to the OS. The slice must not be in use by
// any live trampoline — callers are responsible for that invariant
// (internal/interceptor only calls this once a function context's usage
// counter has drained to zero).
func (s *Slice) Free() error {
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// Pool is a process-wide allocator of executable-memory slices. It does not
// itself carve individual trampolines out of one OS allocation — each
// Init call is one mmap, kept deliberately simple (no sub-slice reuse)
// because trampolines are freed rarely and never on a hot path; a reference
// Backend can call Init once per function context.
type Pool struct {
	mu sync.Mutex
}

// NewPool returns an empty allocator pool.
func NewPool() *Pool {
	return &Pool{}
}

// Init reserves a new size-byte RW slice of memory, page-rounded up.
func (p *Pool) Init(size int) (*Slice, error) {
	pageSize := unix.Getpagesize()
	size = roundUp(size, pageSize)

	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, gumex.Wrapf(err, "codealloc: mmap %d bytes failed", size)
	}

	return &Slice{
		pool: p,
		addr: sliceAddr(data),
		data: data,
		size: size,
	}, nil
}

func roundUp(n, multiple int) int {
	if multiple == 0 {
		return n
	}
	rem := n % multiple
	if rem == 0 {
		return n
	}
	return n + multiple - rem
}
