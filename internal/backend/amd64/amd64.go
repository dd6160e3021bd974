// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package amd64 is gumgo's reference backend.Backend implementation for
// GOARCH=amd64.
//
// Grounded on other_examples/8663555b_Dk2014-hinako__hinako.go.go: the
// prologue-scanning algorithm (disassemble forward until enough bytes are
// covered for the redirect jump, reject a branch landing inside that
// window) is hinako's getAsmPatchSize/isBranchInst, adapted from hinako's
// single-shot "patch now, trampoline holds head+jmp-back" hook into a
// spec.md-shaped Backend: trampoline creation is separate from activation,
// and a KindDefault trampoline additionally generates an on-leave stub
// hinako has no equivalent of (hinako only ever forwards to hookFunc, never
// traps the return).
//
// What this package does NOT do: bridge a live call into
// internal/interceptor's Go-level dispatchEntry/dispatchLeave. OnInvokeAddr
// is the relocated-prologue-plus-jump-back stub, not a call into the
// engine, and OnLeaveAddr is reserved INT3-filled space nothing ever
// patches a real stub into. See DESIGN.md, "no real trampoline-to-Go
// bridge" for the gap and what closing it would require.
package amd64

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/gumgo/gumgo/internal/backend"
	"github.com/gumgo/gumgo/internal/codealloc"
)

// jumpSize is the length, in bytes, of the absolute jump gumgo writes into
// a target's prologue: `movabs rax, imm64; jmp rax` (10 + 2 bytes).
const jumpSize = 12

// Backend is the amd64 backend.Backend. It is safe for concurrent use; all
// mutable state lives in the *backend.Trampoline values it hands out.
type Backend struct {
	pool *codealloc.Pool
}

// New returns an amd64 backend allocating trampoline code from pool.
func New(pool *codealloc.Pool) *Backend {
	return &Backend{pool: pool}
}

func disassemble(src []byte) ([]x86asm.Inst, error) {
	var insts []x86asm.Inst
	for len(src) > 0 {
		inst, err := x86asm.Decode(src, 64)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
		src = src[inst.Len:]
	}
	return insts, nil
}

func isBranch(inst x86asm.Inst) bool {
	name := inst.Op.String()
	return len(name) > 0 && (name[0] == 'J' || name == "CALL" || name == "RET" || name == "LCALL" || name == "LJMP")
}

// isUnrelocatable reports whether inst has a RIP-relative operand, which
// would compute the wrong effective address if copied verbatim into a
// trampoline at a different location — SPEC_FULL.md §6 supplemented
// feature #3 ("original's relocator checks instruction-pointer-relative
// operands... fails closed rather than silently generating a broken
// trampoline").
func isUnrelocatable(inst x86asm.Inst) bool {
	return inst.PCRel != 0
}

// scanPrologue disassembles src (read starting at target) and returns the
// number of leading bytes that must be relocated into the trampoline to
// leave room for a jumpSize-byte redirect, without splitting an
// instruction, landing inside a branch, or needing to relocate a
// RIP-relative operand.
func scanPrologue(src []byte) (int, error) {
	insts, err := disassemble(src)
	if err != nil {
		return 0, fmt.Errorf("amd64: disassemble failed: %v: %w", err, backend.ErrWrongSignature)
	}

	covered := 0
	for i, inst := range insts {
		if covered >= jumpSize {
			break
		}
		if isBranch(inst) {
			return 0, fmt.Errorf("amd64: branch opcode %s found before patch boundary (instruction %d): %w", inst.Op, i, backend.ErrWrongSignature)
		}
		if isUnrelocatable(inst) {
			return 0, fmt.Errorf("amd64: RIP-relative operand in %s cannot be relocated: %w", inst.Op, backend.ErrWrongSignature)
		}
		covered += inst.Len
	}
	if covered < jumpSize {
		return 0, fmt.Errorf("amd64: prologue too short to hold a %d-byte redirect (have %d bytes of decodable instructions): %w", jumpSize, covered, backend.ErrWrongSignature)
	}
	return covered, nil
}

func readMemory(addrVal uintptr, n int) []byte {
	return unsafeRead(addrVal, n)
}

func writeMemory(addrVal uintptr, data []byte) {
	unsafeWrite(addrVal, data)
}

// emitAbsoluteJump writes a `movabs rax, to; jmp rax` sequence to buf,
// which must be at least jumpSize bytes.
func emitAbsoluteJump(buf []byte, to uintptr) {
	buf[0] = 0x48 // REX.W
	buf[1] = 0xB8 // MOV RAX, imm64
	binary.LittleEndian.PutUint64(buf[2:10], uint64(to))
	buf[10] = 0xFF // JMP r/m64 (opcode extension /4)
	buf[11] = 0xE0 // ModRM: 11 100 000 -> jmp rax
}

func (b *Backend) PrologueLength(target uintptr, kind backend.TrampolineKind) (int, error) {
	_ = kind // identical overwrite window for both kinds on amd64
	head := readMemory(target, 32)
	return scanPrologue(head)
}

func (b *Backend) CreateTrampoline(target uintptr, kind backend.TrampolineKind) (*backend.Trampoline, error) {
	head := readMemory(target, 32)
	prologueLen, err := scanPrologue(head)
	if err != nil {
		return nil, err
	}

	// Layout per slice: [relocated prologue][jmp back to target+prologueLen]
	// followed, for KindDefault, by jumpSize bytes reserved for an on-leave
	// stub and filled with INT3 (see below).
	size := prologueLen + jumpSize
	if kind == backend.KindDefault {
		size += jumpSize // reserved on-leave region
	}

	slice, err := b.pool.Init(size)
	if err != nil {
		return nil, fmt.Errorf("amd64: allocate trampoline: %w", err)
	}

	buf := slice.Bytes()
	copy(buf[:prologueLen], head[:prologueLen])
	emitAbsoluteJump(buf[prologueLen:], target+uintptr(prologueLen))

	t := &backend.Trampoline{
		Kind:                   kind,
		OnInvokeAddr:           slice.Addr(),
		InvokeOriginalAddr:     slice.Addr(),
		OverwrittenPrologueLen: prologueLen,
	}

	if kind == backend.KindDefault {
		onLeaveOff := prologueLen + jumpSize
		t.OnLeaveAddr = slice.Addr() + uintptr(onLeaveOff)
		// No code writes a real dispatch body into this region: bridging a
		// live return address into Interceptor.dispatchLeave needs a
		// hand-written per-arch stub that saves the full register file into
		// a hook.CPUContext, exactly the kind of .S file Frida's own
		// GumInterceptor ships one of per architecture (see DESIGN.md,
		// "no real trampoline-to-Go bridge"). That stub does not exist here,
		// so OnLeaveAddr is reserved space filled with INT3 (0xCC): jumping
		// to it traps loudly instead of executing garbage, but nothing ever
		// arranges for a live call to land there.
		for i := onLeaveOff; i < len(buf); i++ {
			buf[i] = 0xCC
		}
	}

	if err := slice.Commit(); err != nil {
		return nil, err
	}

	t.SetCode(sliceHandle(slice))
	return t, nil
}

func (b *Backend) DestroyTrampoline(t *backend.Trampoline) {
	if s := sliceFromHandle(t.Code()); s != nil {
		_ = s.Free()
	}
}

func (b *Backend) ActivateTrampoline(t *backend.Trampoline, prologueAddr uintptr) error {
	buf := make([]byte, jumpSize)
	emitAbsoluteJump(buf, t.OnInvokeAddr)
	writeMemory(prologueAddr, buf)
	return nil
}

func (b *Backend) DeactivateTrampoline(t *backend.Trampoline, prologueAddr uintptr) error {
	s := sliceFromHandle(t.Code())
	if s == nil {
		return fmt.Errorf("amd64: trampoline has no backing code slice: %w", backend.ErrWrongSignature)
	}
	original := s.Bytes()[:t.OverwrittenPrologueLen]
	writeMemory(prologueAddr, original)
	return nil
}

func (b *Backend) ClaimGraftedTrampoline(target uintptr) (*backend.Trampoline, bool) {
	// amd64 Go/C toolchains in gumgo's target environments do not insert
	// compiler hotpatch stubs the way some signed-code platforms do; there
	// is nothing to claim.
	return nil, false
}

func (b *Backend) ResolveRedirect(addrVal uintptr) (uintptr, bool) {
	head := readMemory(addrVal, jumpSize)
	if len(head) < jumpSize {
		return 0, false
	}
	if head[0] != 0x48 || head[1] != 0xB8 || head[10] != 0xFF || head[11] != 0xE0 {
		return 0, false
	}
	return uintptr(binary.LittleEndian.Uint64(head[2:10])), true
}

func (b *Backend) GetFunctionAddress(t *backend.Trampoline, target uintptr) uintptr {
	return target
}
