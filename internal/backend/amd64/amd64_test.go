// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gumgo/gumgo/internal/backend"
)

// push rbp; mov rbp, rsp; sub rsp, 0x20; mov [rbp-8], rdi; mov [rbp-0x10], rsi
var plainPrologue = []byte{
	0x55,                                     // push rbp
	0x48, 0x89, 0xe5,                         // mov rbp, rsp
	0x48, 0x83, 0xec, 0x20,                   // sub rsp, 0x20
	0x48, 0x89, 0x7d, 0xf8,                   // mov [rbp-8], rdi
	0x48, 0x89, 0x75, 0xf0,                   // mov [rbp-0x10], rsi
	0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, // padding
}

func TestScanPrologue_Plain(t *testing.T) {
	n, err := scanPrologue(plainPrologue)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, jumpSize)
	require.LessOrEqual(t, n, len(plainPrologue))
}

func TestScanPrologue_TooShort(t *testing.T) {
	short := []byte{0x55} // push rbp: 1 byte, too short for the redirect
	_, err := scanPrologue(short)
	require.ErrorIs(t, err, backend.ErrWrongSignature)
}

func TestScanPrologue_BranchInWindow(t *testing.T) {
	// push rbp; jmp short +2
	src := []byte{0x55, 0xeb, 0x02, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90}
	_, err := scanPrologue(src)
	require.ErrorIs(t, err, backend.ErrWrongSignature)
}

func TestScanPrologue_RIPRelativeRejected(t *testing.T) {
	// lea rax, [rip+0x100] ; encoded 48 8D 05 00 01 00 00
	src := append([]byte{0x48, 0x8d, 0x05, 0x00, 0x01, 0x00, 0x00}, make([]byte, 16)...)
	_, err := scanPrologue(src)
	require.ErrorIs(t, err, backend.ErrWrongSignature)
}

func TestIsBranch(t *testing.T) {
	insts, err := disassemble([]byte{0xc3}) // ret
	require.NoError(t, err)
	require.True(t, isBranch(insts[0]))

	insts, err = disassemble([]byte{0x90}) // nop
	require.NoError(t, err)
	require.False(t, isBranch(insts[0]))
}

func TestEmitAbsoluteJump_RoundTrips(t *testing.T) {
	buf := make([]byte, jumpSize)
	want := uintptr(0x0102030405060708)
	emitAbsoluteJump(buf, want)

	require.Equal(t, byte(0x48), buf[0])
	require.Equal(t, byte(0xB8), buf[1])
	require.Equal(t, byte(0xFF), buf[10])
	require.Equal(t, byte(0xE0), buf[11])

	got, ok := decodeJumpTarget(buf)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestResolveRedirect_RejectsNonJump(t *testing.T) {
	_, ok := decodeJumpTarget(plainPrologue)
	require.False(t, ok)
}

// decodeJumpTarget mirrors ResolveRedirect's byte-pattern check without
// going through process memory, so the jump encoding itself is covered
// independent of unsafeRead.
func decodeJumpTarget(buf []byte) (uintptr, bool) {
	if len(buf) < jumpSize {
		return 0, false
	}
	if buf[0] != 0x48 || buf[1] != 0xB8 || buf[10] != 0xFF || buf[11] != 0xE0 {
		return 0, false
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[2+i]) << (8 * i)
	}
	return uintptr(v), true
}
