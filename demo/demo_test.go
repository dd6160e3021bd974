// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package demo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolvesToNonZeroAddresses(t *testing.T) {
	for name, fn := range Registry {
		addr := FuncAddr(fn)
		assert.NotZero(t, addr, "symbol %s", name)
	}
}

func TestReplacements_TargetsAreRegistrySymbols(t *testing.T) {
	for name := range Replacements {
		_, ok := Registry[name]
		assert.True(t, ok, "replacement %s has no matching Registry entry", name)
	}
}

func TestReplacements_AddrsDifferFromOriginal(t *testing.T) {
	for name, repl := range Replacements {
		original := Registry[name]
		require.NotEqual(t, FuncAddr(original), FuncAddr(repl), "replacement for %s", name)
	}
}

func TestDoubledAdd_MatchesAddTimesTwo(t *testing.T) {
	assert.Equal(t, Add(2, 3)*2, DoubledAdd(2, 3))
}

func TestFibonacci_BaseCasesAndRecursion(t *testing.T) {
	assert.Equal(t, 0, Fibonacci(0))
	assert.Equal(t, 1, Fibonacci(1))
	assert.Equal(t, 5, Fibonacci(5))
}

func TestGreet_FormatsName(t *testing.T) {
	assert.Equal(t, "hello, gumgo", Greet("gumgo"))
}
