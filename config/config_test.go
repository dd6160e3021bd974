// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `
hooks:
  - symbol: main.doWork
    kind: listener
  - symbol: libc.so.6!malloc
    module: libc.so.6
    kind: replace
    ignore_errors: true
`

func TestParse_Valid(t *testing.T) {
	doc, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	require.Len(t, doc.Hooks, 2)

	assert.Equal(t, "main.doWork", doc.Hooks[0].Symbol)
	assert.Equal(t, KindListener, doc.Hooks[0].Kind)
	assert.False(t, doc.Hooks[0].IgnoreErrors)

	assert.Equal(t, "libc.so.6", doc.Hooks[1].Module)
	assert.Equal(t, KindReplace, doc.Hooks[1].Kind)
	assert.True(t, doc.Hooks[1].IgnoreErrors)
}

func TestParse_MissingSymbol(t *testing.T) {
	_, err := Parse([]byte("hooks:\n  - kind: listener\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol")
}

func TestParse_InvalidKind(t *testing.T) {
	_, err := Parse([]byte("hooks:\n  - symbol: foo\n    kind: bogus\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kind")
}

func TestParse_EmptyDocument(t *testing.T) {
	doc, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, doc.Hooks)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/hooks.yaml")
	require.Error(t, err)
}
