// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads declarative hook specifications from YAML, the
// ambient configuration-loading concern SPEC_FULL.md §4.11 adds: a host can
// list which symbols to intercept without recompiling against
// internal/interceptor directly. Grounded on
// tool/internal/rule/loader.go's ParseEmbeddedRule + raw_rule.go's
// yaml-tagged rule struct shape, narrowed from the teacher's four rule
// kinds (struct/file/raw/func injection) to gumgo's two (listener/replace).
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gumgo/gumgo/internal/gumex"
)

// HookKind selects what a HookSpec asks the interceptor to do at its
// resolved address.
type HookKind string

const (
	// KindListener attaches a non-exclusive listener (interceptor.Attach).
	KindListener HookKind = "listener"
	// KindReplace installs an exclusive replacement (interceptor.Replace).
	KindReplace HookKind = "replace"
)

// HookSpec is one declarative hook target, decoded from a YAML document's
// top-level list.
type HookSpec struct {
	// Symbol is the exported symbol name to resolve, e.g. "main.doWork" or
	// "libc.so.6!malloc" — resolution itself is the host's job; gumgo's
	// core never looks up symbols by name (SPEC_FULL.md §4.11).
	Symbol string `yaml:"symbol"`
	// Module restricts resolution to a specific shared object or binary;
	// empty means "the main executable".
	Module string `yaml:"module"`
	// Kind selects listener or replace semantics.
	Kind HookKind `yaml:"kind"`
	// IgnoreErrors makes a failed attach/replace for this one spec a
	// logged warning instead of aborting the whole load.
	IgnoreErrors bool `yaml:"ignore_errors"`
}

// Document is the top-level shape of a hook spec YAML file: a named list of
// hooks, mirroring the teacher's top-level `map[string]map[string]any` rule
// document but with a fixed, typed schema since gumgo has only two hook
// kinds rather than the teacher's open-ended rule fields.
type Document struct {
	Hooks []HookSpec `yaml:"hooks"`
}

// Load reads and decodes a hook spec document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gumex.Wrapf(err, "config: read %q", path)
	}
	return Parse(data)
}

// Parse decodes a hook spec document from raw YAML bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, gumex.Wrapf(err, "config: decode hook spec")
	}
	for i, h := range doc.Hooks {
		if h.Symbol == "" {
			return nil, gumex.Newf("config: hooks[%d] missing required field %q", i, "symbol")
		}
		switch h.Kind {
		case KindListener, KindReplace:
		default:
			return nil, gumex.Newf("config: hooks[%d] (%s) has invalid kind %q, want %q or %q", i, h.Symbol, h.Kind, KindListener, KindReplace)
		}
	}
	return &doc, nil
}
