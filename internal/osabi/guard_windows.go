// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package osabi

// On Windows, GetLastError is itself a candidate for interception on some
// call stacks, so it must be read before the guard TLS value is set —
// otherwise a hook on GetLastError triggered while capturing it would
// recurse through a guard that isn't armed yet. spec.md §9(a).
const errnoReadBeforeGuard = true
