// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package osabi

import (
	hashiversion "github.com/hashicorp/go-version"
	"go.opentelemetry.io/collector/featuregate"
)

// wxSuspendAllGate forces StrategyWXSuspendAll even on a host that would
// otherwise qualify for StrategyRWXAllowed or StrategyWXCodeSegment, the
// same kind of override the teacher project uses featuregate for when
// deciding which of its own instrumentation code paths to exercise.
// Enabling it makes DetectStrategy choose the thread-suspend commit path
// regardless of what the host's memory model allows; osabi's own test
// enables it to check exactly that.
var wxSuspendAllGate = featuregate.GlobalRegistry().MustRegister(
	"gumgo.wxSuspendAll",
	featuregate.StageAlpha,
	featuregate.WithRegisterDescription("force the W^X-without-code-segment commit strategy regardless of host capability"),
)

// darwinCodeSegmentSince is the Darwin kernel release (uname -r major
// version) at which MAP_JIT-based code-segment remapping became available
// for non-JIT-entitled processes, the same sort of version-gated capability
// check the teacher project uses go-version for when deciding which Go
// toolchain features a build may rely on.
var darwinCodeSegmentSince = hashiversion.Must(hashiversion.NewVersion("20.0.0"))

// DetectStrategy chooses one of spec.md §4.3's four page-update strategies
// for the running host. signedCodeRequired and darwinKernelRelease are
// supplied by the caller (osabi has no portable way to query either itself);
// on Linux callers pass signedCodeRequired=false and an empty release.
func DetectStrategy(signedCodeRequired bool, darwinKernelRelease string) Strategy {
	if wxSuspendAllGate.IsEnabled() {
		return StrategyWXSuspendAll
	}
	if signedCodeRequired {
		return StrategySignedCodeRequired
	}
	if CanAllocateRWX() {
		return StrategyRWXAllowed
	}
	if darwinKernelRelease != "" {
		if rel, err := hashiversion.NewVersion(darwinKernelRelease); err == nil && rel.GreaterThanOrEqual(darwinCodeSegmentSince) {
			return StrategyWXCodeSegment
		}
	}
	return StrategyWXSuspendAll
}
