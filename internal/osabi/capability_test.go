// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package osabi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/featuregate"
)

func TestDetectStrategy_SignedCodeRequired(t *testing.T) {
	require.Equal(t, StrategySignedCodeRequired, DetectStrategy(true, ""))
}

func TestDetectStrategy_RWXAllowed(t *testing.T) {
	if !CanAllocateRWX() {
		t.Skip("host does not permit RWX mappings")
	}
	require.Equal(t, StrategyRWXAllowed, DetectStrategy(false, ""))
}

func TestDetectStrategy_DarwinCodeSegmentBelowRWX(t *testing.T) {
	if CanAllocateRWX() {
		t.Skip("host permits RWX; code-segment branch is unreachable")
	}
	require.Equal(t, StrategyWXCodeSegment, DetectStrategy(false, "21.0.0"))
	require.Equal(t, StrategyWXSuspendAll, DetectStrategy(false, "19.0.0"))
}

func TestDetectStrategy_GateForcesWXSuspendAll(t *testing.T) {
	require.NoError(t, featuregate.GlobalRegistry().Set(wxSuspendAllGate.ID(), true))
	defer func() { _ = featuregate.GlobalRegistry().Set(wxSuspendAllGate.ID(), false) }()

	require.Equal(t, StrategyWXSuspendAll, DetectStrategy(false, "21.0.0"))
}
