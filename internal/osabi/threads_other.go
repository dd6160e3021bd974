// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package osabi

import "github.com/gumgo/gumgo/internal/gumex"

// CurrentThreadID, ThreadIDs, SuspendThread and ResumeThread have no
// non-Linux implementation in this module: on other GOOS values
// CurrentThreadID always returns 0 and the other three return an error.

func CurrentThreadID() int { return 0 }

func ThreadIDs() ([]int, error) {
	return nil, gumex.New("osabi: ThreadIDs unimplemented on this GOOS")
}

func SuspendThread(tid int) error {
	return gumex.New("osabi: SuspendThread unimplemented on this GOOS")
}

func ResumeThread(tid int) error {
	return gumex.New("osabi: ResumeThread unimplemented on this GOOS")
}
