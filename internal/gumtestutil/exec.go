// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

// Package gumtestutil holds small test helpers shared across gumgo's test
// suites, chiefly the subprocess self-test harness used to assert that an
// Assert/Fatal helper actually aborts the process.
package gumtestutil

import (
	"bytes"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// RunSelfTest re-executes the current test binary with -test.run=testName
// and env=1 set, capturing combined output. Used to observe the exit code
// and output of a test that calls os.Exit or panics, without crashing the
// outer test process itself.
func RunSelfTest(t *testing.T, testName, env string) (int, string) {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	cmd := exec.Command(exe, "-test.run="+testName)
	cmd.Env = append(os.Environ(), env+"=1")

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	_ = cmd.Run()
	return cmd.ProcessState.ExitCode(), out.String()
}
