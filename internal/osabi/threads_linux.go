// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package osabi

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/gumgo/gumgo/internal/gumex"
)

// CurrentThreadID returns the OS thread id of the calling OS thread. A
// goroutine must be locked to its OS thread (runtime.LockOSThread) for this
// to be a meaningful, stable identity across calls.
func CurrentThreadID() int {
	return unix.Gettid()
}

// ThreadIDs enumerates every OS thread in the current process, by reading
// /proc/self/task — the standard Linux thread-enumeration mechanism, used
// in place of a syscall because Linux has no single syscall for "list my
// threads".
func ThreadIDs() ([]int, error) {
	entries, err := os.ReadDir("/proc/self/task")
	if err != nil {
		return nil, gumex.Wrap(err)
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, tid)
	}
	return ids, nil
}

// SuspendThread asks the kernel to stop tid with SIGSTOP. The caller is
// responsible for confirming (e.g. by polling /proc/<pid>/task/<tid>/stat)
// that the thread has actually stopped before touching memory it might be
// executing, since SIGSTOP delivery is not synchronous.
func SuspendThread(tid int) error {
	if err := unix.Tgkill(os.Getpid(), tid, unix.SIGSTOP); err != nil {
		return gumex.Wrapf(err, "osabi: suspend thread %d", tid)
	}
	return nil
}

// ResumeThread resumes a thread suspended with SuspendThread.
func ResumeThread(tid int) error {
	if err := unix.Tgkill(os.Getpid(), tid, unix.SIGCONT); err != nil {
		return gumex.Wrapf(err, "osabi: resume thread %d", tid)
	}
	return nil
}
