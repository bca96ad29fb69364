// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import "syscall"

func platformFatalCases() []fatalCase {
	return []fatalCase{
		{syscall.ENOSPC, true},
		{syscall.EMFILE, true},
		{syscall.ENFILE, true},
		{syscall.EPERM, false},
		{syscall.EACCES, false},
	}
}
