// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import "syscall"

func platformFatalCases() []fatalCase {
	return []fatalCase{
		{errnoTooManyOpenFiles, true},
		{errnoInvalidHandle, true},
		{errnoNotEnoughMemory, true},
		{syscall.Errno(5), false}, // ERROR_ACCESS_DENIED
		{syscall.Errno(2), false}, // ERROR_FILE_NOT_FOUND
	}
}
