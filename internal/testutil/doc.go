// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include environment variable management (MustSetenv),
// file operations (MustMkdirAll, MustWriteFile, MustReadFile) and config
// directory isolation (SetConfigHome). Op fixtures live in the opstest
// subpackage.
package testutil
