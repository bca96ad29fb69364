// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// Errors carry the operation that failed, the op or file involved, remediation
// suggestions and a category from the error taxonomy (validation, permission,
// conflict, I/O, format). Categories are sentinel errors, so callers branch
// with errors.Is:
//
//	if errors.Is(err, issue.ErrPermission) { ... }
//
// Non-fatal findings (skipped ops, duplicate identities) are returned as
// Diagnostic values rather than written to stderr. The catalog in this
// package holds Markdown guidance per issue, rendered by the CLI.
package issue
