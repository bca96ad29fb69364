// SPDX-License-Identifier: MPL-2.0

package issue

import "errors"

var (
	// ErrValidation marks malformed names and grammar violations. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrPermission marks failed rights checks. Never retried, no partial effect.
	ErrPermission = errors.New("permission denied")
	// ErrConflict marks existing targets and duplicate ids or names.
	ErrConflict = errors.New("conflict")
	// ErrIO marks missing files and unreadable directories.
	ErrIO = errors.New("i/o error")
	// ErrFormat marks fatal formatter diagnostics.
	ErrFormat = errors.New("format error")
)

// CategoryName returns a short label for a taxonomy sentinel found in err's
// chain, or "error" when none matches.
func CategoryName(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "error"
	}
}
