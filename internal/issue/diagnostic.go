// SPDX-License-Identifier: MPL-2.0

package issue

import "fmt"

const (
	// SeverityWarning indicates a recoverable warning.
	SeverityWarning Severity = "warning"
	// SeverityError indicates a non-fatal error diagnostic (the surrounding
	// operation still completed, minus the affected item).
	SeverityError Severity = "error"
)

const (
	// CodeDuplicateID is reported when two op directories claim the same id.
	CodeDuplicateID = "duplicate_id"
	// CodeDuplicateName is reported when one name resolves to two ids.
	CodeDuplicateName = "duplicate_name"
	// CodeOpSkipped is reported when an op is left out of a bundle or doc rebuild.
	CodeOpSkipped = "op_skipped"
	// CodeOpFiltered is reported when a bundle filter drops an op.
	CodeOpFiltered = "op_filtered"
	// CodeNotAnOp is reported for directories without usable metadata.
	CodeNotAnOp = "not_an_op"
	// CodeStoreUnreadable is reported when a persisted document cannot be read.
	CodeStoreUnreadable = "store_unreadable"
	// CodeAttachmentShadowed is reported when two attachments of an op map to
	// the same bundle key and the later one is dropped.
	CodeAttachmentShadowed = "attachment_shadowed"
	// CodeDirUnreadable is reported when a directory of the op tree cannot be listed.
	CodeDirUnreadable = "dir_unreadable"
)

type (
	// Severity represents diagnostic severity.
	Severity string

	// Diagnostic represents a structured, non-fatal finding returned to
	// callers (rather than written to stderr) for consistent rendering policy.
	Diagnostic struct {
		// Severity is the diagnostic level (warning or error).
		Severity Severity
		// Code is a machine-readable identifier (e.g., "duplicate_id").
		Code string
		// Message is the human-readable description.
		Message string
		// Path is the op name or file path associated with this diagnostic (optional).
		Path string
		// Cause is the underlying error (optional, for programmatic inspection).
		Cause error
	}
)

// NewDiagnostic creates a Diagnostic.
func NewDiagnostic(severity Severity, code, message, path string, cause error) Diagnostic {
	return Diagnostic{
		Severity: severity,
		Code:     code,
		Message:  message,
		Path:     path,
		Cause:    cause,
	}
}

// String renders the diagnostic on one line.
func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s [%s] %s", d.Severity, d.Code, d.Message)
	if d.Path != "" {
		s += " (" + d.Path + ")"
	}
	if d.Cause != nil {
		s += ": " + d.Cause.Error()
	}
	return s
}
