// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/opforge/opforge/internal/issue"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. When the CLI layer receives a ServiceError, it renders the
// catalog help for IssueID before the error itself is printed.
// Always create via newServiceError to enforce the Err-must-be-non-nil invariant.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// report attaches the catalog entry matching err's category and renders it
// to stderr. It returns nil for a nil err.
func (a *App) report(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		var id issue.Id
		if entry := issue.ForError(err); entry != nil {
			id = entry.Id()
		}
		svcErr = newServiceError(err, id)
	}
	renderServiceError(a.stderr, svcErr, a.logger)
	return svcErr
}

// renderServiceError prints the optional issue help section.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, logger *log.Logger) {
	if svcErr == nil || svcErr.IssueID == 0 {
		return
	}
	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render("dark")
		if renderErr != nil {
			logger.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", renderErr)
			return
		}
		fmt.Fprint(stderr, rendered)
	}
}
