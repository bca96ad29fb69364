// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opforge/opforge/internal/issue"
)

// newIDCommand creates the `opforge id` command tree.
func newIDCommand(app *App, flags *rootFlagValues) *cobra.Command {
	idCmd := &cobra.Command{
		Use:   "id",
		Short: "Look up op identities",
		Long: `Look up the stable ids that survive op renames.

Ids are recorded in each op's metadata and mirrored in the identity map
kept in the document store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	idCmd.AddCommand(&cobra.Command{
		Use:   "resolve <op-name>",
		Short: "Print the id of an op, assigning one if it has none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.open(cmd.Context(), flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			id, err := svc.ResolveID(cmd.Context(), args[0])
			if err != nil {
				return app.report(err)
			}
			fmt.Fprintln(app.stdout, id)
			return nil
		},
	})

	idCmd.AddCommand(&cobra.Command{
		Use:   "name <id>",
		Short: "Print the current name of the op with an id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.open(cmd.Context(), flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			name, ok := svc.ResolveName(cmd.Context(), args[0])
			if !ok {
				return &ExitError{Code: 1, Err: fmt.Errorf("%w: no op has id %s", issue.ErrIO, args[0])}
			}
			fmt.Fprintln(app.stdout, name)
			return nil
		},
	})

	idCmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rescan the op tree and replace the identity map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.open(cmd.Context(), flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			diags, err := svc.RebuildIdentity(cmd.Context())
			if err != nil {
				return app.report(err)
			}
			printDiagnostics(app, diags)
			fmt.Fprintf(app.stdout, "%s Identity map rebuilt\n", SuccessStyle.Render("✓"))
			return nil
		},
	})

	return idCmd
}

// printDiagnostics writes one line per diagnostic to stderr.
func printDiagnostics(app *App, diags []issue.Diagnostic) {
	for _, d := range diags {
		style := WarningStyle
		if d.Severity == issue.SeverityError {
			style = ErrorStyle
		}
		fmt.Fprintf(app.stderr, "%s %s\n", style.Render("!"), d.String())
	}
}
