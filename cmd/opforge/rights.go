// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRightsCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "rights <op-name>",
		Short: "Show what a user may do with an op",
		Long: `Show the read, write, create and delete rights a user has on an op.

The user comes from --user and the project from --project; patch ops use
the project encoded in their name. Without --user the anonymous user is
checked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.open(cmd.Context(), flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			actor, err := app.actor(svc, flags)
			if err != nil {
				return app.report(err)
			}
			r, err := svc.CheckRights(actor, args[0])
			if err != nil {
				return app.report(err)
			}

			if asJSON {
				enc := json.NewEncoder(app.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			who := "anonymous"
			if actor.User != nil {
				who = actor.User.Username
			}
			fmt.Fprintf(app.stdout, "%s %s %s\n", TitleStyle.Render("Rights of"), who, OpStyle.Render("on "+args[0]))
			fmt.Fprintf(app.stdout, "  %s %s\n", keyStyle.Render("read"), check(r.Read))
			fmt.Fprintf(app.stdout, "  %s %s\n", keyStyle.Render("write"), check(r.Write))
			fmt.Fprintf(app.stdout, "  %s %s\n", keyStyle.Render("create"), check(r.Create))
			fmt.Fprintf(app.stdout, "  %s %s\n", keyStyle.Render("delete"), check(r.Delete))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the rights as JSON")
	return cmd
}
