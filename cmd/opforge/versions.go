// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionsCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var nextOnly bool

	cmd := &cobra.Command{
		Use:   "versions <op-name>",
		Short: "List the versions of an op and the next free version name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.open(cmd.Context(), flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			next, err := svc.NextVersionName(args[0])
			if err != nil {
				return app.report(err)
			}
			if nextOnly {
				fmt.Fprintln(app.stdout, next)
				return nil
			}

			versions, err := svc.Versions(args[0])
			if err != nil {
				return app.report(err)
			}
			if len(versions) == 0 {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("(no versions in the op tree)"))
			}
			for _, v := range versions {
				fmt.Fprintf(app.stdout, "  %s %s\n", keyStyle.Render(fmt.Sprintf("v%d", v.Version)), OpStyle.Render(v.Name))
			}
			fmt.Fprintf(app.stdout, "%s %s\n", TitleStyle.Render("next:"), OpStyle.Render(next))
			return nil
		},
	}
	cmd.Flags().BoolVar(&nextOnly, "next", false, "print only the next free version name")
	return cmd
}
