// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/opforge/opforge/internal/engine"
	"github.com/opforge/opforge/internal/rename"
)

type renameFlagValues struct {
	dryRun           bool
	keepSource       bool
	ignoreVersionGap bool
	newID            bool
	format           bool
}

func newRenameCommand(app *App, flags *rootFlagValues) *cobra.Command {
	rf := &renameFlagValues{}

	cmd := &cobra.Command{
		Use:   "rename <old-name> <new-name>",
		Short: "Rename, move or copy an op",
		Long: `Rename an op, moving its directory, files and identity to the new name.

The rename is planned first: name rules, rights, conflicts and version
gaps are all checked and reported together. Nothing is touched unless the
plan has no problems.

With --keep-source the op is copied instead and the copy gets a new id.
Moves into an extension namespace are always copies.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := app.open(ctx, flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			actor, err := app.actor(svc, flags)
			if err != nil {
				return app.report(err)
			}
			plan := svc.PlanRename(ctx, actor, engine.RenameRequest{
				OldName:          args[0],
				NewName:          args[1],
				IgnoreVersionGap: rf.ignoreVersionGap,
				NewID:            rf.newID,
			})
			printPlan(app.stdout, plan)
			if !plan.OK() {
				return &ExitError{Code: 1, Err: app.report(plan.Err())}
			}
			if rf.dryRun {
				return nil
			}

			x, err := svc.ExecuteRename(ctx, plan, rename.ExecOptions{
				RemoveSource: !rf.keepSource,
				Format:       rf.format,
			})
			for _, line := range x.Log {
				fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("✓"), VerboseStyle.Render(line))
			}
			if err != nil {
				fmt.Fprintln(app.stderr, ErrorStyle.Render("Rename stopped: ")+formatErrorForDisplay(err, flags.verbose))
				return &ExitError{Code: 1, Err: app.report(err)}
			}
			fmt.Fprintf(app.stdout, "%s %s is now %s (id %s)\n",
				SuccessStyle.Render("✓"), args[0], OpStyle.Render(args[1]), OpStyle.Render(x.ID))
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&rf.dryRun, "dry-run", "n", false, "plan the rename and report without touching files")
	f.BoolVar(&rf.keepSource, "keep-source", false, "copy the op and keep the original")
	f.BoolVar(&rf.ignoreVersionGap, "ignore-version-gap", false, "allow skipping versions")
	f.BoolVar(&rf.newID, "new-id", false, "give the target a fresh id")
	f.BoolVar(&rf.format, "format", false, "run the source and code attachments through the formatter")
	return cmd
}

func newNewCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var ignoreVersionGap bool

	cmd := &cobra.Command{
		Use:   "new <op-name>",
		Short: "Check whether an op may be created under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := app.open(ctx, flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			actor, err := app.actor(svc, flags)
			if err != nil {
				return app.report(err)
			}
			plan := svc.PlanRename(ctx, actor, engine.RenameRequest{NewName: args[0], IgnoreVersionGap: ignoreVersionGap})
			printPlan(app.stdout, plan)
			if !plan.OK() {
				return &ExitError{Code: 1, Err: app.report(plan.Err())}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreVersionGap, "ignore-version-gap", false, "allow skipping versions")
	return cmd
}

func printPlan(w io.Writer, plan *rename.Plan) {
	req := plan.Request
	if req.OldName == "" {
		fmt.Fprintf(w, "%s %s\n", TitleStyle.Render("Create"), OpStyle.Render(req.NewName))
	} else {
		verb := "Rename"
		if plan.CopyOnly {
			verb = "Copy"
		}
		fmt.Fprintf(w, "%s %s -> %s\n", TitleStyle.Render(verb), OpStyle.Render(req.OldName), OpStyle.Render(req.NewName))
	}

	for _, p := range plan.Problems {
		fmt.Fprintf(w, "  %s %s\n", ErrorStyle.Render("✗"), p.Message)
	}
	if plan.SuggestedName != "" {
		fmt.Fprintf(w, "  %s try %s\n", WarningStyle.Render("→"), OpStyle.Render(plan.SuggestedName))
	}
	for _, h := range plan.Hints {
		fmt.Fprintf(w, "  %s %s\n", WarningStyle.Render("•"), h)
	}
	for _, c := range plan.Consequences {
		fmt.Fprintf(w, "  %s %s\n", SubtitleStyle.Render("•"), SubtitleStyle.Render(c))
	}
	if plan.OK() {
		fmt.Fprintf(w, "  %s no problems\n", SuccessStyle.Render("✓"))
	}
}
