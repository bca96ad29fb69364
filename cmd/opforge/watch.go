// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opforge/opforge/internal/engine"
)

func newWatchCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow op tree changes and keep caches fresh",
		Long: `Watch the op tree and the identity map until interrupted.

Docs of changed ops are dropped from the cache, and changes to the
identity map made by other processes are picked up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := app.open(ctx, flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			fmt.Fprintf(app.stdout, "%s Watching %s for changes (Ctrl+C to stop)...\n",
				OpStyle.Render("→"), svc.Config().OpsDir)
			err = svc.Watch(ctx, func(change engine.OpsChange) {
				fmt.Fprintf(app.stdout, "%s Changed: %s\n", OpStyle.Render("→"), strings.Join(change.Ops, ", "))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return app.report(err)
			}
			return nil
		},
	}
}
