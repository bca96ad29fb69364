// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opforge/opforge/internal/bundle"
	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/pkg/opname"
)

type bundleFlagValues struct {
	output             string
	collection         string
	categories         []string
	excludeDeprecated  bool
	excludeDev         bool
	excludeOldVersions bool
}

func newBundleCommand(app *App, flags *rootFlagValues) *cobra.Command {
	bf := &bundleFlagValues{}

	cmd := &cobra.Command{
		Use:   "bundle [op-name...]",
		Short: "Assemble ops into one loadable script",
		Long: `Assemble the sources, attachments and includes of ops into one script
that declares their namespaces and registers every op under its id.

Ops are taken from the arguments in order, or from --collection. Ops that
cannot be read are skipped and reported; the bundle fails only when
nothing is left. Filter flags default to the bundle section of the config.`,
		Example: `  opforge bundle Ops.Gl.Blur Ops.Gl.Sharpen
  opforge bundle --collection Ops.Team.Design -o design.js
  opforge bundle --collection Ops --category core --exclude-old-versions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (bf.collection == "") {
				return errors.New("pass op names or --collection, not both")
			}

			ctx := cmd.Context()
			svc, err := app.open(ctx, flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			filter := svc.DefaultBundleFilter()
			fs := cmd.Flags()
			if fs.Changed("exclude-deprecated") {
				filter.ExcludeDeprecated = bf.excludeDeprecated
			}
			if fs.Changed("exclude-dev") {
				filter.ExcludeDevOnly = bf.excludeDev
			}
			if fs.Changed("exclude-old-versions") {
				filter.ExcludeSuperseded = bf.excludeOldVersions
			}
			for _, c := range bf.categories {
				category := opname.Category(c)
				if err := category.Validate(); err != nil {
					return app.report(issue.WrapWithContext(err, "parse --category", c, issue.ErrValidation))
				}
				filter.Categories = append(filter.Categories, category)
			}

			var res *bundle.Result
			if bf.collection != "" {
				res, err = svc.BuildCollectionBundle(ctx, bf.collection, filter)
			} else {
				res, err = svc.BuildBundle(ctx, args, filter)
			}
			if res != nil {
				printDiagnostics(app, res.Diagnostics)
			}
			if err != nil {
				return app.report(err)
			}

			if bf.output == "" || bf.output == "-" {
				fmt.Fprint(app.stdout, res.Source)
				return nil
			}
			if err := os.WriteFile(bf.output, []byte(res.Source), 0o644); err != nil {
				return app.report(issue.WrapWithContext(err, "write bundle", bf.output, issue.ErrIO))
			}
			fmt.Fprintf(app.stderr, "%s Bundled %d op(s) into %s\n", SuccessStyle.Render("✓"), len(res.Included), bf.output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&bf.output, "output", "o", "", "write the bundle to this file instead of stdout")
	f.StringVarP(&bf.collection, "collection", "c", "", "bundle every op of this collection (e.g. Ops, Ops.Team.Design)")
	f.StringSliceVar(&bf.categories, "category", nil, "keep only ops of these categories (core, admin, user, team, extension, patch)")
	f.BoolVar(&bf.excludeDeprecated, "exclude-deprecated", false, "drop deprecated ops")
	f.BoolVar(&bf.excludeDev, "exclude-dev", false, "drop dev-only ops")
	f.BoolVar(&bf.excludeOldVersions, "exclude-old-versions", false, "drop ops superseded by a newer version in the bundle")
	return cmd
}
