// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/pkg/opname"
)

func newNameCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "name <op-name>...",
		Short: "Validate and inspect op names",
		Long: `Validate op names and show what they encode: category, namespace,
version and the deprecated and dev-only markers.

Exits with status 1 when any name is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invalid := 0
			for i, name := range args {
				if i > 0 {
					fmt.Fprintln(app.stdout)
				}
				if err := opname.Name(name).Validate(); err != nil {
					invalid++
					fmt.Fprintf(app.stdout, "%s %s\n", check(false), OpStyle.Render(name))
					fmt.Fprintf(app.stdout, "  %s\n", ErrorStyle.Render(err.Error()))
					continue
				}
				printName(app.stdout, name)
			}
			if invalid > 0 {
				err := fmt.Errorf("%w: %d of %d name(s) invalid", issue.ErrValidation, invalid, len(args))
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}
}

func printName(w io.Writer, name string) {
	fmt.Fprintf(w, "%s %s\n", check(true), OpStyle.Render(name))
	field := func(key, value string) {
		if value == "" {
			value = SubtitleStyle.Render("-")
		}
		fmt.Fprintf(w, "  %s %s\n", keyStyle.Render(key), value)
	}
	field("category", string(opname.Classify(name)))
	field("short name", opname.ShortName(name))
	field("namespace", opname.NamespaceOf(name))
	field("collection", opname.CollectionOf(name))
	field("owner", opname.Owner(name))
	field("version", strconv.Itoa(opname.VersionOf(name)))
	field("deprecated", strconv.FormatBool(opname.IsDeprecated(name)))
	field("dev only", strconv.FormatBool(opname.IsDevOnly(name)))
	field("namespaces", strings.Join(opname.NamespaceChain(name), " > "))
}
