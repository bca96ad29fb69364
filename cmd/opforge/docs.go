// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/opforge/opforge/internal/doccache"
)

const markdownWidth = 80

// newDocsCommand creates the `opforge docs` command tree.
func newDocsCommand(app *App, flags *rootFlagValues) *cobra.Command {
	docsCmd := &cobra.Command{
		Use:   "docs",
		Short: "Show op documentation",
		Long: `Show op documentation built from op metadata and Markdown docs.

Docs are cached per collection in the document store and rebuilt when
ops change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var raw bool
	showCmd := &cobra.Command{
		Use:   "show <op-name>",
		Short: "Show the doc of an op",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.open(cmd.Context(), flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			doc, err := svc.GetDoc(cmd.Context(), args[0])
			if err != nil {
				return app.report(err)
			}
			md, err := svc.ReadMarkdown(args[0])
			if err != nil {
				return app.report(err)
			}

			page := docMarkdown(doc, md)
			if raw {
				fmt.Fprint(app.stdout, page)
				return nil
			}
			rendered, err := renderMarkdown(page)
			if err != nil {
				app.logger.Debug("markdown rendering failed, printing raw", "error", err)
				rendered = page
			}
			fmt.Fprint(app.stdout, rendered)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&raw, "raw", false, "print Markdown without rendering it")
	docsCmd.AddCommand(showCmd)

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List the docs of every op in a collection",
		Example: `  opforge docs list Ops
  opforge docs list Ops.User.alice --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.open(cmd.Context(), flags)
			if err != nil {
				return app.report(err)
			}
			defer app.closeService(svc)

			coll, err := svc.GetCollectionDocs(cmd.Context(), args[0])
			if err != nil {
				return app.report(err)
			}
			printDiagnostics(app, coll.Diagnostics)
			if asJSON {
				enc := json.NewEncoder(app.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(coll)
			}
			printCollection(app.stdout, coll)
			return nil
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print the collection as JSON")
	docsCmd.AddCommand(listCmd)

	return docsCmd
}

func renderMarkdown(md string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(markdownWidth),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}

// docMarkdown lays out doc as a Markdown page followed by the op's own
// Markdown doc, when it has one.
func docMarkdown(doc *doccache.Doc, md []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.ShortName)
	if doc.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", doc.Summary)
	}

	fmt.Fprintf(&b, "- **Name:** `%s`\n", doc.Name)
	fmt.Fprintf(&b, "- **Id:** `%s`\n", doc.ID)
	fmt.Fprintf(&b, "- **Category:** %s\n", doc.Category)
	if doc.Version > 0 {
		fmt.Fprintf(&b, "- **Version:** %d\n", doc.Version)
	}
	if doc.Author != "" {
		fmt.Fprintf(&b, "- **Author:** %s\n", doc.Author)
	}
	var flags []string
	if doc.Deprecated {
		flags = append(flags, "deprecated")
	}
	if doc.DevOnly {
		flags = append(flags, "dev only")
	}
	if doc.Superseded {
		flags = append(flags, "superseded by a newer version")
	}
	if len(flags) > 0 {
		fmt.Fprintf(&b, "- **Status:** %s\n", strings.Join(flags, ", "))
	}
	if libs := append(append([]string{}, doc.CoreLibs...), doc.Libs...); len(libs) > 0 {
		fmt.Fprintf(&b, "- **Libraries:** %s\n", strings.Join(libs, ", "))
	}
	if len(doc.Attachments) > 0 {
		fmt.Fprintf(&b, "- **Attachments:** %s\n", strings.Join(doc.Attachments, ", "))
	}

	if len(md) > 0 {
		b.WriteString("\n")
		b.Write(md)
		if md[len(md)-1] != '\n' {
			b.WriteString("\n")
		}
	}

	if len(doc.Changelog) > 0 {
		b.WriteString("\n## Changelog\n\n")
		for _, e := range doc.Changelog {
			date := time.UnixMilli(e.Date).UTC().Format(time.DateOnly)
			if e.Author != "" {
				fmt.Fprintf(&b, "- %s %s (%s)\n", date, e.Message, e.Author)
			} else {
				fmt.Fprintf(&b, "- %s %s\n", date, e.Message)
			}
		}
	}
	return b.String()
}

func printCollection(w io.Writer, coll *doccache.Collection) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render(coll.Name), SubtitleStyle.Render("("+strconv.Itoa(len(coll.Docs))+" ops)"))
	for _, d := range coll.Docs {
		name := OpStyle.Render(d.Name)
		switch {
		case d.Deprecated, d.Superseded:
			name = SubtitleStyle.Render(d.Name)
		case d.DevOnly:
			name = WarningStyle.Render(d.Name)
		}
		if d.Summary != "" {
			fmt.Fprintf(w, "  %s  %s\n", name, VerboseStyle.Render(d.Summary))
		} else {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}
