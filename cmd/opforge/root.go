// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/opforge/opforge/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the opforge command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlagValues{}

	rootCmd := &cobra.Command{
		Use:   "opforge",
		Short: "Manage the ops of a visual programming editor",
		Long: TitleStyle.Render("opforge") + SubtitleStyle.Render(" - op identity, renames, bundles and docs") + `

opforge works on an op tree: one directory per op holding its source,
metadata, Markdown doc and attachments. Ops are named like
Ops.Gl.Blur, Ops.User.<name>.Foo or Ops.Team.<team>.Foo and keep a
stable id across renames.

` + SubtitleStyle.Render("Examples:") + `
  opforge name Ops.Gl.Blur_v2              Inspect an op name
  opforge id resolve Ops.Gl.Blur           Print (or assign) an op's id
  opforge rights --user alice Ops.User.alice.Foo
  opforge rename --dry-run Ops.User.alice.Foo Ops.User.alice.Bar
  opforge bundle -o ops.js Ops.Gl.Blur Ops.Gl.Sharpen
  opforge docs show Ops.Gl.Blur
  opforge config show                      Show current configuration`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVar(&flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/opforge/config.cue)")
	pf.StringVar(&flags.opsDir, "ops-dir", "", "op tree root (overrides ops_dir)")
	pf.StringVarP(&flags.user, "user", "u", "", "act as this user (id or username from the accounts file)")
	pf.StringVarP(&flags.project, "project", "p", "", "act from within this project (short id)")

	rootCmd.AddCommand(
		newNameCommand(app),
		newVersionsCommand(app, flags),
		newIDCommand(app, flags),
		newRightsCommand(app, flags),
		newRenameCommand(app, flags),
		newNewCommand(app, flags),
		newBundleCommand(app, flags),
		newDocsCommand(app, flags),
		newWatchCommand(app, flags),
		newConfigCommand(app, flags),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version != "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev (built from source)"
}

// Execute builds the command tree and runs it. It is called by main.main().
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}

	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
