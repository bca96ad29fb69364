// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/opforge/opforge/internal/config"
	"github.com/opforge/opforge/internal/issue"
)

// newConfigCommand creates the `opforge config` command tree.
// Subcommands that read configuration use the App's ConfigProvider.
func newConfigCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage opforge configuration",
		Long: `Manage opforge configuration.

Configuration is stored in:
  - Linux: ~/.config/opforge/config.cue
  - macOS: ~/Library/Application Support/opforge/config.cue
  - Windows: %APPDATA%\opforge\config.cue

A config.cue in the working directory is used when the config directory
has none. OPFORGE_* environment variables override file values, e.g.
OPFORGE_STORE_BACKEND=sqlite.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, flags)
		},
	})

	var initDir string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := config.CreateDefaultConfig(initDir)
			if err != nil {
				return app.report(issue.WrapWithContext(err, "create config", initDir, issue.ErrIO))
			}
			if !created {
				fmt.Fprintf(app.stdout, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
				return nil
			}
			fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initDir, "dir", "", "directory to create config.cue in (default is the config directory)")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return app.report(err)
			}
			fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
			fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context(), flags)
			if err != nil {
				return app.report(err)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, flags *rootFlagValues) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return app.report(err)
	}

	valueStyle := SuccessStyle
	line := func(key, value string) {
		fmt.Fprintf(app.stdout, "  %s %s\n", keyStyle.Render(key), valueStyle.Render(value))
	}

	fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(app.stdout)
	fmt.Fprintf(app.stdout, "%s: %s\n", OpStyle.Render("Config file"), configFileLabel(flags.configPath))
	fmt.Fprintln(app.stdout)

	line("ops_dir", string(cfg.OpsDir))
	line("environment", string(cfg.Environment))
	line("accounts_file", cfg.AccountsFile)

	fmt.Fprintf(app.stdout, "\n%s:\n", OpStyle.Render("store"))
	line("backend", string(cfg.Store.Backend))
	line("dir", string(cfg.Store.Dir))
	if cfg.Store.SQLitePath != "" {
		line("sqlite_path", cfg.Store.SQLitePath)
	}

	fmt.Fprintf(app.stdout, "\n%s:\n", OpStyle.Render("formatter"))
	line("enabled", strconv.FormatBool(cfg.Formatter.Enabled))
	if cfg.Formatter.Command != "" {
		line("command", cfg.Formatter.Command)
	}

	fmt.Fprintf(app.stdout, "\n%s:\n", OpStyle.Render("bundle"))
	line("workers", strconv.Itoa(cfg.Bundle.Workers))
	line("excl. deprec.", strconv.FormatBool(cfg.Bundle.ExcludeDeprecated))
	line("excl. old", strconv.FormatBool(cfg.Bundle.ExcludeOldVersions))
	line("excl. dev", strconv.FormatBool(cfg.Bundle.ExcludeDev))

	fmt.Fprintf(app.stdout, "\n%s:\n", OpStyle.Render("log"))
	line("level", string(cfg.Log.Level))
	return nil
}

// configFileLabel describes where configuration was read from. The provider
// does not report the resolved path, so the standard locations are probed.
func configFileLabel(explicit string) string {
	if explicit != "" {
		return explicit
	}
	name := config.ConfigFileName + "." + config.ConfigFileExt
	if cfgDir, err := config.ConfigDir(); err == nil {
		if p := filepath.Join(cfgDir, name); fileExistsCheck(p) {
			return p
		}
	}
	if fileExistsCheck(name) {
		return name
	}
	return SubtitleStyle.Render("(using defaults)")
}

// fileExistsCheck checks if a file exists and is not a directory.
func fileExistsCheck(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
