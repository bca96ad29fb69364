// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "opforge"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides: OPFORGE_STORE_BACKEND sets store.backend.
	EnvPrefix = "OPFORGE"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the opforge configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// Load resolves and loads the configuration, returning the path of the
// file it was read from ("" when only defaults and environment applied).
//
// Lookup order: opts.ConfigFilePath, then config.cue in the config
// directory, then ./config.cue. OPFORGE_* environment variables override
// file values.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""

	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithCategory(issue.ErrIO).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'opforge config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}
		for _, candidate := range []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			ConfigFileName + "." + ConfigFileExt,
		} {
			if fileExists(candidate) {
				resolvedPath = candidate
				break
			}
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithCategory(issue.ErrValidation).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'opforge config init' to write a fresh config file").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment overrides bypass the CUE schema, so validate the result.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithCategory(issue.ErrValidation).
			WithSuggestion("Check OPFORGE_* environment variables for typos").
			Wrap(errors.Join(append(errs, fieldErrors(errs)...)...)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("ops_dir", defaults.OpsDir)
	v.SetDefault("environment", defaults.Environment)
	v.SetDefault("accounts_file", defaults.AccountsFile)
	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.dir", defaults.Store.Dir)
	v.SetDefault("store.sqlite_path", defaults.Store.SQLitePath)
	v.SetDefault("formatter.enabled", defaults.Formatter.Enabled)
	v.SetDefault("formatter.command", defaults.Formatter.Command)
	v.SetDefault("bundle.workers", defaults.Bundle.Workers)
	v.SetDefault("bundle.exclude_deprecated", defaults.Bundle.ExcludeDeprecated)
	v.SetDefault("bundle.exclude_old_versions", defaults.Bundle.ExcludeOldVersions)
	v.SetDefault("bundle.exclude_dev", defaults.Bundle.ExcludeDev)
	v.SetDefault("log.level", defaults.Log.Level)
}

// fieldErrors flattens the field errors of InvalidConfigError values.
func fieldErrors(errs []error) []error {
	var out []error
	for _, err := range errs {
		var cfgErr *InvalidConfigError
		if errors.As(err, &cfgErr) {
			out = append(out, cfgErr.FieldErrors...)
		}
	}
	return out
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// Note: This uses manual CUE parsing instead of cueutil.ParseAndDecode because
// the config decodes to map[string]any for Viper, every field is optional,
// and the result is merged over defaults instead of returned.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config file into dir (the config
// directory when empty) unless one exists, and returns its path.
func CreateDefaultConfig(dir string) (string, bool, error) {
	cfgDir, err := configDirWithOverride(dir)
	if err != nil {
		return "", false, err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, false, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, true, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// opforge configuration file\n\n")

	fmt.Fprintf(&sb, "ops_dir: %q\n", cfg.OpsDir)
	fmt.Fprintf(&sb, "environment: %q\n", cfg.Environment)
	fmt.Fprintf(&sb, "accounts_file: %q\n", cfg.AccountsFile)

	sb.WriteString("\nstore: {\n")
	fmt.Fprintf(&sb, "\tbackend: %q\n", cfg.Store.Backend)
	fmt.Fprintf(&sb, "\tdir: %q\n", cfg.Store.Dir)
	if cfg.Store.SQLitePath != "" {
		fmt.Fprintf(&sb, "\tsqlite_path: %q\n", cfg.Store.SQLitePath)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nformatter: {\n")
	fmt.Fprintf(&sb, "\tenabled: %v\n", cfg.Formatter.Enabled)
	if cfg.Formatter.Command != "" {
		fmt.Fprintf(&sb, "\tcommand: %q\n", cfg.Formatter.Command)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nbundle: {\n")
	fmt.Fprintf(&sb, "\tworkers: %d\n", cfg.Bundle.Workers)
	fmt.Fprintf(&sb, "\texclude_deprecated: %v\n", cfg.Bundle.ExcludeDeprecated)
	fmt.Fprintf(&sb, "\texclude_old_versions: %v\n", cfg.Bundle.ExcludeOldVersions)
	fmt.Fprintf(&sb, "\texclude_dev: %v\n", cfg.Bundle.ExcludeDev)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	sb.WriteString("}\n")

	return sb.String()
}
