// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// EnvironmentDevelopment makes dev-only ops visible.
	EnvironmentDevelopment Environment = "development"
	// EnvironmentProduction hides dev-only ops from every user.
	EnvironmentProduction Environment = "production"

	// StoreBackendFile keeps documents as files below store.dir.
	// Defined locally to avoid coupling config to internal/docstore.
	StoreBackendFile StoreBackend = "file"
	// StoreBackendSQLite keeps documents in a SQLite database.
	StoreBackendSQLite StoreBackend = "sqlite"

	// LogLevelDebug logs everything.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs informational messages and above.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	maxBundleWorkers = 64
)

var (
	// ErrInvalidEnvironment is returned when an Environment value is not recognized.
	ErrInvalidEnvironment = errors.New("invalid environment")
	// ErrInvalidStoreBackend is returned when a StoreBackend value is not recognized.
	ErrInvalidStoreBackend = errors.New("invalid store backend")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidDirPath is returned for empty or whitespace-only directory settings.
	ErrInvalidDirPath = errors.New("invalid directory path")
	// ErrInvalidBundleWorkers is returned when bundle.workers is out of range.
	ErrInvalidBundleWorkers = errors.New("invalid bundle worker count")
	// ErrInvalidFormatterConfig is the sentinel error wrapped by InvalidFormatterConfigError.
	ErrInvalidFormatterConfig = errors.New("invalid formatter config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// Environment selects development or production behavior.
	Environment string

	// InvalidEnvironmentError is returned when an Environment value is not recognized.
	// It wraps ErrInvalidEnvironment for errors.Is() compatibility.
	InvalidEnvironmentError struct {
		Value Environment
	}

	// StoreBackend selects where identity and doc documents are persisted.
	StoreBackend string

	// InvalidStoreBackendError is returned when a StoreBackend value is not recognized.
	InvalidStoreBackendError struct {
		Value StoreBackend
	}

	// LogLevel is the minimum level the CLI logs at.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// DirPath is a directory setting. It must not be empty or whitespace-only.
	DirPath string

	// InvalidDirPathError is returned when a DirPath is empty or whitespace-only.
	InvalidDirPathError struct {
		Field string
		Value DirPath
	}

	// InvalidBundleWorkersError is returned when bundle.workers is out of range.
	InvalidBundleWorkersError struct {
		Value int
	}

	// InvalidFormatterConfigError is returned when the formatter is enabled
	// without a command.
	InvalidFormatterConfigError struct{}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// OpsDir is the root of the op tree.
		OpsDir DirPath `json:"ops_dir" mapstructure:"ops_dir"`
		// Environment is "development" or "production".
		Environment Environment `json:"environment" mapstructure:"environment"`
		// AccountsFile is the TOML file describing users, teams and projects.
		AccountsFile string `json:"accounts_file" mapstructure:"accounts_file"`
		// Store configures document persistence.
		Store StoreConfig `json:"store" mapstructure:"store"`
		// Formatter configures the external code formatter.
		Formatter FormatterConfig `json:"formatter" mapstructure:"formatter"`
		// Bundle configures bundle assembly.
		Bundle BundleConfig `json:"bundle" mapstructure:"bundle"`
		// Log configures CLI logging.
		Log LogConfig `json:"log" mapstructure:"log"`
	}

	// StoreConfig configures document persistence.
	StoreConfig struct {
		Backend StoreBackend `json:"backend" mapstructure:"backend"`
		Dir     DirPath      `json:"dir" mapstructure:"dir"`
		// SQLitePath defaults to <dir>/store.db when empty.
		SQLitePath string `json:"sqlite_path" mapstructure:"sqlite_path"`
	}

	// FormatterConfig configures the code formatter run before renames.
	FormatterConfig struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled"`
		Command string `json:"command" mapstructure:"command"`
	}

	// BundleConfig holds bundle defaults the CLI flags can override.
	BundleConfig struct {
		Workers            int  `json:"workers" mapstructure:"workers"`
		ExcludeDeprecated  bool `json:"exclude_deprecated" mapstructure:"exclude_deprecated"`
		ExcludeOldVersions bool `json:"exclude_old_versions" mapstructure:"exclude_old_versions"`
		ExcludeDev         bool `json:"exclude_dev" mapstructure:"exclude_dev"`
	}

	// LogConfig configures CLI logging.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}
)

// String returns the string representation of the Environment.
func (e Environment) String() string { return string(e) }

// IsValid returns whether the Environment is one of the defined values,
// and a list of validation errors if it is not.
func (e Environment) IsValid() (bool, []error) {
	switch e {
	case EnvironmentDevelopment, EnvironmentProduction:
		return true, nil
	default:
		return false, []error{&InvalidEnvironmentError{Value: e}}
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool { return e == EnvironmentProduction }

// Error implements the error interface for InvalidEnvironmentError.
func (e *InvalidEnvironmentError) Error() string {
	return fmt.Sprintf("invalid environment %q (valid: development, production)", e.Value)
}

// Unwrap returns ErrInvalidEnvironment for errors.Is() compatibility.
func (e *InvalidEnvironmentError) Unwrap() error { return ErrInvalidEnvironment }

// String returns the string representation of the StoreBackend.
func (b StoreBackend) String() string { return string(b) }

// IsValid returns whether the StoreBackend is one of the defined backends.
func (b StoreBackend) IsValid() (bool, []error) {
	switch b {
	case StoreBackendFile, StoreBackendSQLite:
		return true, nil
	default:
		return false, []error{&InvalidStoreBackendError{Value: b}}
	}
}

func (e *InvalidStoreBackendError) Error() string {
	return fmt.Sprintf("invalid store backend %q (valid: file, sqlite)", e.Value)
}

func (e *InvalidStoreBackendError) Unwrap() error { return ErrInvalidStoreBackend }

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// String returns the string representation of the DirPath.
func (p DirPath) String() string { return string(p) }

// Validate checks p for the settings field.
func (p DirPath) Validate(field string) error {
	if strings.TrimSpace(string(p)) == "" {
		return &InvalidDirPathError{Field: field, Value: p}
	}
	return nil
}

func (e *InvalidDirPathError) Error() string {
	return fmt.Sprintf("%s: directory path %q must not be empty", e.Field, e.Value)
}

func (e *InvalidDirPathError) Unwrap() error { return ErrInvalidDirPath }

func (e *InvalidBundleWorkersError) Error() string {
	return fmt.Sprintf("bundle.workers: %d is outside 1..%d", e.Value, maxBundleWorkers)
}

func (e *InvalidBundleWorkersError) Unwrap() error { return ErrInvalidBundleWorkers }

func (e *InvalidFormatterConfigError) Error() string {
	return "formatter.enabled is set but formatter.command is empty"
}

func (e *InvalidFormatterConfigError) Unwrap() error { return ErrInvalidFormatterConfig }

// IsValid returns whether the Config has valid fields, collecting every
// field error into one InvalidConfigError.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if err := c.OpsDir.Validate("ops_dir"); err != nil {
		errs = append(errs, err)
	}
	if valid, fieldErrs := c.Environment.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Store.Backend.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if err := c.Store.Dir.Validate("store.dir"); err != nil {
		errs = append(errs, err)
	}
	if c.Formatter.Enabled && strings.TrimSpace(c.Formatter.Command) == "" {
		errs = append(errs, &InvalidFormatterConfigError{})
	}
	if c.Bundle.Workers < 1 || c.Bundle.Workers > maxBundleWorkers {
		errs = append(errs, &InvalidBundleWorkersError{Value: c.Bundle.Workers})
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		OpsDir:       "ops",
		Environment:  EnvironmentDevelopment,
		AccountsFile: "accounts.toml",
		Store: StoreConfig{
			Backend:    StoreBackendFile,
			Dir:        ".opforge",
			SQLitePath: "", // <store.dir>/store.db
		},
		Formatter: FormatterConfig{
			Enabled: false,
			Command: "",
		},
		Bundle: BundleConfig{
			Workers: 4,
		},
		Log: LogConfig{
			Level: LogLevelInfo,
		},
	}
}
