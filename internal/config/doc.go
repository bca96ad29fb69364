// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from config.cue in the opforge config directory
// ($XDG_CONFIG_HOME/opforge on Linux, ~/Library/Application Support/opforge on
// macOS, %APPDATA%\opforge on Windows) or from ./config.cue. It covers the op
// tree location, the environment, document persistence, the code formatter,
// bundle defaults and logging. OPFORGE_* environment variables override file values.
//
// Configuration validation is performed against a CUE schema (config_schema.cue) to ensure
// type safety and provide clear error messages for invalid configurations.
package config
