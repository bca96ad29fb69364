// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/testutil"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.OpsDir != "ops" {
		t.Errorf("expected default ops dir to be ops, got %s", cfg.OpsDir)
	}
	if cfg.Environment != EnvironmentDevelopment {
		t.Errorf("expected default environment to be development, got %s", cfg.Environment)
	}
	if cfg.Store.Backend != StoreBackendFile || cfg.Store.Dir != ".opforge" {
		t.Errorf("unexpected default store config: %+v", cfg.Store)
	}
	if cfg.Formatter.Enabled {
		t.Error("expected the formatter to be disabled by default")
	}
	if cfg.Bundle.Workers != 4 {
		t.Errorf("expected 4 bundle workers by default, got %d", cfg.Bundle.Workers)
	}
	if valid, errs := cfg.IsValid(); !valid {
		t.Errorf("default config should be valid, got %v", errs)
	}
}

func TestConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG lookup is Linux-specific")
	}

	testXDGPath := filepath.Join(t.TempDir(), "xdg")
	restoreXDG := testutil.MustSetenv(t, "XDG_CONFIG_HOME", testXDGPath)
	defer restoreXDG()

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() returned error: %v", err)
	}
	if expected := filepath.Join(testXDGPath, AppName); dir != expected {
		t.Errorf("ConfigDir() = %s, want %s", dir, expected)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfgDir := t.TempDir()
	restore := testutil.MustChdir(t, t.TempDir())
	defer restore()

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: cfgDir})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want none", path)
	}
	if cfg.OpsDir != DefaultConfig().OpsDir || cfg.Bundle.Workers != 4 {
		t.Errorf("Load() without file = %+v, want defaults", cfg)
	}
}

func TestLoadFromConfigDir(t *testing.T) {
	cfgDir := t.TempDir()
	restore := testutil.MustChdir(t, t.TempDir())
	defer restore()

	content := `
ops_dir: "/srv/ops"
environment: "production"
store: {
	backend: "sqlite"
	sqlite_path: "/var/lib/opforge/store.db"
}
formatter: {
	enabled: true
	command: "prettier --stdin-filepath op.js"
}
bundle: workers: 8
`
	testutil.MustWriteFile(t, filepath.Join(cfgDir, "config.cue"), []byte(content))

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: cfgDir})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if path != filepath.Join(cfgDir, "config.cue") {
		t.Errorf("resolved path = %q", path)
	}
	if cfg.OpsDir != "/srv/ops" || !cfg.Environment.IsProduction() {
		t.Errorf("top-level fields = %+v", cfg)
	}
	if cfg.Store.Backend != StoreBackendSQLite || cfg.Store.SQLitePath != "/var/lib/opforge/store.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	// Unset fields keep their defaults.
	if cfg.Store.Dir != ".opforge" || cfg.AccountsFile != "accounts.toml" {
		t.Errorf("defaults lost: store.dir=%q accounts_file=%q", cfg.Store.Dir, cfg.AccountsFile)
	}
	if !cfg.Formatter.Enabled || cfg.Formatter.Command != "prettier --stdin-filepath op.js" {
		t.Errorf("formatter = %+v", cfg.Formatter)
	}
	if cfg.Bundle.Workers != 8 {
		t.Errorf("bundle.workers = %d, want 8", cfg.Bundle.Workers)
	}
}

func TestLoadFallsBackToWorkingDirectory(t *testing.T) {
	workDir := t.TempDir()
	restore := testutil.MustChdir(t, workDir)
	defer restore()

	testutil.MustWriteFile(t, filepath.Join(workDir, "config.cue"), []byte(`ops_dir: "local-ops"`))

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if path != "config.cue" || cfg.OpsDir != "local-ops" {
		t.Errorf("Load() = %q from %q", cfg.OpsDir, path)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	explicit := filepath.Join(dir, "custom.cue")
	testutil.MustWriteFile(t, explicit, []byte(`log: level: "debug"`))

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigFilePath: explicit})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if path != explicit || cfg.Log.Level != LogLevelDebug {
		t.Errorf("Load() = %+v from %q", cfg.Log, path)
	}

	_, _, err = Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(dir, "missing.cue")})
	if !errors.Is(err, issue.ErrIO) {
		t.Errorf("Load(missing) error = %v, want ErrIO", err)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", `colour: "red"`},
		{"bad environment", `environment: "staging"`},
		{"bad backend", `store: backend: "redis"`},
		{"workers out of range", `bundle: workers: 0`},
		{"wrong type", `formatter: enabled: "yes"`},
		{"syntax error", `ops_dir: "unterminated`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "config.cue")
			testutil.MustWriteFile(t, path, []byte(tt.content))

			_, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: path})
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !errors.Is(err, issue.ErrValidation) {
				t.Errorf("error should be a validation error, got: %v", err)
			}
		})
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	cfgDir := t.TempDir()
	restore := testutil.MustChdir(t, t.TempDir())
	defer restore()
	testutil.MustWriteFile(t, filepath.Join(cfgDir, "config.cue"), []byte(`ops_dir: "from-file"`))

	t.Setenv("OPFORGE_OPS_DIR", "from-env")
	t.Setenv("OPFORGE_STORE_BACKEND", "sqlite")
	t.Setenv("OPFORGE_BUNDLE_WORKERS", "2")

	cfg, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: cfgDir})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.OpsDir != "from-env" || cfg.Store.Backend != StoreBackendSQLite || cfg.Bundle.Workers != 2 {
		t.Errorf("environment overrides not applied: %+v", cfg)
	}

	t.Setenv("OPFORGE_ENVIRONMENT", "staging")
	_, _, err = Load(context.Background(), LoadOptions{ConfigDirPath: cfgDir})
	if !errors.Is(err, ErrInvalidEnvironment) {
		t.Errorf("invalid override error = %v, want ErrInvalidEnvironment", err)
	}
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestGenerateCUERoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Environment = EnvironmentProduction
	cfg.Formatter = FormatterConfig{Enabled: true, Command: `fmt --quote "x"`}
	cfg.Bundle.ExcludeDev = true

	path := filepath.Join(t.TempDir(), "config.cue")
	testutil.MustWriteFile(t, path, []byte(GenerateCUE(cfg)))

	loaded, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load(generated) error: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip = %+v, want %+v", loaded, cfg)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "opforge")
	path, created, err := CreateDefaultConfig(dir)
	if err != nil || !created {
		t.Fatalf("CreateDefaultConfig() = %q, %v, %v", path, created, err)
	}
	if !strings.Contains(string(testutil.MustReadFile(t, path)), `ops_dir: "ops"`) {
		t.Error("generated config lacks ops_dir")
	}

	// An existing file is left alone.
	testutil.MustWriteFile(t, path, []byte(`ops_dir: "mine"`))
	if _, created, err := CreateDefaultConfig(dir); err != nil || created {
		t.Errorf("second CreateDefaultConfig() created=%v err=%v", created, err)
	}
	if got := string(testutil.MustReadFile(t, path)); got != `ops_dir: "mine"` {
		t.Errorf("existing config overwritten: %q", got)
	}
}

func TestProvider(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.cue")
	testutil.MustWriteFile(t, path, []byte(`accounts_file: "team.toml"`))

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AccountsFile != "team.toml" {
		t.Errorf("AccountsFile = %q", cfg.AccountsFile)
	}
}
