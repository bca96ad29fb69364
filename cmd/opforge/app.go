// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/opforge/opforge/internal/config"
	"github.com/opforge/opforge/internal/engine"
	"github.com/opforge/opforge/internal/issue"
)

type (
	// App wires CLI services and shared dependencies. All Cobra command
	// handlers receive an App reference and reach the op engine through it.
	App struct {
		Config   ConfigProvider
		Services ServiceFactory
		stdout   io.Writer
		stderr   io.Writer
		logger   *log.Logger
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config   ConfigProvider
		Services ServiceFactory
		Stdout   io.Writer
		Stderr   io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// ServiceFactory builds the op engine for one command invocation.
	ServiceFactory func(ctx context.Context, cfg *config.Config, logger *log.Logger) (*engine.Service, error)

	// rootFlagValues holds the persistent flags shared by every subcommand.
	rootFlagValues struct {
		configPath string
		opsDir     string
		verbose    bool
		user       string
		project    string
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Services == nil {
		deps.Services = defaultServices
	}
	return &App{
		Config:   deps.Config,
		Services: deps.Services,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
		logger:   log.New(deps.Stderr),
	}, nil
}

func defaultServices(ctx context.Context, cfg *config.Config, logger *log.Logger) (*engine.Service, error) {
	return engine.New(ctx, engine.Options{Config: cfg, Logger: logger})
}

// loadConfig loads configuration honoring --config and --ops-dir.
func (a *App) loadConfig(ctx context.Context, flags *rootFlagValues) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		return nil, newServiceError(err, issue.ConfigLoadFailedId)
	}
	if flags.opsDir != "" {
		cfg.OpsDir = config.DirPath(flags.opsDir)
	}
	return cfg, nil
}

// open loads configuration and builds the op engine. The caller must
// close the returned service.
func (a *App) open(ctx context.Context, flags *rootFlagValues) (*engine.Service, error) {
	cfg, err := a.loadConfig(ctx, flags)
	if err != nil {
		return nil, err
	}
	a.logger = newLogger(a.stderr, cfg.Log.Level, flags.verbose)
	svc, err := a.Services(ctx, cfg, a.logger)
	if err != nil {
		return nil, newServiceError(err, issue.StoreUnavailableId)
	}
	return svc, nil
}

// closeService closes svc, logging failures.
func (a *App) closeService(svc *engine.Service) {
	if err := svc.Close(); err != nil {
		a.logger.Warn("closing op engine failed", "error", err)
	}
}

// actor resolves --user and --project.
func (a *App) actor(svc *engine.Service, flags *rootFlagValues) (engine.Actor, error) {
	return svc.Actor(flags.user, flags.project)
}

// newLogger returns a stderr logger at level, or at debug level when
// verbose is set.
func newLogger(w io.Writer, level config.LogLevel, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: "opforge"})
	lvl, err := log.ParseLevel(string(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	logger.SetLevel(lvl)
	return logger
}
