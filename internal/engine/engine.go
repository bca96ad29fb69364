// SPDX-License-Identifier: MPL-2.0

// Package engine is the composition root of the op tooling. It wires the op
// repository, identity map, rights engine, rename planner, bundle builder
// and doc cache from a loaded configuration and exposes the operations
// callers use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/opforge/opforge/internal/accounts"
	"github.com/opforge/opforge/internal/bundle"
	"github.com/opforge/opforge/internal/config"
	"github.com/opforge/opforge/internal/doccache"
	"github.com/opforge/opforge/internal/docstore"
	"github.com/opforge/opforge/internal/format"
	"github.com/opforge/opforge/internal/identity"
	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/opfs"
	"github.com/opforge/opforge/internal/rename"
	"github.com/opforge/opforge/internal/rights"
	"github.com/opforge/opforge/internal/watch"
	"github.com/opforge/opforge/pkg/opname"
	"github.com/opforge/opforge/pkg/opversion"
)

var watchPatterns = []string{"**/*.js", "**/*.json", "**/*.md", "**/att_*"}

type (
	// Options configures New. Only Config is required.
	Options struct {
		Config *config.Config
		Logger *log.Logger
		// Store overrides the store selected by Config.Store. New does not
		// take ownership of it.
		Store docstore.Store
		// Accounts overrides loading Config.AccountsFile.
		Accounts *accounts.Provider
		// Formatter overrides Config.Formatter.
		Formatter format.Formatter
		Now       func() time.Time
	}

	// Service exposes the engine operations.
	Service struct {
		cfg       *config.Config
		logger    *log.Logger
		repo      *opfs.Repo
		store     docstore.Store
		ownsStore bool
		ids       *identity.Lookup
		docs      *doccache.Cache
		rights    rights.Engine
		accounts  *accounts.Provider
		planner   *rename.Planner
		bundler   *bundle.Builder
	}

	// Actor is the user a request is made on behalf of. The zero Actor is
	// anonymous.
	Actor struct {
		User  *rights.User
		Teams []rights.Membership
		// Project is the project the request comes from. Patch ops fall back
		// to the project encoded in their name.
		Project *rights.Project
	}

	// RenameRequest describes a rename, move or copy. An empty OldName
	// plans the creation of NewName.
	RenameRequest struct {
		OldName          string
		NewName          string
		IgnoreVersionGap bool
		NewID            bool
	}

	// OpsChange reports op files changed on disk.
	OpsChange struct {
		Ops []string
	}
)

// New wires a Service from opts.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("engine: config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		repo:     opfs.New(string(cfg.OpsDir), logger.WithPrefix("opfs")),
		store:    opts.Store,
		accounts: opts.Accounts,
		rights:   rights.Engine{Production: cfg.Environment.IsProduction()},
	}

	if s.store == nil {
		store, err := docstore.Open(ctx, docstore.Options{
			Backend:    docstore.Backend(cfg.Store.Backend),
			Dir:        string(cfg.Store.Dir),
			SQLitePath: cfg.Store.SQLitePath,
			Logger:     logger.WithPrefix("store"),
		})
		if err != nil {
			return nil, issue.WrapWithContext(err, "open document store", string(cfg.Store.Dir), issue.ErrIO)
		}
		s.store = store
		s.ownsStore = true
	}

	if s.accounts == nil {
		provider, err := accounts.Load(cfg.AccountsFile)
		if err != nil {
			s.closeStore()
			return nil, err
		}
		s.accounts = provider
	}

	formatter := opts.Formatter
	if formatter == nil && cfg.Formatter.Enabled {
		cmd, err := format.NewCommand(cfg.Formatter.Command, string(cfg.OpsDir))
		if err != nil {
			s.closeStore()
			return nil, issue.NewErrorContext().
				WithOperation("configure formatter").
				WithResource(cfg.Formatter.Command).
				WithCategory(issue.ErrValidation).
				WithSuggestion("Check formatter.command in the config file").
				Wrap(err).
				BuildError()
		}
		formatter = cmd
	}

	s.ids = identity.New(s.store, logger.WithPrefix("identity"))
	s.docs = doccache.New(s.repo, s.store, logger.WithPrefix("docs"))
	s.planner = rename.New(rename.Options{
		Repo:       s.repo,
		Identities: s.ids,
		Rights:     s.rights,
		Formatter:  formatter,
		Docs:       s.docs,
		Logger:     logger.WithPrefix("rename"),
		Now:        opts.Now,
	})
	s.bundler = bundle.New(bundle.Options{
		Repo:    s.repo,
		Resolve: s.ResolveID,
		Workers: cfg.Bundle.Workers,
		Logger:  logger.WithPrefix("bundle"),
	})
	return s, nil
}

// Close releases the document store when New opened it.
func (s *Service) Close() error {
	if !s.ownsStore {
		return nil
	}
	return s.store.Close()
}

func (s *Service) closeStore() {
	if err := s.Close(); err != nil {
		s.logger.Warn("closing document store failed", "error", err)
	}
}

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config { return s.cfg }

// Actor looks up the user identified by userRef (id or username) and the
// project with projectID. Empty arguments leave the respective part unset.
func (s *Service) Actor(userRef, projectID string) (Actor, error) {
	var a Actor
	if userRef != "" {
		user, err := s.accounts.User(userRef)
		if err != nil {
			return a, issue.NewErrorContext().
				WithOperation("resolve user").
				WithResource(userRef).
				WithCategory(issue.ErrValidation).
				WithSuggestion("Known users in " + s.cfg.AccountsFile + ": " + knownUsers(s.accounts.Users())).
				Wrap(err).
				BuildError()
		}
		a.User = user
		a.Teams = s.accounts.Memberships(user.ID)
	}
	if projectID != "" {
		project, err := s.accounts.Project(projectID)
		if err != nil {
			return a, issue.WrapWithContext(err, "resolve project", projectID, issue.ErrValidation)
		}
		a.Project = project
	}
	return a, nil
}

// ResolveID returns the id of the op called name, assigning and recording
// one if it has none yet.
func (s *Service) ResolveID(ctx context.Context, name string) (string, error) {
	if err := opname.Name(name).Validate(); err != nil {
		return "", issue.WrapWithContext(err, "resolve op id", name, issue.ErrValidation)
	}
	return s.ids.ResolveOrCreate(ctx, s.repo, name)
}

// ResolveName returns the current name of the op with id.
func (s *Service) ResolveName(ctx context.Context, id string) (string, bool) {
	return s.ids.NameFor(ctx, id)
}

// CheckRights evaluates what actor may do with the op called name.
func (s *Service) CheckRights(actor Actor, name string) (rights.Rights, error) {
	if err := opname.Name(name).Validate(); err != nil {
		return rights.Rights{}, issue.WrapWithContext(err, "check rights", name, issue.ErrValidation)
	}
	return s.rights.Check(actor.User, name, actor.Teams, s.projectFor(actor, name)), nil
}

// PlanRename plans req for actor without touching any file.
func (s *Service) PlanRename(ctx context.Context, actor Actor, req RenameRequest) *rename.Plan {
	project := s.projectFor(actor, req.NewName)
	if project == nil && req.OldName != "" {
		project = s.projectFor(actor, req.OldName)
	}
	return s.planner.Plan(ctx, rename.Request{
		NewName:          req.NewName,
		OldName:          req.OldName,
		User:             actor.User,
		Teams:            actor.Teams,
		Project:          project,
		IgnoreVersionGap: req.IgnoreVersionGap,
		NewID:            req.NewID,
	})
}

// ExecuteRename carries out a plan returned by PlanRename.
func (s *Service) ExecuteRename(ctx context.Context, plan *rename.Plan, opts rename.ExecOptions) (*rename.Execution, error) {
	return s.planner.Execute(ctx, plan, opts)
}

// DefaultBundleFilter returns the bundle filter configured in bundle.*.
func (s *Service) DefaultBundleFilter() bundle.Filter {
	return bundle.Filter{
		ExcludeDeprecated: s.cfg.Bundle.ExcludeDeprecated,
		ExcludeDevOnly:    s.cfg.Bundle.ExcludeDev || s.cfg.Environment.IsProduction(),
		ExcludeSuperseded: s.cfg.Bundle.ExcludeOldVersions,
	}
}

// BuildBundle assembles the ops called names, in that order.
func (s *Service) BuildBundle(ctx context.Context, names []string, filter bundle.Filter) (*bundle.Result, error) {
	entries := make([]bundle.Entry, len(names))
	for i, name := range names {
		id, _ := s.ids.Lookup(ctx, name)
		entries[i] = bundle.Entry{Name: name, ID: id}
	}
	return s.bundler.Build(ctx, entries, filter)
}

// BuildCollectionBundle bundles every op of collection in name order.
func (s *Service) BuildCollectionBundle(ctx context.Context, collection string, filter bundle.Filter) (*bundle.Result, error) {
	names, err := s.repo.ListCollection(collection)
	if err != nil {
		return nil, err
	}
	return s.BuildBundle(ctx, names, filter)
}

// GetDoc returns the doc of the op called name.
func (s *Service) GetDoc(ctx context.Context, name string) (*doccache.Doc, error) {
	return s.docs.GetDoc(ctx, name)
}

// GetCollectionDocs returns the docs of every op in collection.
func (s *Service) GetCollectionDocs(ctx context.Context, collection string) (*doccache.Collection, error) {
	return s.docs.Get(ctx, collection)
}

// ReadMarkdown returns the Markdown doc of the op called name, or nil.
func (s *Service) ReadMarkdown(name string) ([]byte, error) {
	return s.repo.ReadDoc(name)
}

// ListOps returns every op name in the tree.
func (s *Service) ListOps() ([]string, error) {
	return s.repo.ListOps()
}

// NextVersionName returns the name the next version of the op called name
// should take, given the ops currently in the tree.
func (s *Service) NextVersionName(name string) (string, error) {
	if err := opname.Name(name).Validate(); err != nil {
		return "", issue.WrapWithContext(err, "compute next version", name, issue.ErrValidation)
	}
	ops, err := s.repo.ListOps()
	if err != nil {
		return "", err
	}
	return opversion.NextVersionName(name, ops), nil
}

// Versions returns every version of the op called name present in the tree.
func (s *Service) Versions(name string) ([]opversion.Entry, error) {
	ops, err := s.repo.ListOps()
	if err != nil {
		return nil, err
	}
	return opversion.VersionsOf(name, ops), nil
}

// RebuildIdentity rescans every op and replaces the identity map.
func (s *Service) RebuildIdentity(ctx context.Context) ([]issue.Diagnostic, error) {
	diags, err := s.ids.Rebuild(ctx, s.repo)
	if err != nil {
		return diags, err
	}
	s.logger.Info("identity map rebuilt", "ids", s.ids.Len(ctx), "conflicts", len(diags))
	return diags, nil
}

// Watch follows the identity map document and the op tree until ctx is
// cancelled. Changed ops have their docs invalidated; onChange, when set,
// is told which ops changed.
func (s *Service) Watch(ctx context.Context, onChange func(OpsChange)) error {
	w, err := watch.New(watch.Config{
		BaseDir:   string(s.cfg.OpsDir),
		Recursive: true,
		Patterns:  watchPatterns,
		Logger:    s.logger.WithPrefix("watch"),
		OnChange: func(_ context.Context, changed []string) error {
			ops := opsForPaths(changed)
			for _, name := range ops {
				s.docs.Invalidate(name)
			}
			if len(ops) > 0 && onChange != nil {
				onChange(OpsChange{Ops: ops})
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", s.cfg.OpsDir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return s.ids.Watch(gctx) })
	return g.Wait()
}

func (s *Service) projectFor(actor Actor, name string) *rights.Project {
	if opname.Classify(name) != opname.CategoryPatch {
		return actor.Project
	}
	if p := s.accounts.ProjectForOp(name); p != nil {
		return p
	}
	return actor.Project
}

// opsForPaths maps changed files (relative to the op tree) to the ops
// whose directories contain them, deduplicated in first-seen order.
func opsForPaths(paths []string) []string {
	seen := make(map[string]bool)
	var ops []string
	for _, p := range paths {
		dir := filepath.Base(filepath.Dir(p))
		if !opname.Validate(dir) || seen[dir] {
			continue
		}
		if !strings.HasPrefix(filepath.Base(p), dir) && !strings.HasPrefix(filepath.Base(p), opfs.AttachmentPrefix) {
			continue
		}
		seen[dir] = true
		ops = append(ops, dir)
	}
	return ops
}

func knownUsers(users []rights.User) string {
	if len(users) == 0 {
		return "none"
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return strings.Join(names, ", ")
}
