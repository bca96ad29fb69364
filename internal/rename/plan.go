// SPDX-License-Identifier: MPL-2.0

// Package rename plans and executes op renames, moves and copies.
//
// Planning is side-effect free and reports every problem at once. Execution
// walks a fixed sequence of named steps and records the furthest one that
// completed, so a failure can be diagnosed and retried. The source
// directory is removed last, after the identity map already points at the
// new name; a failure before that leaves both directories in place.
package rename

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"

	"github.com/opforge/opforge/internal/format"
	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/opfs"
	"github.com/opforge/opforge/internal/rights"
	"github.com/opforge/opforge/pkg/opname"
	"github.com/opforge/opforge/pkg/opversion"
)

type (
	// Repo is the part of the op repository a rename touches.
	// *opfs.Repo implements it.
	Repo interface {
		Exists(name string) bool
		ListOps() ([]string, error)
		ReadSource(name string) ([]byte, error)
		WriteSource(name string, src []byte) error
		ReadMeta(name string) (*opfs.Meta, error)
		WriteMeta(name string, meta *opfs.Meta) error
		Attachments(name string) ([]opfs.Attachment, error)
		ReadAttachment(name, file string) ([]byte, error)
		WriteAttachment(name, file string, data []byte) error
		CopyDir(from, to string) error
		RenameFiles(oldName, to string) error
		RemoveDir(name string) error
	}

	// Identities is the identity map as seen by a rename.
	Identities interface {
		Lookup(ctx context.Context, name string) (string, bool)
		Register(ctx context.Context, id, name string) error
		Remove(ctx context.Context, name string) error
	}

	// Invalidator drops cached docs of an op or collection.
	Invalidator interface {
		Invalidate(nameOrCollection string)
	}

	// Options configures a Planner.
	Options struct {
		Repo       Repo
		Identities Identities
		Rights     rights.Engine
		// Formatter defaults to format.Noop.
		Formatter format.Formatter
		// Docs may be nil.
		Docs   Invalidator
		Logger *log.Logger
		// Now defaults to time.Now; it stamps changelog entries.
		Now func() time.Time
	}

	// Planner plans and executes renames.
	Planner struct {
		repo      Repo
		ids       Identities
		rights    rights.Engine
		formatter format.Formatter
		docs      Invalidator
		logger    *log.Logger
		now       func() time.Time
	}

	// Request describes a proposed rename. An empty OldName plans the
	// creation of a new op.
	Request struct {
		NewName string
		OldName string
		User    *rights.User
		Teams   []rights.Membership
		// Project is the project owning patch ops involved in the rename.
		Project          *rights.Project
		IgnoreVersionGap bool
		// NewID requests a fresh identity for the target.
		NewID bool
	}

	// Problem is a blocking finding. It matches its category with errors.Is.
	Problem struct {
		Category error
		Message  string
	}

	// Plan is the result of planning a rename.
	Plan struct {
		Request      Request
		Problems     []Problem
		Hints        []string
		Consequences []string
		// SuggestedName is the canonical next version, when one applies.
		SuggestedName string
		// CopyOnly is set when the source must survive (moves into
		// Extension from outside Extension and Core).
		CopyOnly bool
		// NewIdentity is set when the target gets a fresh id.
		NewIdentity bool
	}
)

func (p Problem) Error() string { return p.Message }

func (p Problem) Unwrap() error { return p.Category }

// OK reports whether the plan has no blocking problems.
func (p *Plan) OK() bool { return len(p.Problems) == 0 }

// Err returns nil for an executable plan, and otherwise an actionable
// error carrying the first problem's category and every problem as cause.
func (p *Plan) Err() error {
	if p.OK() {
		return nil
	}
	errs := make([]error, len(p.Problems))
	for i, pr := range p.Problems {
		errs[i] = pr
	}
	ctx := issue.NewErrorContext().
		WithOperation("rename op").
		WithResource(p.resource()).
		WithCategory(p.Problems[0].Category).
		Wrap(errors.Join(errs...))
	if p.SuggestedName != "" {
		ctx = ctx.WithSuggestion("Use the next free version: " + p.SuggestedName)
	}
	return ctx.BuildError()
}

func (p *Plan) resource() string {
	if p.Request.OldName == "" {
		return p.Request.NewName
	}
	return p.Request.OldName + " -> " + p.Request.NewName
}

// New returns a Planner.
func New(opts Options) *Planner {
	p := &Planner{
		repo:      opts.Repo,
		ids:       opts.Identities,
		rights:    opts.Rights,
		formatter: opts.Formatter,
		docs:      opts.Docs,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if p.formatter == nil {
		p.formatter = format.Noop{}
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Plan validates req. It never touches the filesystem beyond existence
// checks and listing ops.
func (p *Planner) Plan(_ context.Context, req Request) *Plan {
	plan := &Plan{Request: req}
	newName, oldName := req.NewName, req.OldName

	structural := nameProblems(newName)
	plan.Problems = append(plan.Problems, structural...)

	candidates, listErr := p.repo.ListOps()
	if listErr != nil {
		p.logger.Warn("listing ops for version check failed", "error", listErr)
	}

	targetExists := len(structural) == 0 && p.repo.Exists(newName)
	if targetExists {
		plan.Problems = append(plan.Problems, Problem{issue.ErrConflict, fmt.Sprintf("op %s already exists", newName)})
		plan.SuggestedName = opversion.NextVersionName(newName, candidates)
	}

	if oldName != "" {
		if !p.repo.Exists(oldName) {
			plan.Problems = append(plan.Problems, Problem{issue.ErrIO, fmt.Sprintf("op %s does not exist", oldName)})
		} else if !p.rights.CanWrite(req.User, oldName, req.Teams, req.Project) {
			plan.Problems = append(plan.Problems, Problem{issue.ErrPermission, fmt.Sprintf("no write access to %s", oldName)})
		}
	}
	if len(structural) == 0 {
		needCreate := oldName == "" || opname.Classify(oldName) != opname.Classify(newName)
		allowed := p.rights.CanWrite(req.User, newName, req.Teams, req.Project)
		if needCreate {
			allowed = p.rights.CanCreate(req.User, newName, req.Teams, req.Project)
		}
		if !allowed {
			plan.Problems = append(plan.Problems, Problem{issue.ErrPermission, fmt.Sprintf("no right to create %s", newName)})
		}
	}

	if len(structural) == 0 && !req.IgnoreVersionGap {
		if listErr != nil {
			plan.Hints = append(plan.Hints,
				fmt.Sprintf("version check skipped, ops could not be listed: %v", listErr))
		} else {
			p.checkVersionGap(plan, candidates, targetExists)
		}
	}

	if oldName != "" && opname.Classify(newName) == opname.CategoryExtension {
		switch opname.Classify(oldName) {
		case opname.CategoryExtension, opname.CategoryCore:
		default:
			plan.CopyOnly = true
		}
	}
	plan.NewIdentity = plan.CopyOnly || req.NewID
	plan.Consequences = consequences(newName, plan.CopyOnly)
	return plan
}

// checkVersionGap flags a requested version that skips ahead of the
// highest existing one by more than the tolerance: 1 once a numbered
// version exists, 2 otherwise.
func (p *Planner) checkVersionGap(plan *Plan, candidates []string, targetExists bool) {
	name := plan.Request.NewName
	requested := opname.VersionOf(name)
	highest := opversion.HighestVersion(name, candidates)
	tolerance := 2
	if highest > 0 {
		tolerance = 1
	}
	if requested <= highest+tolerance {
		return
	}

	next := opversion.NextVersionName(name, candidates)
	msg := fmt.Sprintf("version %d skips ahead of the highest existing version %d, next version is %s", requested, highest, next)
	plan.SuggestedName = next
	if targetExists {
		plan.Problems = append(plan.Problems, Problem{issue.ErrValidation, msg})
		return
	}
	plan.Hints = append(plan.Hints, msg)
}

// nameProblems lists every structural defect of name.
func nameProblems(name string) []Problem {
	var out []Problem
	add := func(msg string, args ...any) {
		out = append(out, Problem{issue.ErrValidation, fmt.Sprintf(msg, args...)})
	}

	if name == "" {
		add("op name is empty")
		return out
	}
	if !strings.HasPrefix(name, opname.Prefix+opname.Separator) {
		add("op name must start with %q", opname.Prefix+opname.Separator)
	}
	if name == opname.Prefix || opname.NamespaceOf(name) == opname.Prefix+opname.Separator {
		add("op name needs a namespace below %q", opname.Prefix)
	}
	if len(name) < opname.MinLength {
		add("op name must be at least %d characters", opname.MinLength)
	}
	if strings.Contains(name, "..") {
		add("op name contains an empty segment")
	}
	if strings.HasSuffix(name, opname.Separator) {
		add("op name must not end with %q", opname.Separator)
	}
	if bad := illegalChars(name); bad != "" {
		add("op name contains illegal characters %q", bad)
	}

	segments := strings.Split(name, opname.Separator)
	for i, seg := range segments[:len(segments)-1] {
		if seg == "" {
			continue
		}
		if i == 2 && opname.Classify(name) == opname.CategoryUser {
			continue
		}
		if r := rune(seg[0]); !unicode.IsUpper(r) {
			add("namespace segment %q must start with an uppercase letter", seg)
		}
	}

	if len(out) == 0 && !opname.Validate(name) {
		add("op name %q is not valid", name)
	}
	return out
}

func illegalChars(name string) string {
	var bad []rune
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
		case r == '_' || r == '-' || r == '.':
		default:
			if !strings.ContainsRune(string(bad), r) {
				bad = append(bad, r)
			}
		}
	}
	return string(bad)
}

// consequences describes what the target category implies.
func consequences(name string, copyOnly bool) []string {
	var out []string
	switch opname.Classify(name) {
	case opname.CategoryUser:
		out = append(out, "the op will be private and only usable by its owner")
	case opname.CategoryTeam:
		out = append(out,
			"the op will be editable by team members with write access",
			"the op will not be included when the team publishes private or unlisted ops")
	case opname.CategoryExtension:
		out = append(out, "the op will be public and only editable by staff")
		if copyOnly {
			out = append(out, "the old op will be copied, not moved")
		}
	case opname.CategoryPatch:
		out = append(out, "the op will be editable by the project's collaborators")
	default:
		out = append(out, "the op will be public and only editable by staff")
	}
	if opname.IsDevOnly(name) {
		out = append(out, "the op will only be available in development environments")
	}
	return out
}
