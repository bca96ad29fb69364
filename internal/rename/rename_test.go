// SPDX-License-Identifier: MPL-2.0

package rename

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/opforge/opforge/internal/docstore"
	"github.com/opforge/opforge/internal/format"
	"github.com/opforge/opforge/internal/identity"
	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/opfs"
	"github.com/opforge/opforge/internal/rights"
	"github.com/opforge/opforge/internal/testutil"
	"github.com/opforge/opforge/internal/testutil/opstest"
)

var (
	alice = &rights.User{ID: "u1", Username: "alice"}
	staff = &rights.User{ID: "s1", Username: "sam", IsStaff: true}
)

type fixture struct {
	root    string
	repo    *opfs.Repo
	ids     *identity.Lookup
	docs    *recordingDocs
	planner *Planner
}

type recordingDocs struct{ invalidated []string }

func (r *recordingDocs) Invalidate(key string) { r.invalidated = append(r.invalidated, key) }

// failingRepo fails one operation of the wrapped repository.
type failingRepo struct {
	*opfs.Repo
	failCopy   bool
	failRemove bool
	failList   bool
}

func (f *failingRepo) ListOps() ([]string, error) {
	if f.failList {
		return nil, issue.WrapWithContext(errors.New("permission denied"), "list ops", "ops", issue.ErrIO)
	}
	return f.Repo.ListOps()
}

func (f *failingRepo) CopyDir(from, to string) error {
	if f.failCopy {
		return issue.WrapWithContext(errors.New("disk full"), "copy op", to, issue.ErrIO)
	}
	return f.Repo.CopyDir(from, to)
}

func (f *failingRepo) RemoveDir(name string) error {
	if f.failRemove {
		return issue.WrapWithContext(errors.New("device busy"), "remove op", name, issue.ErrIO)
	}
	return f.Repo.RemoveDir(name)
}

// fatalFormatter rejects every source.
type fatalFormatter struct{}

func (fatalFormatter) Format(_ context.Context, src []byte) (format.Result, error) {
	return format.Result{Formatted: src, HasFatalError: true, FirstDiagnostic: "1:1 unexpected token"}, nil
}

// upperFormatter upper-cases every source.
type upperFormatter struct{}

func (upperFormatter) Format(_ context.Context, src []byte) (format.Result, error) {
	return format.Result{Formatted: []byte(strings.ToUpper(string(src)))}, nil
}

func newFixture(t *testing.T, wrap func(*opfs.Repo) Repo, formatter format.Formatter) *fixture {
	t.Helper()

	root := t.TempDir()
	store, err := docstore.NewFileStore(filepath.Join(t.TempDir(), "store"), nil)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		root: root,
		repo: opfs.New(root, nil),
		ids:  identity.New(store, nil),
		docs: &recordingDocs{},
	}
	var repo Repo = f.repo
	if wrap != nil {
		repo = wrap(f.repo)
	}
	f.planner = New(Options{
		Repo:       repo,
		Identities: f.ids,
		Formatter:  formatter,
		Docs:       f.docs,
		Now:        func() time.Time { return time.UnixMilli(1700000000000) },
	})
	return f
}

func (f *fixture) register(t *testing.T, name string) string {
	t.Helper()
	id, err := f.ids.ResolveOrCreate(context.Background(), f.repo, name)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func hasProblem(plan *Plan, category error, fragment string) bool {
	for _, p := range plan.Problems {
		if errors.Is(p, category) && strings.Contains(p.Message, fragment) {
			return true
		}
	}
	return false
}

func TestPlanAccumulatesNameProblems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	plan := f.planner.Plan(context.Background(), Request{NewName: "ops.gl..foo bar.", User: staff})

	for _, fragment := range []string{
		`must start with "Ops."`,
		"empty segment",
		"must not end with",
		`illegal characters " "`,
		`"gl" must start with an uppercase letter`,
	} {
		if !hasProblem(plan, issue.ErrValidation, fragment) {
			t.Errorf("missing problem %q in %v", fragment, plan.Problems)
		}
	}
	if plan.OK() || !errors.Is(plan.Err(), issue.ErrValidation) {
		t.Errorf("Err() = %v, want ErrValidation", plan.Err())
	}
}

func TestPlanNameRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		problems bool
	}{
		{"Ops.Gl.Foo", false},
		{"Ops.User.alice.Foo", false},
		{"Ops.Team.design.Foo", true},
		{"Ops.Foo", true},
		{"Ops", true},
		{"Ops.Gl.9Foo", true},
		{"Ops.Ops.Foo", true},
	}
	for _, tt := range tests {
		got := nameProblems(tt.name)
		if (len(got) > 0) != tt.problems {
			t.Errorf("nameProblems(%q) = %v, want problems=%v", tt.name, got, tt.problems)
		}
	}
}

func TestPlanPermissionExample(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	opstest.WriteOp(t, f.root, "Ops.User.alice.Foo")
	id := f.register(t, "Ops.User.alice.Foo")

	plan := f.planner.Plan(context.Background(), Request{
		OldName: "Ops.User.alice.Foo",
		NewName: "Ops.Team.Design.Foo",
		User:    alice,
	})
	if !hasProblem(plan, issue.ErrPermission, "Ops.Team.Design.Foo") {
		t.Fatalf("expected permission problem, got %v", plan.Problems)
	}

	x, err := f.planner.Execute(context.Background(), plan, ExecOptions{RemoveSource: true})
	if !errors.Is(err, issue.ErrPermission) {
		t.Errorf("Execute() error = %v, want ErrPermission", err)
	}
	if x.Furthest != StepNone {
		t.Errorf("Furthest = %q, want none", x.Furthest)
	}
	if !f.repo.Exists("Ops.User.alice.Foo") || f.repo.Exists("Ops.Team.Design.Foo") {
		t.Error("a rejected plan must not touch the filesystem")
	}
	if name, _ := f.ids.NameFor(context.Background(), id); name != "Ops.User.alice.Foo" {
		t.Errorf("NameFor() = %q", name)
	}

	withTeam := f.planner.Plan(context.Background(), Request{
		OldName: "Ops.User.alice.Foo",
		NewName: "Ops.Team.Design.Foo",
		User:    alice,
		Teams:   []rights.Membership{{Team: "Design", Namespace: "Ops.Team.Design", CanWrite: true}},
	})
	if !withTeam.OK() {
		t.Errorf("team writer plan problems = %v", withTeam.Problems)
	}
	if !slices.Contains(withTeam.Consequences, "the op will be editable by team members with write access") {
		t.Errorf("Consequences = %v", withTeam.Consequences)
	}
}

func TestPlanTargetExists(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	opstest.WriteOp(t, f.root, "Ops.User.alice.Foo")
	opstest.WriteOp(t, f.root, "Ops.User.alice.Bar")

	plan := f.planner.Plan(context.Background(), Request{
		OldName: "Ops.User.alice.Foo",
		NewName: "Ops.User.alice.Bar",
		User:    alice,
	})
	if !hasProblem(plan, issue.ErrConflict, "already exists") {
		t.Errorf("Problems = %v", plan.Problems)
	}
	if plan.SuggestedName != "Ops.User.alice.Bar_v2" {
		t.Errorf("SuggestedName = %q", plan.SuggestedName)
	}
	var ae *issue.ActionableError
	if !errors.As(plan.Err(), &ae) || !ae.HasSuggestions() {
		t.Errorf("Err() = %v, want actionable error with suggestion", plan.Err())
	}
}

func TestPlanMissingSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	plan := f.planner.Plan(context.Background(), Request{
		OldName: "Ops.User.alice.Gone",
		NewName: "Ops.User.alice.Bar",
		User:    alice,
	})
	if !hasProblem(plan, issue.ErrIO, "does not exist") {
		t.Errorf("Problems = %v", plan.Problems)
	}
}

func TestPlanVersionGap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	opstest.WriteOp(t, f.root, "Ops.Gl.Foo")
	opstest.WriteOp(t, f.root, "Ops.Gl.Bar")
	opstest.WriteOp(t, f.root, "Ops.Gl.Bar_v3")
	opstest.WriteOp(t, f.root, "Ops.User.sam.Draft")

	tests := []struct {
		name    string
		target  string
		ignore  bool
		hint    bool
		suggest string
	}{
		{"next after base", "Ops.Gl.Foo_v2", false, false, ""},
		{"skips from base", "Ops.Gl.Foo_v3", false, true, "Ops.Gl.Foo_v2"},
		{"skips too far from base", "Ops.Gl.Foo_v4", false, true, "Ops.Gl.Foo_v2"},
		{"next after numbered", "Ops.Gl.Bar_v4", false, false, ""},
		{"skips numbered", "Ops.Gl.Bar_v5", false, true, "Ops.Gl.Bar_v4"},
		{"first version", "Ops.Gl.New_v2", false, false, ""},
		{"suppressed", "Ops.Gl.Foo_v9", true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan := f.planner.Plan(context.Background(), Request{
				OldName:          "Ops.User.sam.Draft",
				NewName:          tt.target,
				User:             staff,
				IgnoreVersionGap: tt.ignore,
			})
			if !plan.OK() {
				t.Fatalf("Problems = %v", plan.Problems)
			}
			if (len(plan.Hints) > 0) != tt.hint {
				t.Errorf("Hints = %v, want hint=%v", plan.Hints, tt.hint)
			}
			if plan.SuggestedName != tt.suggest {
				t.Errorf("SuggestedName = %q, want %q", plan.SuggestedName, tt.suggest)
			}
		})
	}
}

func TestPlanVersionCheckNeedsListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(r *opfs.Repo) Repo { return &failingRepo{Repo: r, failList: true} }, nil)
	opstest.WriteOp(t, f.root, "Ops.User.sam.Draft")

	plan := f.planner.Plan(context.Background(), Request{
		OldName: "Ops.User.sam.Draft",
		NewName: "Ops.Gl.Foo_v7",
		User:    staff,
	})
	if !plan.OK() {
		t.Fatalf("Problems = %v", plan.Problems)
	}
	if len(plan.Hints) != 1 || !strings.Contains(plan.Hints[0], "version check skipped") {
		t.Errorf("Hints = %v, want the skipped version check", plan.Hints)
	}
}

func TestPlanExtensionIsCopyOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	opstest.WriteOp(t, f.root, "Ops.User.sam.Noise")
	opstest.WriteOp(t, f.root, "Ops.Gl.Noise")

	plan := f.planner.Plan(context.Background(), Request{
		OldName: "Ops.User.sam.Noise",
		NewName: "Ops.Extension.Noise.Perlin",
		User:    staff,
	})
	if !plan.OK() || !plan.CopyOnly || !plan.NewIdentity {
		t.Fatalf("plan = %+v", plan)
	}
	if !slices.Contains(plan.Consequences, "the old op will be copied, not moved") {
		t.Errorf("Consequences = %v", plan.Consequences)
	}

	fromCore := f.planner.Plan(context.Background(), Request{
		OldName: "Ops.Gl.Noise",
		NewName: "Ops.Extension.Noise.Simplex",
		User:    staff,
	})
	if fromCore.CopyOnly || fromCore.NewIdentity {
		t.Errorf("core to extension should be a move, got %+v", fromCore)
	}

	dev := f.planner.Plan(context.Background(), Request{NewName: "Ops.Dev.Gl.Tool", User: staff})
	if !slices.Contains(dev.Consequences, "the op will only be available in development environments") {
		t.Errorf("dev Consequences = %v", dev.Consequences)
	}
}

func TestExecuteMove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil, nil)
	opstest.WriteOp(t, f.root, "Ops.User.alice.Foo",
		opstest.WithDoc("# Foo"),
		opstest.WithAttachment("att_inc_helper.js", "function helper(){}"),
	)
	id := f.register(t, "Ops.User.alice.Foo")

	plan := f.planner.Plan(ctx, Request{OldName: "Ops.User.alice.Foo", NewName: "Ops.User.alice.Bar", User: alice})
	x, err := f.planner.Execute(ctx, plan, ExecOptions{RemoveSource: true})
	if err != nil {
		t.Fatalf("Execute() error: %v (log %v)", err, x.Log)
	}
	if x.Furthest != StepRemoveSource || x.ID != id {
		t.Errorf("Execution = %+v", x)
	}

	if f.repo.Exists("Ops.User.alice.Foo") {
		t.Error("source directory should be removed")
	}
	dir := opstest.Dir(f.root, "Ops.User.alice.Bar")
	for _, file := range []string{"Ops.User.alice.Bar.js", "Ops.User.alice.Bar.md", "att_inc_helper.js"} {
		testutil.MustReadFile(t, filepath.Join(dir, file))
	}

	if got, _ := f.ids.NameFor(ctx, id); got != "Ops.User.alice.Bar" {
		t.Errorf("NameFor() = %q, want Ops.User.alice.Bar", got)
	}
	if _, ok := f.ids.Lookup(ctx, "Ops.User.alice.Foo"); ok {
		t.Error("old name should no longer resolve")
	}

	meta, err := f.repo.ReadMeta("Ops.User.alice.Bar")
	if err != nil {
		t.Fatal(err)
	}
	last := meta.Changelog[len(meta.Changelog)-1]
	if meta.ID != id || last.Message != "renamed from Ops.User.alice.Foo" || last.Author != "alice" || last.Date != 1700000000000 {
		t.Errorf("meta = %+v", meta)
	}

	for _, key := range []string{"Ops.User.alice.Foo", "Ops.User.alice.Bar", "Ops.User.alice"} {
		if !slices.Contains(f.docs.invalidated, key) {
			t.Errorf("doc cache not invalidated for %s: %v", key, f.docs.invalidated)
		}
	}
}

func TestExecuteKeepSourceMintsNewID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil, nil)
	opstest.WriteOp(t, f.root, "Ops.User.alice.Foo")
	id := f.register(t, "Ops.User.alice.Foo")

	plan := f.planner.Plan(ctx, Request{OldName: "Ops.User.alice.Foo", NewName: "Ops.User.alice.Foo_v2", User: alice})
	x, err := f.planner.Execute(ctx, plan, ExecOptions{RemoveSource: false})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if x.ID == id || x.Furthest != StepUpdateIdentity {
		t.Errorf("Execution = %+v, want a fresh id and no removal", x)
	}
	if got, _ := f.ids.NameFor(ctx, id); got != "Ops.User.alice.Foo" {
		t.Errorf("original id now names %q", got)
	}
	if got, _ := f.ids.Lookup(ctx, "Ops.User.alice.Foo_v2"); got != x.ID {
		t.Errorf("Lookup(copy) = %q, want %q", got, x.ID)
	}
}

func TestExecuteFormatFailureTouchesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil, fatalFormatter{})
	opstest.WriteOp(t, f.root, "Ops.User.alice.Foo")

	plan := f.planner.Plan(ctx, Request{OldName: "Ops.User.alice.Foo", NewName: "Ops.User.alice.Bar", User: alice})
	x, err := f.planner.Execute(ctx, plan, ExecOptions{RemoveSource: true, Format: true})

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepFormat {
		t.Fatalf("Execute() error = %v, want format step error", err)
	}
	if !errors.Is(err, issue.ErrFormat) || !strings.Contains(err.Error(), "1:1 unexpected token") {
		t.Errorf("error = %v", err)
	}
	if x.Furthest != StepVerify {
		t.Errorf("Furthest = %q, want verify", x.Furthest)
	}
	if f.repo.Exists("Ops.User.alice.Bar") || !f.repo.Exists("Ops.User.alice.Foo") {
		t.Error("format failure must not touch any directory")
	}
}

func TestExecuteWritesFormattedSources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil, upperFormatter{})
	opstest.WriteOp(t, f.root, "Ops.User.alice.Foo",
		opstest.WithSource("op body"),
		opstest.WithAttachment("att_inc_helper.js", "helper"),
		opstest.WithAttachment("att_data.txt", "data"),
	)

	plan := f.planner.Plan(ctx, Request{OldName: "Ops.User.alice.Foo", NewName: "Ops.User.alice.Bar", User: alice})
	if _, err := f.planner.Execute(ctx, plan, ExecOptions{RemoveSource: true, Format: true}); err != nil {
		t.Fatal(err)
	}

	if src, _ := f.repo.ReadSource("Ops.User.alice.Bar"); string(src) != "OP BODY" {
		t.Errorf("source = %q", src)
	}
	if att, _ := f.repo.ReadAttachment("Ops.User.alice.Bar", "att_inc_helper.js"); string(att) != "HELPER" {
		t.Errorf("include attachment = %q", att)
	}
	if att, _ := f.repo.ReadAttachment("Ops.User.alice.Bar", "att_data.txt"); string(att) != "data" {
		t.Errorf("plain attachment = %q, must not be formatted", att)
	}
}

func TestExecuteFailureKeepsSourceResolvable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		wrap     func(*opfs.Repo) Repo
		step     Step
		furthest Step
		newOwner bool
	}{
		{
			name:     "copy fails",
			wrap:     func(r *opfs.Repo) Repo { return &failingRepo{Repo: r, failCopy: true} },
			step:     StepCopy,
			furthest: StepVerify,
		},
		{
			name:     "remove fails",
			wrap:     func(r *opfs.Repo) Repo { return &failingRepo{Repo: r, failRemove: true} },
			step:     StepRemoveSource,
			furthest: StepUpdateIdentity,
			newOwner: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			f := newFixture(t, tt.wrap, nil)
			opstest.WriteOp(t, f.root, "Ops.User.alice.Foo")
			id := f.register(t, "Ops.User.alice.Foo")

			plan := f.planner.Plan(ctx, Request{OldName: "Ops.User.alice.Foo", NewName: "Ops.User.alice.Bar", User: alice})
			x, err := f.planner.Execute(ctx, plan, ExecOptions{RemoveSource: true})

			var stepErr *StepError
			if !errors.As(err, &stepErr) || stepErr.Step != tt.step || !errors.Is(err, issue.ErrIO) {
				t.Fatalf("Execute() error = %v, want %s step error", err, tt.step)
			}
			if x.Furthest != tt.furthest {
				t.Errorf("Furthest = %q, want %q", x.Furthest, tt.furthest)
			}

			if _, err := f.repo.ReadSource("Ops.User.alice.Foo"); err != nil {
				t.Errorf("source op unreadable after failure: %v", err)
			}
			name, ok := f.ids.NameFor(ctx, id)
			if !ok || !f.repo.Exists(name) {
				t.Errorf("id %s resolves to %q (ok=%v), which must exist on disk", id, name, ok)
			}
			if tt.newOwner != (name == "Ops.User.alice.Bar") {
				t.Errorf("NameFor() = %q", name)
			}
		})
	}
}

func TestExecuteReverifies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil, nil)
	opstest.WriteOp(t, f.root, "Ops.User.alice.Foo")

	plan := f.planner.Plan(ctx, Request{OldName: "Ops.User.alice.Foo", NewName: "Ops.User.alice.Bar", User: alice})
	opstest.WriteOp(t, f.root, "Ops.User.alice.Bar")

	x, err := f.planner.Execute(ctx, plan, ExecOptions{RemoveSource: true})
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepVerify || !errors.Is(err, issue.ErrConflict) {
		t.Errorf("Execute() error = %v, want verify conflict", err)
	}
	if x.Furthest != StepNone {
		t.Errorf("Furthest = %q", x.Furthest)
	}

	if _, err := f.planner.Execute(ctx, &Plan{Request: Request{NewName: "Ops.Gl.X"}}, ExecOptions{}); !errors.Is(err, ErrNothingToExecute) {
		t.Errorf("Execute() without source error = %v", err)
	}
}
