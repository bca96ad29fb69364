// SPDX-License-Identifier: MPL-2.0

package rename

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/opfs"
	"github.com/opforge/opforge/pkg/opname"
)

// Execution steps, in order.
const (
	StepNone           Step = ""
	StepVerify         Step = "verify"
	StepFormat         Step = "format"
	StepCopy           Step = "copy"
	StepRenameFiles    Step = "rename-files"
	StepAssignIdentity Step = "assign-identity"
	StepUpdateIdentity Step = "update-identity"
	StepRemoveSource   Step = "remove-source"
)

// ErrNothingToExecute is returned for plans without a source op.
var ErrNothingToExecute = errors.New("plan has no source op")

type (
	// Step names one stage of an execution.
	Step string

	// ExecOptions controls Execute.
	ExecOptions struct {
		// RemoveSource deletes the old directory after a successful move.
		// It is ignored for copy-only plans.
		RemoveSource bool
		// Format runs the source and code attachments through the formatter.
		Format bool
	}

	// Execution records the progress of Execute.
	Execution struct {
		Plan *Plan
		// Furthest is the last step that completed.
		Furthest Step
		// ID is the identity of the target op once assigned.
		ID  string
		Log []string
	}

	// StepError reports the step that failed.
	StepError struct {
		Step Step
		Err  error
	}

	formatted struct {
		file string // empty for the op source
		data []byte
	}
)

func (e *StepError) Error() string {
	return fmt.Sprintf("rename step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (x *Execution) done(step Step, msg string, args ...any) {
	x.Furthest = step
	x.Log = append(x.Log, string(step)+": "+fmt.Sprintf(msg, args...))
}

// Execute carries out plan. The returned Execution is never nil; on
// failure err is a *StepError and both op directories are left as they
// were after the furthest completed step.
func (p *Planner) Execute(ctx context.Context, plan *Plan, opts ExecOptions) (*Execution, error) {
	x := &Execution{Plan: plan}
	if err := plan.Err(); err != nil {
		return x, err
	}
	oldName, newName := plan.Request.OldName, plan.Request.NewName
	if oldName == "" {
		return x, ErrNothingToExecute
	}
	removeSource := opts.RemoveSource && !plan.CopyOnly
	newIdentity := plan.NewIdentity || !removeSource

	fail := func(step Step, err error) (*Execution, error) {
		p.logger.Error("rename failed", "step", step, "from", oldName, "to", newName, "error", err)
		return x, &StepError{Step: step, Err: err}
	}

	// verify
	if !p.repo.Exists(oldName) {
		return fail(StepVerify, issue.NewErrorContext().
			WithOperation("verify rename").WithResource(oldName).WithCategory(issue.ErrIO).
			Wrap(errors.New("source op disappeared since planning")).BuildError())
	}
	if p.repo.Exists(newName) {
		return fail(StepVerify, issue.NewErrorContext().
			WithOperation("verify rename").WithResource(newName).WithCategory(issue.ErrConflict).
			Wrap(errors.New("target op appeared since planning")).BuildError())
	}
	x.done(StepVerify, "%s exists, %s is free", oldName, newName)

	// format
	var pending []formatted
	if opts.Format {
		var err error
		pending, err = p.formatSources(ctx, oldName)
		if err != nil {
			return fail(StepFormat, err)
		}
		x.done(StepFormat, "formatted %d file(s)", len(pending))
	}

	// copy
	if err := p.repo.CopyDir(oldName, newName); err != nil {
		return fail(StepCopy, err)
	}
	x.done(StepCopy, "copied directory of %s", oldName)

	// rename-files
	if err := p.repo.RenameFiles(oldName, newName); err != nil {
		return fail(StepRenameFiles, err)
	}
	for _, f := range pending {
		var err error
		if f.file == "" {
			err = p.repo.WriteSource(newName, f.data)
		} else {
			err = p.repo.WriteAttachment(newName, f.file, f.data)
		}
		if err != nil {
			return fail(StepRenameFiles, err)
		}
	}
	x.done(StepRenameFiles, "renamed files to %s", newName)

	// assign-identity
	id, err := p.assignIdentity(ctx, plan, newIdentity, removeSource)
	if err != nil {
		return fail(StepAssignIdentity, err)
	}
	x.ID = id
	x.done(StepAssignIdentity, "%s has id %s", newName, id)

	// update-identity
	if err := p.ids.Register(ctx, id, newName); err != nil {
		return fail(StepUpdateIdentity, err)
	}
	x.done(StepUpdateIdentity, "identity map points %s at %s", id, newName)
	p.invalidate(oldName, newName)

	// remove-source
	if removeSource {
		if err := p.repo.RemoveDir(oldName); err != nil {
			return fail(StepRemoveSource, err)
		}
		if err := p.ids.Remove(ctx, oldName); err != nil {
			p.logger.Warn("stale identity entry left behind", "name", oldName, "error", err)
		}
		x.done(StepRemoveSource, "removed %s", oldName)
	}

	p.logger.Info("op renamed", "from", oldName, "to", newName, "id", id, "copy", !removeSource)
	return x, nil
}

// formatSources formats the op source and its code attachments without
// writing anything. A fatal diagnostic aborts with ErrFormat.
func (p *Planner) formatSources(ctx context.Context, name string) ([]formatted, error) {
	src, err := p.repo.ReadSource(name)
	if err != nil {
		return nil, err
	}
	inputs := []formatted{{data: src}}

	atts, err := p.repo.Attachments(name)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		if !isCodeAttachment(a) {
			continue
		}
		data, err := p.repo.ReadAttachment(name, a.File)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, formatted{file: a.File, data: data})
	}

	out := make([]formatted, 0, len(inputs))
	for _, in := range inputs {
		label := name + opfs.SourceExt
		if in.file != "" {
			label = in.file
		}
		res, err := p.formatter.Format(ctx, in.data)
		if err != nil {
			return nil, issue.WrapWithContext(err, "format", label, issue.ErrFormat)
		}
		if res.HasFatalError {
			return nil, issue.NewErrorContext().
				WithOperation("format").
				WithResource(label).
				WithCategory(issue.ErrFormat).
				WithSuggestion("Fix the reported problem or rerun without --format").
				Wrap(errors.New(res.FirstDiagnostic)).
				BuildError()
		}
		out = append(out, formatted{file: in.file, data: res.Formatted})
	}
	return out, nil
}

func isCodeAttachment(a opfs.Attachment) bool {
	switch a.Kind {
	case opfs.AttachmentInclude:
		return true
	case opfs.AttachmentPlain:
		return strings.HasSuffix(a.File, opfs.SourceExt)
	default:
		return false
	}
}

// assignIdentity decides the target's id and records it, together with a
// changelog entry, in the target's metadata. A move keeps the source's id.
func (p *Planner) assignIdentity(ctx context.Context, plan *Plan, newIdentity, move bool) (string, error) {
	oldName, newName := plan.Request.OldName, plan.Request.NewName

	meta, err := p.repo.ReadMeta(newName)
	if errors.Is(err, opfs.ErrNoMeta) {
		meta = &opfs.Meta{}
	} else if err != nil {
		return "", err
	}

	id := meta.ID
	if known, ok := p.ids.Lookup(ctx, oldName); ok {
		id = known
	}
	if newIdentity || id == "" {
		id = uuid.NewString()
	}
	meta.ID = id

	verb := "copied"
	if move {
		verb = "renamed"
	}
	entry := opfs.ChangelogEntry{
		Message: fmt.Sprintf("%s from %s", verb, oldName),
		Type:    "rename",
		Date:    p.now().UnixMilli(),
	}
	if u := plan.Request.User; u != nil {
		entry.Author = u.Username
	}
	meta.Changelog = append(meta.Changelog, entry)

	if err := p.repo.WriteMeta(newName, meta); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Planner) invalidate(names ...string) {
	if p.docs == nil {
		return
	}
	for _, n := range names {
		p.docs.Invalidate(n)
		p.docs.Invalidate(opname.CollectionOf(n))
	}
}
