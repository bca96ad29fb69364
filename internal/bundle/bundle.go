// SPDX-License-Identifier: MPL-2.0

// Package bundle assembles many ops into one executable source file.
//
// The output starts with a fixed preamble and the namespace declarations
// every op needs, canonicalized so the block does not depend on input
// order. Each op follows in input order, wrapped into a constructor with
// its attachments inlined and registered under its id. The op source is
// treated as opaque text; nothing here parses it.
package bundle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/template"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/opfs"
	"github.com/opforge/opforge/pkg/opname"
	"github.com/opforge/opforge/pkg/opversion"
)

const defaultWorkers = 4

const preambleTmpl = `"use strict";

var OPFORGE = OPFORGE || {};
OPFORGE.OPS = OPFORGE.OPS || {};

{{range $i, $ns := .}}{{if eq $i 0}}var {{end}}{{$ns}} = {{$ns}} || {};
{{end}}
`

const opTmpl = `// **************************************************************
//
// {{.Name}}
//
// **************************************************************

{{.Name}} = class extends OPFORGE.Op
{
constructor()
{
super(...arguments);
const op = this;
const attachments = op.attachments = {{.Attachments}};
{{range .Includes}}{{.}}{{end}}{{.Body}}}
};

OPFORGE.OPS[{{.QuotedID}}] = { f: {{.Name}}, objName: {{.QuotedName}} };

`

var (
	preamble = template.Must(template.New("preamble").Parse(preambleTmpl))
	opWrap   = template.Must(template.New("op").Parse(opTmpl))
)

// ErrNoOps is returned when every entry was filtered out or skipped.
var ErrNoOps = errors.New("no ops left to bundle")

type (
	// Entry pairs an op name with its id. An empty ID is resolved through
	// Options.Resolve.
	Entry struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}

	// Filter drops ops before assembly. The zero Filter keeps every valid op.
	Filter struct {
		// Categories keeps only ops of these categories when non-empty.
		Categories        []opname.Category
		ExcludeDeprecated bool
		ExcludeDevOnly    bool
		// ExcludeSuperseded drops ops for which a higher version is part of
		// the same bundle.
		ExcludeSuperseded bool
	}

	// Result is an assembled bundle.
	Result struct {
		Source      string
		Included    []Entry
		Diagnostics []issue.Diagnostic
	}

	// Source reads op files. *opfs.Repo implements it.
	Source interface {
		ReadSource(name string) ([]byte, error)
		Attachments(name string) ([]opfs.Attachment, error)
		ReadAttachment(name, file string) ([]byte, error)
	}

	// Resolver returns the id of an op, assigning one if needed.
	Resolver func(ctx context.Context, name string) (string, error)

	// Options configures a Builder.
	Options struct {
		Repo    Source
		Resolve Resolver
		// Workers bounds parallel op reads; zero means 4.
		Workers int
		Logger  *log.Logger
	}

	// Builder assembles bundles.
	Builder struct {
		repo    Source
		resolve Resolver
		workers int
		logger  *log.Logger
	}

	opView struct {
		Name        string
		QuotedName  string
		QuotedID    string
		Attachments string
		Includes    []string
		Body        string
		// shadowed lists attachment files dropped because an earlier
		// attachment already produced the same key.
		shadowed []string
	}
)

// New returns a Builder.
func New(opts Options) *Builder {
	b := &Builder{
		repo:    opts.Repo,
		resolve: opts.Resolve,
		workers: opts.Workers,
		logger:  opts.Logger,
	}
	if b.workers <= 0 {
		b.workers = defaultWorkers
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard)
	}
	return b
}

// Build assembles entries. Ops that fail to read are skipped with a
// diagnostic; the bundle only fails when nothing is left or ctx ends.
func (b *Builder) Build(ctx context.Context, entries []Entry, filter Filter) (*Result, error) {
	res := &Result{}
	kept := b.filter(entries, filter, res)
	kept = b.resolveIDs(ctx, kept, res)

	views := make([]*opView, len(kept))
	errs := make([]error, len(kept))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, e := range kept {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			views[i], errs[i] = b.readOp(e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var included []Entry
	var ops []*opView
	for i, e := range kept {
		if errs[i] != nil {
			b.skip(res, e.Name, "op could not be read", errs[i])
			continue
		}
		for _, file := range views[i].shadowed {
			b.logger.Warn("attachment key already used, dropping attachment", "name", e.Name, "file", file)
			res.Diagnostics = append(res.Diagnostics, issue.NewDiagnostic(issue.SeverityWarning,
				issue.CodeAttachmentShadowed, "attachment key already used by another attachment, dropped", e.Name+"/"+file, nil))
		}
		included = append(included, e)
		ops = append(ops, views[i])
	}
	if len(included) == 0 {
		return res, ErrNoOps
	}

	names := make([]string, len(included))
	for i, e := range included {
		names[i] = e.Name
	}

	var buf bytes.Buffer
	if err := preamble.Execute(&buf, NamespaceDeclarations(names)); err != nil {
		return nil, fmt.Errorf("bundle: render preamble: %w", err)
	}
	for _, v := range ops {
		if err := opWrap.Execute(&buf, v); err != nil {
			return nil, fmt.Errorf("bundle: render %s: %w", v.Name, err)
		}
	}

	res.Source = buf.String()
	res.Included = included
	return res, nil
}

// NamespaceDeclarations returns the namespaces the ops in names live in,
// deduplicated, shortest first and lexicographic among equal lengths.
func NamespaceDeclarations(names []string) []string {
	var chain []string
	for _, n := range names {
		chain = append(chain, opname.NamespaceChain(n)...)
	}
	slices.Sort(chain)
	chain = slices.Compact(chain)
	slices.SortStableFunc(chain, func(a, b string) int { return len(a) - len(b) })
	return chain
}

func (b *Builder) filter(entries []Entry, f Filter, res *Result) []Entry {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	seen := make(map[string]bool, len(entries))
	var kept []Entry
	for _, e := range entries {
		var reason string
		switch {
		case !opname.Validate(e.Name):
			reason = "invalid op name"
		case seen[e.Name]:
			reason = "listed more than once"
		case len(f.Categories) > 0 && !slices.Contains(f.Categories, opname.Classify(e.Name)):
			reason = "category " + string(opname.Classify(e.Name)) + " excluded"
		case f.ExcludeDeprecated && opname.IsDeprecated(e.Name):
			reason = "deprecated"
		case f.ExcludeDevOnly && opname.IsDevOnly(e.Name):
			reason = "dev-only"
		case f.ExcludeSuperseded && opversion.IsSuperseded(e.Name, names):
			reason = "superseded by a newer version"
		}
		if reason != "" {
			res.Diagnostics = append(res.Diagnostics, issue.NewDiagnostic(
				issue.SeverityWarning, issue.CodeOpFiltered, reason, e.Name, nil))
			continue
		}
		seen[e.Name] = true
		kept = append(kept, e)
	}
	return kept
}

// resolveIDs fills in missing ids one op at a time, since resolving may
// write the op's metadata.
func (b *Builder) resolveIDs(ctx context.Context, entries []Entry, res *Result) []Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.ID == "" {
			if b.resolve == nil {
				b.skip(res, e.Name, "op has no id", nil)
				continue
			}
			id, err := b.resolve(ctx, e.Name)
			if err != nil {
				b.skip(res, e.Name, "op id could not be resolved", err)
				continue
			}
			e.ID = id
		}
		out = append(out, e)
	}
	return out
}

func (b *Builder) skip(res *Result, name, msg string, err error) {
	b.logger.Warn("skipping op in bundle", "name", name, "reason", msg, "error", err)
	res.Diagnostics = append(res.Diagnostics, issue.NewDiagnostic(
		issue.SeverityError, issue.CodeOpSkipped, msg, name, err))
}

func (b *Builder) readOp(e Entry) (*opView, error) {
	src, err := b.repo.ReadSource(e.Name)
	if err != nil {
		return nil, err
	}
	atts, err := b.repo.Attachments(e.Name)
	if err != nil {
		return nil, err
	}

	v := &opView{
		Name:       e.Name,
		QuotedName: quote(e.Name),
		QuotedID:   quote(e.ID),
		Body:       withNewline(string(src)),
	}

	var fields []string
	keys := make(map[string]bool, len(atts))
	for _, a := range atts {
		var key string
		switch a.Kind {
		case opfs.AttachmentBinary:
			key = VariableName(strings.TrimPrefix(a.File, opfs.BinaryPrefix))
		case opfs.AttachmentPlain:
			key = VariableName(strings.TrimPrefix(a.File, opfs.AttachmentPrefix))
		}
		if key != "" && keys[key] {
			v.shadowed = append(v.shadowed, a.File)
			continue
		}
		keys[key] = true

		data, err := b.repo.ReadAttachment(e.Name, a.File)
		if err != nil {
			return nil, err
		}
		switch a.Kind {
		case opfs.AttachmentInclude:
			v.Includes = append(v.Includes, withNewline(string(data)))
		case opfs.AttachmentBinary:
			fields = append(fields, quote(key)+":"+quote(base64.StdEncoding.EncodeToString(data)))
		default:
			fields = append(fields, quote(key)+":"+quote(string(data)))
		}
	}
	v.Attachments = "{" + strings.Join(fields, ",") + "}"
	return v, nil
}

// VariableName turns an attachment file name into an identifier:
// every character outside [A-Za-z0-9_] becomes '_'.
func VariableName(file string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, file)
}

// quote returns s as a JSON string literal, which is also valid JavaScript.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // encoding a string cannot fail
	return strings.TrimSuffix(buf.String(), "\n")
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
