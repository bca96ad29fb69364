// SPDX-License-Identifier: MPL-2.0

package opstest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opforge/opforge/pkg/opname"
)

type (
	// Op describes an op directory to write.
	Op struct {
		Name        string
		Source      string
		Meta        map[string]any
		Doc         string
		Attachments map[string]string

		noSource bool
		noMeta   bool
		rawMeta  string
	}

	// Option configures a test op.
	Option func(*Op)
)

// WriteOp writes the op called name below root and returns its directory.
// By default the op has an id derived from its name, a one-line source
// file and no doc or attachments.
//
// Usage:
//
//	dir := opstest.WriteOp(t, root, "Ops.Gl.Blur")
//	dir := opstest.WriteOp(t, root, "Ops.User.alice.Foo",
//	    opstest.WithID("11111111-2222-3333-4444-555555555555"),
//	    opstest.WithAttachment("att_inc_helper.js", "function helper() {}"),
//	)
func WriteOp(t testing.TB, root, name string, opts ...Option) string {
	t.Helper()

	op := &Op{
		Name:   name,
		Source: "this.name = \"" + name + "\";\n",
		Meta:   map[string]any{"id": DefaultID(name)},
	}
	for _, opt := range opts {
		opt(op)
	}

	dir := Dir(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create op directory %s: %v", dir, err)
	}

	if !op.noSource {
		write(t, filepath.Join(dir, name+".js"), op.Source)
	}
	switch {
	case op.rawMeta != "":
		write(t, filepath.Join(dir, name+".json"), op.rawMeta)
	case !op.noMeta:
		data, err := json.MarshalIndent(op.Meta, "", "  ")
		if err != nil {
			t.Fatalf("encode metadata of %s: %v", name, err)
		}
		write(t, filepath.Join(dir, name+".json"), string(data))
	}
	if op.Doc != "" {
		write(t, filepath.Join(dir, name+".md"), op.Doc)
	}
	for file, content := range op.Attachments {
		write(t, filepath.Join(dir, file), content)
	}
	return dir
}

// DefaultID is the id WriteOp stores for name unless WithID overrides it.
func DefaultID(name string) string {
	return "id-" + strings.ReplaceAll(name, ".", "-")
}

// Dir returns the directory an op called name occupies below root.
func Dir(root, name string) string {
	owner := opname.Owner(name)
	switch opname.Classify(name) {
	case opname.CategoryExtension:
		return filepath.Join(root, "extensions", owner, name)
	case opname.CategoryTeam:
		return filepath.Join(root, "teams", owner, name)
	case opname.CategoryUser:
		return filepath.Join(root, "users", owner, name)
	case opname.CategoryPatch:
		return filepath.Join(root, "patches", owner, name)
	default:
		return filepath.Join(root, "base", name)
	}
}

func write(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WithID sets the id stored in the metadata. An empty id omits the field.
func WithID(id string) Option {
	return func(o *Op) {
		if id == "" {
			delete(o.Meta, "id")
			return
		}
		o.Meta["id"] = id
	}
}

// WithSource sets the source text.
func WithSource(src string) Option {
	return func(o *Op) { o.Source = src }
}

// WithoutSource leaves the source file out.
func WithoutSource() Option {
	return func(o *Op) { o.noSource = true }
}

// WithoutMeta leaves the metadata file out.
func WithoutMeta() Option {
	return func(o *Op) { o.noMeta = true }
}

// WithRawMeta writes meta verbatim as the metadata file.
func WithRawMeta(meta string) Option {
	return func(o *Op) { o.rawMeta = meta }
}

// WithMetaField sets one metadata field.
func WithMetaField(key string, value any) Option {
	return func(o *Op) { o.Meta[key] = value }
}

// WithDoc sets the Markdown doc.
func WithDoc(doc string) Option {
	return func(o *Op) { o.Doc = doc }
}

// WithAttachment adds an attachment file.
func WithAttachment(file, content string) Option {
	return func(o *Op) {
		if o.Attachments == nil {
			o.Attachments = make(map[string]string)
		}
		o.Attachments[file] = content
	}
}
