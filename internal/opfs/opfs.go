// SPDX-License-Identifier: MPL-2.0

package opfs

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/pkg/cueutil"
	"github.com/opforge/opforge/pkg/opname"
)

const (
	// SourceExt is the extension of an op's source file.
	SourceExt = ".js"
	// MetaExt is the extension of an op's metadata file.
	MetaExt = ".json"
	// DocExt is the extension of an op's Markdown doc.
	DocExt = ".md"

	dirBase       = "base"
	dirExtensions = "extensions"
	dirTeams      = "teams"
	dirUsers      = "users"
	dirPatches    = "patches"
)

//go:embed opmeta_schema.cue
var metaSchema []byte

// ErrNoMeta is returned by ReadMeta when the op has no metadata file.
var ErrNoMeta = errors.New("op has no metadata")

type (
	// Repo is an op repository rooted at a directory.
	Repo struct {
		root   string
		logger *log.Logger
	}

	// Meta is the decoded <name>.json document. Fields the engine does not
	// model are kept in Extra and written back unchanged.
	Meta struct {
		ID         string           `json:"id,omitempty"`
		Summary    string           `json:"summary,omitempty"`
		AuthorName string           `json:"authorName,omitempty"`
		Libs       []string         `json:"libs,omitempty"`
		CoreLibs   []string         `json:"coreLibs,omitempty"`
		Changelog  []ChangelogEntry `json:"changelog,omitempty"`

		Extra map[string]json.RawMessage `json:"-"`
	}

	// ChangelogEntry is one entry of an op's changelog.
	ChangelogEntry struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
		Author  string `json:"author,omitempty"`
		Date    int64  `json:"date"`
	}
)

var metaKeys = []string{"id", "summary", "authorName", "libs", "coreLibs", "changelog"}

// New returns a Repo rooted at root. A nil logger discards output.
func New(root string, logger *log.Logger) *Repo {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Repo{root: root, logger: logger}
}

// Root returns the repository root directory.
func (r *Repo) Root() string { return r.root }

// Dir returns the directory of the op called name. The name must be valid.
func (r *Repo) Dir(name string) (string, error) {
	if err := opname.Name(name).Validate(); err != nil {
		return "", err
	}
	switch opname.Classify(name) {
	case opname.CategoryExtension:
		return filepath.Join(r.root, dirExtensions, opname.Owner(name), name), nil
	case opname.CategoryTeam:
		return filepath.Join(r.root, dirTeams, opname.Owner(name), name), nil
	case opname.CategoryUser:
		return filepath.Join(r.root, dirUsers, opname.Owner(name), name), nil
	case opname.CategoryPatch:
		return filepath.Join(r.root, dirPatches, opname.Owner(name), name), nil
	default:
		return filepath.Join(r.root, dirBase, name), nil
	}
}

// Exists reports whether the directory of the op called name exists.
func (r *Repo) Exists(name string) bool {
	dir, err := r.Dir(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// HasSource reports whether the op's source file exists.
func (r *Repo) HasSource(name string) bool {
	p, err := r.file(name, SourceExt)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (r *Repo) file(name, ext string) (string, error) {
	dir, err := r.Dir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+ext), nil
}

// ReadMeta reads and validates the op's metadata file. A missing file
// yields an error wrapping ErrNoMeta.
func (r *Repo) ReadMeta(name string) (*Meta, error) {
	p, err := r.file(name, MetaExt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNoMeta)
	}
	if err != nil {
		return nil, issue.WrapWithContext(err, "read op metadata", name, issue.ErrIO)
	}
	return ParseMeta(data, filepath.Base(p))
}

// ParseMeta validates data against the #OpMeta schema and decodes it.
func ParseMeta(data []byte, filename string) (*Meta, error) {
	result, err := cueutil.ParseAndDecode[Meta](metaSchema, data, "#OpMeta",
		cueutil.WithConcrete(false), cueutil.WithFilename(filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", issue.ErrValidation, err)
	}
	meta := result.Value

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", issue.ErrValidation, filename, err)
	}
	for _, k := range metaKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		meta.Extra = all
	}
	return meta, nil
}

// MarshalJSON writes the modeled fields merged with Extra, keys sorted.
func (m Meta) MarshalJSON() ([]byte, error) {
	type plain Meta
	known, err := json.Marshal(plain(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(m.Extra)+len(metaKeys))
	for k, v := range m.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// WriteMeta replaces the op's metadata file.
func (r *Repo) WriteMeta(name string, meta *Meta) error {
	p, err := r.file(name, MetaExt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata of %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("encode metadata of %s: %w", name, err)
	}
	buf.WriteByte('\n')
	return writeFileAtomic(p, buf.Bytes())
}

// ReadSource returns the op's source text.
func (r *Repo) ReadSource(name string) ([]byte, error) {
	p, err := r.file(name, SourceExt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, issue.WrapWithContext(err, "read op source", name, issue.ErrIO)
	}
	return data, nil
}

// WriteSource replaces the op's source text.
func (r *Repo) WriteSource(name string, src []byte) error {
	p, err := r.file(name, SourceExt)
	if err != nil {
		return err
	}
	return writeFileAtomic(p, src)
}

// ReadDoc returns the op's Markdown doc, or nil when there is none.
func (r *Repo) ReadDoc(name string) ([]byte, error) {
	p, err := r.file(name, DocExt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, issue.WrapWithContext(err, "read op doc", name, issue.ErrIO)
	}
	return data, nil
}

// ListOps returns the names of every op directory in the repository,
// sorted. Directories whose name is not a valid op name, or that sit in
// the wrong place for their category, are skipped. Unreadable category or
// owner directories are skipped with a warning; see ListOpsWithDiagnostics.
func (r *Repo) ListOps() ([]string, error) {
	names, _, err := r.ListOpsWithDiagnostics()
	return names, err
}

// ListOpsWithDiagnostics is ListOps that also reports every directory it
// could not read. Only an unreadable root is an error.
func (r *Repo) ListOpsWithDiagnostics() ([]string, []issue.Diagnostic, error) {
	if _, err := os.ReadDir(r.root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, issue.WrapWithContext(err, "list ops", r.root, issue.ErrIO)
	}

	var (
		names []string
		diags []issue.Diagnostic
	)
	collect := func(dir string) {
		ops, err := r.listDir(dir)
		if err != nil {
			diags = append(diags, r.unreadable(dir, err))
			return
		}
		names = append(names, ops...)
	}

	collect(filepath.Join(r.root, dirBase))
	for _, group := range []string{dirExtensions, dirTeams, dirUsers, dirPatches} {
		groupDir := filepath.Join(r.root, group)
		owners, err := readDirNames(groupDir)
		if err != nil {
			diags = append(diags, r.unreadable(groupDir, err))
			continue
		}
		for _, owner := range owners {
			collect(filepath.Join(groupDir, owner))
		}
	}

	slices.Sort(names)
	return names, diags, nil
}

func (r *Repo) unreadable(dir string, err error) issue.Diagnostic {
	r.logger.Warn("skipping unreadable op directory", "dir", dir, "error", err)
	return issue.NewDiagnostic(issue.SeverityWarning, issue.CodeDirUnreadable,
		"directory unreadable, its ops are left out", dir, err)
}

// ListCollection returns the sorted names of the ops in collection
// (see opname.CollectionOf).
func (r *Repo) ListCollection(collection string) ([]string, error) {
	var dir string
	if collection == opname.Prefix {
		dir = filepath.Join(r.root, dirBase)
	} else {
		probe := collection + opname.Separator + "X"
		if opname.CollectionOf(probe) != collection {
			return nil, fmt.Errorf("%w: not a collection: %q", issue.ErrValidation, collection)
		}
		opDir, err := r.Dir(probe)
		if err != nil {
			return nil, fmt.Errorf("%w: not a collection: %q", issue.ErrValidation, collection)
		}
		dir = filepath.Dir(opDir)
	}

	names, err := r.listDir(dir)
	if err != nil {
		return nil, err
	}
	names = slices.DeleteFunc(names, func(n string) bool {
		return opname.CollectionOf(n) != collection
	})
	slices.Sort(names)
	return names, nil
}

func (r *Repo) listDir(dir string) ([]string, error) {
	entries, err := readDirNames(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !opname.Validate(entry) {
			continue
		}
		want, err := r.Dir(entry)
		if err != nil || filepath.Clean(want) != filepath.Join(dir, entry) {
			r.logger.Warn("op directory in wrong location", "name", entry, "dir", dir)
			continue
		}
		names = append(names, entry)
	}
	return names, nil
}

// readDirNames lists the subdirectories of dir. A missing dir is empty.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, issue.WrapWithContext(err, "list ops", dir, issue.ErrIO)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func writeFileAtomic(p string, data []byte) (err error) {
	dir := filepath.Dir(p)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return issue.WrapWithContext(err, "write file", p, issue.ErrIO)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath) // best-effort cleanup
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return issue.WrapWithContext(err, "write file", p, issue.ErrIO)
	}
	if err = tmp.Close(); err != nil {
		return issue.WrapWithContext(err, "write file", p, issue.ErrIO)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return issue.WrapWithContext(err, "write file", p, issue.ErrIO)
	}
	if err = os.Rename(tmpPath, p); err != nil {
		return issue.WrapWithContext(err, "write file", p, issue.ErrIO)
	}
	return nil
}
