// SPDX-License-Identifier: MPL-2.0

// Package doccache keeps per-collection summaries of op metadata.
//
// A collection's docs are rebuilt from the op tree on first use and
// persisted in the docstore under docs/<collection>.json. Mutations call
// Invalidate; reads between a change and the next rebuild may be stale.
package doccache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/opforge/opforge/internal/docstore"
	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/opfs"
	"github.com/opforge/opforge/pkg/opname"
	"github.com/opforge/opforge/pkg/opversion"
)

const keyPrefix = "docs/"

// ErrNoDoc is returned by GetDoc when the op is not part of its collection's docs.
var ErrNoDoc = errors.New("no doc for op")

type (
	// Source reads the op tree. *opfs.Repo implements it.
	Source interface {
		ListCollection(collection string) ([]string, error)
		ReadMeta(name string) (*opfs.Meta, error)
		HasSource(name string) bool
		ReadDoc(name string) ([]byte, error)
		Attachments(name string) ([]opfs.Attachment, error)
	}

	// Doc summarizes one op.
	Doc struct {
		ID          string                `json:"id"`
		Name        string                `json:"name"`
		ShortName   string                `json:"shortName"`
		Namespace   string                `json:"namespace"`
		Category    opname.Category       `json:"category"`
		Version     int                   `json:"version"`
		Deprecated  bool                  `json:"deprecated,omitempty"`
		DevOnly     bool                  `json:"devOnly,omitempty"`
		Superseded  bool                  `json:"superseded,omitempty"`
		Summary     string                `json:"summary,omitempty"`
		Author      string                `json:"author,omitempty"`
		Libs        []string              `json:"libs,omitempty"`
		CoreLibs    []string              `json:"coreLibs,omitempty"`
		Attachments []string              `json:"attachments,omitempty"`
		Changelog   []opfs.ChangelogEntry `json:"changelog,omitempty"`
		HasMarkdown bool                  `json:"hasMarkdown,omitempty"`
	}

	// Collection holds the docs of every op in one collection, sorted by name.
	Collection struct {
		Name string `json:"name"`
		Docs []Doc  `json:"docs"`
		// Diagnostics lists the directories skipped by the last rebuild.
		// They are not persisted.
		Diagnostics []issue.Diagnostic `json:"-"`
	}

	// Cache serves collection docs.
	Cache struct {
		repo   Source
		store  docstore.Store
		logger *log.Logger

		mu    sync.Mutex
		byKey map[string]*Collection
	}
)

// New returns a Cache reading ops from repo and persisting into store.
func New(repo Source, store docstore.Store, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Cache{
		repo:   repo,
		store:  store,
		logger: logger,
		byKey:  make(map[string]*Collection),
	}
}

// Key returns the docstore key of collection.
func Key(collection string) string {
	return keyPrefix + collection + ".json"
}

// IsCollection reports whether s names a collection rather than an op.
func IsCollection(s string) bool {
	if s == opname.Prefix {
		return true
	}
	return opname.CollectionOf(s+opname.Separator+"X") == s
}

// Get returns the docs of collection, rebuilding them when neither memory
// nor the store has a usable copy.
func (c *Cache) Get(ctx context.Context, collection string) (*Collection, error) {
	if !IsCollection(collection) {
		return nil, issue.NewErrorContext().
			WithOperation("get docs").
			WithResource(collection).
			WithCategory(issue.ErrValidation).
			WithSuggestion("Collections look like Ops, Ops.User.<name>, Ops.Team.<name>, Ops.Extension.<name> or Ops.Patch.<id>").
			Wrap(errors.New("not a collection")).
			BuildError()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.byKey[collection]; ok {
		return col, nil
	}
	if col, ok := c.load(ctx, collection); ok {
		c.byKey[collection] = col
		return col, nil
	}

	col, err := c.rebuild(collection)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode docs of %s: %w", collection, err)
	}
	if err := c.store.Write(ctx, Key(collection), append(data, '\n')); err != nil {
		c.logger.Warn("persisting docs failed", "collection", collection, "error", err)
	}
	c.byKey[collection] = col
	return col, nil
}

// GetDoc returns the doc of the op called name.
func (c *Cache) GetDoc(ctx context.Context, name string) (*Doc, error) {
	if err := opname.Name(name).Validate(); err != nil {
		return nil, issue.WrapWithContext(err, "get doc", name, issue.ErrValidation)
	}
	col, err := c.Get(ctx, opname.CollectionOf(name))
	if err != nil {
		return nil, err
	}
	for i := range col.Docs {
		if col.Docs[i].Name == name {
			return &col.Docs[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNoDoc)
}

// Invalidate drops the cached docs of an op's collection, or of the
// collection itself when nameOrCollection names one.
func (c *Cache) Invalidate(nameOrCollection string) {
	collection := nameOrCollection
	if !IsCollection(collection) {
		collection = opname.CollectionOf(nameOrCollection)
	}

	c.mu.Lock()
	delete(c.byKey, collection)
	c.mu.Unlock()

	if err := c.store.Delete(context.Background(), Key(collection)); err != nil {
		c.logger.Warn("dropping persisted docs failed", "collection", collection, "error", err)
	}
}

func (c *Cache) load(ctx context.Context, collection string) (*Collection, bool) {
	data, err := c.store.Read(ctx, Key(collection))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("reading persisted docs failed", "collection", collection, "error", err)
		return nil, false
	}
	var col Collection
	if err := json.Unmarshal(data, &col); err != nil || col.Name != collection {
		c.logger.Warn("discarding unusable persisted docs", "collection", collection, "error", err)
		return nil, false
	}
	return &col, true
}

// rebuild scans the collection. Directories missing metadata, an id or a
// source file are not ops yet and are skipped.
func (c *Cache) rebuild(collection string) (*Collection, error) {
	names, err := c.repo.ListCollection(collection)
	if err != nil {
		return nil, issue.WrapWithContext(err, "rebuild docs", collection, issue.ErrIO)
	}

	col := &Collection{Name: collection, Docs: []Doc{}}
	for _, name := range names {
		doc, reason, err := c.build(name, names)
		if doc == nil {
			c.logger.Warn("skipping directory during doc rebuild", "name", name, "reason", reason, "error", err)
			col.Diagnostics = append(col.Diagnostics, issue.NewDiagnostic(
				issue.SeverityWarning, issue.CodeNotAnOp, reason, name, err))
			continue
		}
		col.Docs = append(col.Docs, *doc)
	}
	c.logger.Debug("rebuilt docs", "collection", collection, "ops", len(col.Docs), "skipped", len(col.Diagnostics))
	return col, nil
}

func (c *Cache) build(name string, siblings []string) (*Doc, string, error) {
	meta, err := c.repo.ReadMeta(name)
	if err != nil {
		return nil, "metadata missing or invalid", err
	}
	if meta.ID == "" {
		return nil, "metadata has no id", nil
	}
	if !c.repo.HasSource(name) {
		return nil, "source file missing", nil
	}

	doc := &Doc{
		ID:         meta.ID,
		Name:       name,
		ShortName:  opname.ShortName(name),
		Namespace:  opname.NamespaceOf(name),
		Category:   opname.Classify(name),
		Version:    opname.VersionOf(name),
		Deprecated: opname.IsDeprecated(name),
		DevOnly:    opname.IsDevOnly(name),
		Superseded: opversion.IsSuperseded(name, siblings),
		Summary:    meta.Summary,
		Author:     meta.AuthorName,
		Libs:       meta.Libs,
		CoreLibs:   meta.CoreLibs,
		Changelog:  meta.Changelog,
	}

	if atts, err := c.repo.Attachments(name); err != nil {
		c.logger.Warn("listing attachments failed", "name", name, "error", err)
	} else {
		for _, a := range atts {
			doc.Attachments = append(doc.Attachments, a.File)
		}
	}
	if md, err := c.repo.ReadDoc(name); err != nil {
		c.logger.Warn("reading op doc failed", "name", name, "error", err)
	} else {
		doc.HasMarkdown = len(md) > 0
	}
	return doc, "", nil
}
