// SPDX-License-Identifier: MPL-2.0

// Package identity maintains the persisted bidirectional map between stable
// op ids and current op names.
//
// The map lives in a single docstore document. It is loaded lazily, cached
// in memory and dropped by Invalidate, which Watch calls whenever the
// document changes on disk. Readers never write: Lookup and NameFor only
// consult the map, while ResolveOrCreate is the explicit path that may mint
// a new id and write it back into the op's metadata.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/opforge/opforge/internal/docstore"
	"github.com/opforge/opforge/internal/issue"
	"github.com/opforge/opforge/internal/opfs"
	"github.com/opforge/opforge/pkg/opname"
)

// StoreKey is the docstore key of the identity map document.
const StoreKey = "opids.json"

// ErrUnknownOp is returned by ResolveOrCreate for names without an op directory.
var ErrUnknownOp = errors.New("op does not exist")

type (
	// MetaSource gives access to op metadata. *opfs.Repo implements it.
	MetaSource interface {
		Exists(name string) bool
		ReadMeta(name string) (*opfs.Meta, error)
		WriteMeta(name string, meta *opfs.Meta) error
		ListOpsWithDiagnostics() ([]string, []issue.Diagnostic, error)
	}

	// Lookup is the identity map service.
	Lookup struct {
		store  docstore.Store
		logger *log.Logger

		mu       sync.Mutex
		loaded   bool
		degraded bool
		ids      map[string]string // id -> name
		names    map[string]string // name -> id
	}

	document struct {
		IDs   map[string]string `json:"ids"`
		Names map[string]string `json:"names"`
	}
)

// New returns a Lookup persisting to store. A nil logger discards output.
func New(store docstore.Store, logger *log.Logger) *Lookup {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Lookup{store: store, logger: logger}
}

// Lookup returns the id registered for name. A cache miss re-reads the
// store once before reporting the name as unknown.
func (l *Lookup) Lookup(ctx context.Context, name string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ensureLoaded(ctx)
	if id, ok := l.names[name]; ok {
		return id, true
	}
	l.reload(ctx)
	id, ok := l.names[name]
	return id, ok
}

// NameFor returns the name currently registered for id.
func (l *Lookup) NameFor(ctx context.Context, id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ensureLoaded(ctx)
	if name, ok := l.ids[id]; ok {
		return name, true
	}
	l.reload(ctx)
	name, ok := l.ids[id]
	return name, ok
}

// ResolveOrCreate returns the id of the op called name, assigning one if
// needed. The id stored in the op's metadata wins; without one a new UUID
// is minted and written back. An id already registered to another existing
// op (a copied directory) is replaced by a fresh one.
func (l *Lookup) ResolveOrCreate(ctx context.Context, src MetaSource, name string) (string, error) {
	if err := opname.Name(name).Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", issue.ErrValidation, err)
	}
	if id, ok := l.Lookup(ctx, name); ok {
		return id, nil
	}
	if !src.Exists(name) {
		return "", issue.WrapWithContext(ErrUnknownOp, "resolve op id", name, issue.ErrIO)
	}

	meta, err := src.ReadMeta(name)
	switch {
	case errors.Is(err, opfs.ErrNoMeta):
		meta = &opfs.Meta{}
	case err != nil:
		return "", err
	}

	id := meta.ID
	if id != "" {
		if other, ok := l.NameFor(ctx, id); ok && other != name && src.Exists(other) {
			l.logger.Warn("op id already claimed, minting a new one", "name", name, "id", id, "owner", other)
			id = ""
		}
	}
	if id == "" {
		id = uuid.NewString()
		meta.ID = id
		if err := src.WriteMeta(name, meta); err != nil {
			return "", err
		}
		l.logger.Info("assigned op id", "name", name, "id", id)
	}

	if err := l.Register(ctx, id, name); err != nil {
		l.logger.Warn("op id not persisted to identity map", "name", name, "id", id, "error", err)
	}
	return id, nil
}

// Register maps id to name, dropping any previous mapping of either side.
// The store is written only when the map changes.
func (l *Lookup) Register(ctx context.Context, id, name string) error {
	if id == "" || name == "" {
		return fmt.Errorf("%w: register needs both id and name", issue.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ensureLoaded(ctx)
	if l.degraded {
		return l.degradedError("register op id", name)
	}
	if l.ids[id] == name && l.names[name] == id {
		return nil
	}

	ids, names := maps.Clone(l.ids), maps.Clone(l.names)
	if oldName, ok := ids[id]; ok {
		delete(names, oldName)
	}
	if oldID, ok := names[name]; ok {
		delete(ids, oldID)
	}
	ids[id] = name
	names[name] = id
	return l.commit(ctx, ids, names)
}

// Remove drops every entry whose name is name.
func (l *Lookup) Remove(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ensureLoaded(ctx)
	if l.degraded {
		return l.degradedError("remove op id", name)
	}

	ids, names := maps.Clone(l.ids), maps.Clone(l.names)
	_, changed := names[name]
	delete(names, name)
	for id, n := range ids {
		if n == name {
			delete(ids, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return l.commit(ctx, ids, names)
}

// Invalidate drops the cached map; the next call reloads it from the store.
func (l *Lookup) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
}

// Len returns the number of registered ids.
func (l *Lookup) Len(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded(ctx)
	return len(l.ids)
}

// Rebuild rescans every op in src and replaces the map with the ids found
// in their metadata. Ops without metadata or without an id are left for
// ResolveOrCreate. Collisions and unreadable directories are reported as
// diagnostics; the first op in name order keeps a contested id.
func (l *Lookup) Rebuild(ctx context.Context, src MetaSource) ([]issue.Diagnostic, error) {
	names, diags, err := src.ListOpsWithDiagnostics()
	if err != nil {
		return nil, err
	}

	var pairs []pair
	for _, name := range names {
		meta, err := src.ReadMeta(name)
		if errors.Is(err, opfs.ErrNoMeta) {
			continue
		}
		if err != nil {
			l.logger.Warn("skipping op with unreadable metadata", "name", name, "error", err)
			diags = append(diags, issue.NewDiagnostic(issue.SeverityWarning, issue.CodeNotAnOp,
				"metadata unreadable, op left out of identity map", name, err))
			continue
		}
		if meta.ID == "" {
			continue
		}
		pairs = append(pairs, pair{id: meta.ID, name: name})
	}

	ids, byName, conflicts := buildMaps(pairs)
	for _, d := range conflicts {
		l.logger.Warn(d.Message, "name", d.Path, "error", d.Cause)
	}
	diags = append(diags, conflicts...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.commit(ctx, ids, byName); err != nil {
		return diags, err
	}
	l.loaded, l.degraded = true, false
	return diags, nil
}

// Watch blocks until ctx is cancelled, invalidating the cache whenever the
// identity document changes.
func (l *Lookup) Watch(ctx context.Context) error {
	return l.store.Watch(ctx, StoreKey, l.Invalidate)
}

type pair struct{ id, name string }

// ConflictError describes an id or name claimed twice.
type ConflictError struct {
	ID     string
	Names  []string
	ByName bool
}

func (e *ConflictError) Error() string {
	if e.ByName {
		return fmt.Sprintf("name %s claimed by ids %v", e.Names[0], e.Names[1:])
	}
	return fmt.Sprintf("id %s claimed by %v", e.ID, e.Names)
}

func (e *ConflictError) Unwrap() error { return issue.ErrConflict }

// buildMaps turns pairs into a bijective map. Later duplicates lose.
func buildMaps(pairs []pair) (ids, names map[string]string, diags []issue.Diagnostic) {
	ids = make(map[string]string, len(pairs))
	names = make(map[string]string, len(pairs))
	for _, p := range pairs {
		if first, ok := ids[p.id]; ok {
			diags = append(diags, issue.NewDiagnostic(issue.SeverityWarning, issue.CodeDuplicateID,
				"duplicate op id", p.name, &ConflictError{ID: p.id, Names: []string{first, p.name}}))
			continue
		}
		if first, ok := names[p.name]; ok {
			diags = append(diags, issue.NewDiagnostic(issue.SeverityWarning, issue.CodeDuplicateName,
				"duplicate op name", p.name, &ConflictError{ByName: true, Names: []string{p.name, first, p.id}}))
			continue
		}
		ids[p.id] = p.name
		names[p.name] = p.id
	}
	return ids, names, diags
}

func (l *Lookup) ensureLoaded(ctx context.Context) {
	if !l.loaded {
		l.reload(ctx)
	}
}

// reload replaces the cache with the stored document. An unreadable or
// corrupt store degrades to an empty map.
func (l *Lookup) reload(ctx context.Context) {
	l.loaded = true
	l.degraded = false
	l.ids = map[string]string{}
	l.names = map[string]string{}

	data, err := l.store.Read(ctx, StoreKey)
	if errors.Is(err, docstore.ErrNotFound) {
		return
	}
	if err != nil {
		l.degrade(err)
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		l.degrade(err)
		return
	}

	// ids is authoritative; names is rederived so a hand-edited document
	// cannot break the bijection.
	pairs := make([]pair, 0, len(doc.IDs))
	for _, id := range slices.Sorted(maps.Keys(doc.IDs)) {
		pairs = append(pairs, pair{id: id, name: doc.IDs[id]})
	}
	ids, names, conflicts := buildMaps(pairs)
	for _, d := range conflicts {
		l.logger.Warn("inconsistent identity map", "name", d.Path, "error", d.Cause)
	}
	if len(conflicts) == 0 && len(doc.Names) != len(names) {
		l.logger.Warn("identity map name index out of sync, rederived", "ids", len(ids), "names", len(doc.Names))
	}
	l.ids, l.names = ids, names
}

func (l *Lookup) degrade(err error) {
	l.degraded = true
	l.logger.Warn("identity store unreadable, using empty map", "key", StoreKey, "error", err)
}

func (l *Lookup) degradedError(operation, name string) error {
	return issue.NewErrorContext().
		WithOperation(operation).
		WithResource(name).
		WithCategory(issue.ErrIO).
		WithSuggestion("Run 'opforge id rebuild' to recreate the identity map").
		Wrap(errors.New("identity store unreadable")).
		BuildError()
}

// commit writes ids and names to the store and only then makes them the
// cached map. A failed write leaves the cache as it was. l.mu must be held.
func (l *Lookup) commit(ctx context.Context, ids, names map[string]string) error {
	data, err := json.MarshalIndent(document{IDs: ids, Names: names}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity map: %w", err)
	}
	if err := l.store.Write(ctx, StoreKey, append(data, '\n')); err != nil {
		return issue.WrapWithContext(err, "write identity map", StoreKey, issue.ErrIO)
	}
	l.ids, l.names = ids, names
	return nil
}
