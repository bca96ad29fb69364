// SPDX-License-Identifier: MPL-2.0

// Package opversion resolves op versions among a set of candidate names.
//
// Versions live entirely in the op name (see package opname). Comparison is
// always numeric on the parsed version, never lexicographic on the string,
// so "Foo_v10" is newer than "Foo_v9".
package opversion

import (
	"sort"

	"github.com/opforge/opforge/pkg/opname"
)

// Entry is one version of an op found in a candidate set.
type Entry struct {
	// Name is the full op name as it appears in the candidate set.
	Name string
	// Version is the parsed numeric version (0 for the unversioned name).
	Version int
	// Suffix is the canonical suffix string ("" for version 0, "_vN" otherwise).
	Suffix string
}

// VersionsOf returns every candidate sharing the unversioned base of name,
// ordered by ascending version. Candidates with equal versions keep their
// relative input order.
func VersionsOf(name string, candidates []string) []Entry {
	base := opname.WithoutVersion(name)
	var entries []Entry
	for _, candidate := range candidates {
		if opname.WithoutVersion(candidate) != base {
			continue
		}
		v := opname.VersionOf(candidate)
		entries = append(entries, Entry{
			Name:    candidate,
			Version: v,
			Suffix:  opname.VersionSuffix(v),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Version < entries[j].Version
	})
	return entries
}

// HighestVersion returns the highest version among the candidates that
// share name's base, or 0 when there are none.
func HighestVersion(name string, candidates []string) int {
	highest := 0
	for _, e := range VersionsOf(name, candidates) {
		if e.Version > highest {
			highest = e.Version
		}
	}
	return highest
}

// HasAnyVersion reports whether any candidate shares name's base.
func HasAnyVersion(name string, candidates []string) bool {
	return len(VersionsOf(name, candidates)) > 0
}

// IsSuperseded reports whether a sibling with a higher version than name
// exists among the candidates.
func IsSuperseded(name string, candidates []string) bool {
	return HighestVersion(name, candidates) > opname.VersionOf(name)
}

// NextVersionName returns the name the next version of name should use.
// When the unversioned base is not among the candidates it is returned as
// is. Otherwise the result is base_v2 when the highest version is 0, and
// base_v(highest+1) above that.
func NextVersionName(name string, candidates []string) string {
	base := opname.WithoutVersion(name)
	exists := false
	for _, candidate := range candidates {
		if candidate == base {
			exists = true
			break
		}
	}
	if !exists {
		return base
	}

	highest := HighestVersion(name, candidates)
	if highest == 0 {
		return base + opname.VersionSuffix(2)
	}
	return base + opname.VersionSuffix(highest+1)
}
