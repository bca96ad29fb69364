// SPDX-License-Identifier: MPL-2.0

package opname

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Prefix is the fixed first segment of every op name.
	Prefix = "Ops"

	// Separator joins name segments.
	Separator = "."

	// MinLength is the shortest accepted op name.
	MinLength = 5

	// VersionMarker introduces the version suffix on the last segment.
	VersionMarker = "_v"

	// DeprecatedInfix marks deprecated ops.
	DeprecatedInfix = ".Deprecated."

	// DevInfix marks ops that only exist in development environments.
	DevInfix = ".Dev."

	// PrefixUser is the namespace prefix of user ops.
	PrefixUser = "Ops.User."
	// PrefixTeam is the namespace prefix of team ops.
	PrefixTeam = "Ops.Team."
	// PrefixExtension is the namespace prefix of extension ops.
	PrefixExtension = "Ops.Extension."
	// PrefixPatch is the namespace prefix of patch ops.
	PrefixPatch = "Ops.Patch."
	// PrefixAdmin is the namespace prefix of admin ops.
	PrefixAdmin = "Ops.Admin."

	// PatchMarker starts the patch segment of a patch op (Ops.Patch.P<shortid>).
	PatchMarker = "P"
)

const (
	// CategoryCore is the default category of ops outside every other prefix.
	CategoryCore Category = "core"
	// CategoryUser is the category of Ops.User.* ops.
	CategoryUser Category = "user"
	// CategoryTeam is the category of Ops.Team.* ops.
	CategoryTeam Category = "team"
	// CategoryExtension is the category of Ops.Extension.* ops.
	CategoryExtension Category = "extension"
	// CategoryPatch is the category of Ops.Patch.* ops.
	CategoryPatch Category = "patch"
	// CategoryAdmin is the category of Ops.Admin.* ops.
	CategoryAdmin Category = "admin"
)

var (
	// ErrInvalidName is the sentinel error wrapped by InvalidNameError.
	ErrInvalidName = errors.New("invalid op name")

	// ErrInvalidCategory is returned when a Category value is not recognized.
	ErrInvalidCategory = errors.New("invalid op category")

	categories = []Category{
		CategoryCore, CategoryUser, CategoryTeam,
		CategoryExtension, CategoryPatch, CategoryAdmin,
	}
)

type (
	// Name is a dotted hierarchical op name such as "Ops.Gl.Image.Blur_v3".
	Name string

	// Category is the namespace category derived from a name prefix.
	Category string

	// InvalidNameError is returned when a Name does not satisfy the grammar.
	// It wraps ErrInvalidName for errors.Is() compatibility.
	InvalidNameError struct {
		Value Name
	}

	// InvalidCategoryError is returned when a Category value is not recognized.
	InvalidCategoryError struct {
		Value Category
	}
)

// String returns the string representation of the Name.
func (n Name) String() string { return string(n) }

// Validate returns nil if the name satisfies the grammar.
func (n Name) Validate() error {
	if !Validate(string(n)) {
		return &InvalidNameError{Value: n}
	}
	return nil
}

// Error implements the error interface for InvalidNameError.
func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid op name %q", string(e.Value))
}

// Unwrap returns ErrInvalidName for errors.Is() compatibility.
func (e *InvalidNameError) Unwrap() error { return ErrInvalidName }

// String returns the string representation of the Category.
func (c Category) String() string { return string(c) }

// Validate returns nil if the Category is one of the known categories.
func (c Category) Validate() error {
	for _, known := range categories {
		if c == known {
			return nil
		}
	}
	return &InvalidCategoryError{Value: c}
}

// Error implements the error interface for InvalidCategoryError.
func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("invalid op category %q (valid: %v)", string(e.Value), categories)
}

// Unwrap returns ErrInvalidCategory for errors.Is() compatibility.
func (e *InvalidCategoryError) Unwrap() error { return ErrInvalidCategory }

// Categories returns every known category in a stable order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Validate reports whether name satisfies the op name grammar. It never
// panics; empty, short and malformed input all return false.
func Validate(name string) bool {
	if len(name) < MinLength {
		return false
	}
	if strings.HasSuffix(name, Separator) {
		return false
	}
	if strings.HasPrefix(name, Prefix+Separator+Prefix+Separator) {
		return false
	}

	segments := strings.Split(name, Separator)
	if len(segments) < 2 || segments[0] != Prefix {
		return false
	}

	dashSegment := -1
	if cat := Classify(name); cat == CategoryTeam || cat == CategoryPatch {
		dashSegment = 2
	}

	for i, seg := range segments {
		if !validSegment(seg, i == dashSegment) {
			return false
		}
	}
	return true
}

// validSegment checks one segment: non-empty, [A-Za-z0-9_] (plus '-' when
// allowDash is set), not starting with a digit or '-'.
func validSegment(seg string, allowDash bool) bool {
	if seg == "" {
		return false
	}
	first := seg[0]
	if first == '-' || (first >= '0' && first <= '9') {
		return false
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		case c == '-' && allowDash:
		default:
			return false
		}
	}
	return true
}

// Classify returns the namespace category of name. It is a pure prefix
// match; CategoryCore is returned when no other prefix applies.
func Classify(name string) Category {
	switch {
	case strings.HasPrefix(name, PrefixUser):
		return CategoryUser
	case strings.HasPrefix(name, PrefixTeam):
		return CategoryTeam
	case strings.HasPrefix(name, PrefixExtension):
		return CategoryExtension
	case strings.HasPrefix(name, PrefixPatch):
		return CategoryPatch
	case strings.HasPrefix(name, PrefixAdmin):
		return CategoryAdmin
	default:
		return CategoryCore
	}
}

// ShortName returns the last segment of name.
func ShortName(name string) string {
	if i := strings.LastIndex(name, Separator); i >= 0 {
		return name[i+1:]
	}
	return name
}

// NamespaceOf returns name without its last segment, with a trailing dot.
// "Ops.Gl.Foo" yields "Ops.Gl.". A name without separators yields "".
func NamespaceOf(name string) string {
	i := strings.LastIndex(name, Separator)
	if i < 0 {
		return ""
	}
	return name[:i+1]
}

// VersionOf returns the version encoded in the last segment of name.
// A missing suffix, or a suffix that is not a positive integer, is
// version 0. Malformed suffixes such as "_vabc" are not an error.
func VersionOf(name string) int {
	_, version, ok := splitVersion(ShortName(name))
	if !ok {
		return 0
	}
	return version
}

// WithoutVersion strips a numeric "_vN" suffix from the last segment.
// Names without a numeric suffix are returned unchanged.
func WithoutVersion(name string) string {
	short := ShortName(name)
	base, _, ok := splitVersion(short)
	if !ok {
		return name
	}
	return name[:len(name)-len(short)] + base
}

// VersionSuffix renders the canonical suffix for version: "" for version
// 0 and below, "_vN" otherwise.
func VersionSuffix(version int) string {
	if version <= 0 {
		return ""
	}
	return VersionMarker + strconv.Itoa(version)
}

// splitVersion splits a segment at its last "_v" marker. ok is false when
// there is no marker or the text after it is not a positive integer.
func splitVersion(segment string) (base string, version int, ok bool) {
	i := strings.LastIndex(segment, VersionMarker)
	if i <= 0 {
		return segment, 0, false
	}
	digits := segment[i+len(VersionMarker):]
	if digits == "" {
		return segment, 0, false
	}
	for j := 0; j < len(digits); j++ {
		if digits[j] < '0' || digits[j] > '9' {
			return segment, 0, false
		}
	}
	v, err := strconv.Atoi(digits)
	if err != nil || v <= 0 {
		return segment, 0, false
	}
	return segment[:i], v, true
}

// IsDeprecated reports whether name contains the deprecated infix.
func IsDeprecated(name string) bool {
	return strings.Contains(name, DeprecatedInfix)
}

// IsDevOnly reports whether name contains the dev-only infix.
func IsDevOnly(name string) bool {
	return strings.Contains(name, DevInfix)
}

// Owner returns the third segment of User, Team, Extension and Patch
// names (the username, team, extension or patch segment). It returns ""
// for Core and Admin names and for names too short to carry one.
func Owner(name string) string {
	switch Classify(name) {
	case CategoryUser, CategoryTeam, CategoryExtension, CategoryPatch:
	default:
		return ""
	}
	segments := strings.Split(name, Separator)
	if len(segments) < 4 {
		return ""
	}
	return segments[2]
}

// PatchShortID returns the project short id of a patch op
// ("Ops.Patch.Pab12.Foo" yields "ab12"), or "" for other names.
func PatchShortID(name string) string {
	if Classify(name) != CategoryPatch {
		return ""
	}
	return strings.TrimPrefix(Owner(name), PatchMarker)
}

// CollectionOf returns the collection an op belongs to. User, Team,
// Extension and Patch ops are grouped by their first three segments
// ("Ops.Team.Design"); Core and Admin ops share the "Ops" collection.
func CollectionOf(name string) string {
	owner := Owner(name)
	if owner == "" {
		return Prefix
	}
	segments := strings.SplitN(name, Separator, 4)
	return strings.Join(segments[:3], Separator)
}

// NamespaceChain returns every proper dotted prefix of name, shortest
// first: "Ops.Gl.Foo" yields ["Ops", "Ops.Gl"].
func NamespaceChain(name string) []string {
	segments := strings.Split(name, Separator)
	chain := make([]string, 0, len(segments)-1)
	for k := 1; k < len(segments); k++ {
		chain = append(chain, strings.Join(segments[:k], Separator))
	}
	return chain
}
