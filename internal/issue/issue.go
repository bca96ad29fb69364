// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"

	"github.com/charmbracelet/glamour"
)

type Id int

const (
	InvalidNameId Id = iota + 1
	OpNotFoundId
	TargetExistsId
	PermissionDeniedId
	VersionGapId
	FormatFailedId
	RenameIncompleteId
	DuplicateIdentityId
	StoreUnavailableId
	ConfigLoadFailedId
	BundleOpSkippedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	category error       // taxonomy sentinel the issue belongs to
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // documentation about the issue type
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) Category() error {
	return i.category
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	invalidNameIssue = &Issue{
		id:       InvalidNameId,
		category: ErrValidation,
		mdMsg: `
# Invalid op name!

Op names are dotted paths that start with the root namespace ` + "`Ops`" + `.

## Rules
- At least 5 characters, no trailing dot
- Every segment starts with a letter or underscore
- Only letters, digits and underscores, except the owner segment of
  ` + "`Ops.Team.*`" + ` and ` + "`Ops.Patch.*`" + ` names, which may contain ` + "`-`" + `
- Names never start with ` + "`Ops.Ops.`" + `

## Examples
~~~
Ops.Gl.Blur_v3
Ops.User.alice.MyTool
Ops.Team.acme-labs.Shared
~~~`,
	}

	opNotFoundIssue = &Issue{
		id:       OpNotFoundId,
		category: ErrIO,
		mdMsg: `
# Op not found!

No directory exists for the requested op in the ops repository.

## Things you can try:
- Check the spelling, op names are case sensitive
- List the ops of a collection:
~~~
$ opforge doc list Ops.User.alice
~~~
- Rebuild the identity map if ids and names drifted apart:
~~~
$ opforge id rebuild
~~~`,
	}

	targetExistsIssue = &Issue{
		id:       TargetExistsId,
		category: ErrConflict,
		mdMsg: `
# Target op already exists!

A rename or copy never overwrites an existing op.

## Things you can try:
- Pick the next free version name:
~~~
$ opforge version next Ops.Gl.Foo
~~~
- Delete or rename the existing op first`,
	}

	permissionDeniedIssue = &Issue{
		id:       PermissionDeniedId,
		category: ErrPermission,
		mdMsg: `
# Permission denied!

You do not hold the rights needed on one of the ops involved.

## Who can write what
- **Core** and **Admin** ops: administrators only
- **User** ops: the owning user
- **Team** and **Extension** ops: team members with write access whose
  team owns the namespace
- **Patch** ops: collaborators of the matching project

## Things you can try:
- Check your rights on the op:
~~~
$ opforge rights Ops.Team.acme.Foo --user alice
~~~
- Ask a team owner for write access`,
	}

	versionGapIssue = &Issue{
		id:       VersionGapId,
		category: ErrValidation,
		mdMsg: `
# Version gap!

The requested version skips past the next free version of this op.

## Things you can try:
- Use the suggested next version instead
- Pass ` + "`--ignore-version-gap`" + ` if the gap is intentional`,
	}

	formatFailedIssue = &Issue{
		id:       FormatFailedId,
		category: ErrFormat,
		mdMsg: `
# Formatter reported a fatal error!

The op source could not be formatted, so the rename was not started.

## Things you can try:
- Fix the syntax error reported by the formatter
- Disable formatting in your config file:
~~~toml
[formatter]
enabled = false
~~~`,
	}

	renameIncompleteIssue = &Issue{
		id:       RenameIncompleteId,
		category: ErrIO,
		mdMsg: `
# Rename did not complete!

A step of the rename failed after files were already copied. The
execution log shows the furthest step reached.

## Things you can try:
- Inspect the new op directory and remove it if it is incomplete
- Rebuild the identity map so ids point at existing ops:
~~~
$ opforge id rebuild
~~~`,
	}

	duplicateIdentityIssue = &Issue{
		id:       DuplicateIdentityId,
		category: ErrConflict,
		mdMsg: `
# Duplicate op identity!

Two op directories claim the same id, or one name maps to two ids.
The first entry found was kept, the rest were reported.

## Things you can try:
- Give one of the ops a fresh id by copying it with ` + "`opforge rename --copy`" + `
- Remove the stale copy from the ops repository`,
	}

	storeUnavailableIssue = &Issue{
		id:       StoreUnavailableId,
		category: ErrIO,
		mdMsg: `
# Document store unavailable!

The identity map or doc cache could not be read or written.

## Things you can try:
- Check the store section of your config:
~~~toml
[store]
backend = "file"   # or "sqlite"
dir = "~/.opforge/store"
~~~
- Make sure the directory or database file is writable`,
	}

	configLoadFailedIssue = &Issue{
		id:       ConfigLoadFailedId,
		category: ErrValidation,
		mdMsg: `
# Failed to load configuration!

The configuration file did not validate against the schema.

## Things you can try:
- Print the effective configuration:
~~~
$ opforge config show
~~~
- Write a fresh default file:
~~~
$ opforge config init
~~~`,
	}

	bundleOpSkippedIssue = &Issue{
		id:       BundleOpSkippedId,
		category: ErrIO,
		mdMsg: `
# Op left out of the bundle!

One op could not be read and was skipped. The other ops were bundled.

## Things you can try:
- Check that the op has a source file and valid metadata
- Run ` + "`opforge doc list`" + ` to spot half-written ops`,
	}

	issues = map[Id]*Issue{
		invalidNameIssue.Id():       invalidNameIssue,
		opNotFoundIssue.Id():        opNotFoundIssue,
		targetExistsIssue.Id():      targetExistsIssue,
		permissionDeniedIssue.Id():  permissionDeniedIssue,
		versionGapIssue.Id():        versionGapIssue,
		formatFailedIssue.Id():      formatFailedIssue,
		renameIncompleteIssue.Id():  renameIncompleteIssue,
		duplicateIdentityIssue.Id(): duplicateIdentityIssue,
		storeUnavailableIssue.Id():  storeUnavailableIssue,
		configLoadFailedIssue.Id():  configLoadFailedIssue,
		bundleOpSkippedIssue.Id():   bundleOpSkippedIssue,
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return int(a.id) - int(b.id)
	})
}

func Get(id Id) *Issue {
	return issues[id]
}

// ForError picks the catalog entry whose category matches err, or nil.
// Conflicts and I/O errors map to their most common entry.
func ForError(err error) *Issue {
	switch CategoryName(err) {
	case "validation":
		return invalidNameIssue
	case "permission":
		return permissionDeniedIssue
	case "conflict":
		return targetExistsIssue
	case "format":
		return formatFailedIssue
	case "io":
		return opNotFoundIssue
	default:
		return nil
	}
}
