// SPDX-License-Identifier: MPL-2.0

// Package opfs reads and writes the on-disk op repository.
//
// Every op lives in a directory named after the op. Core and Admin ops sit
// directly below base/, the other categories are grouped by owner:
//
//	base/Ops.Gl.Blur/
//	extensions/<ext>/Ops.Extension.<ext>.Foo/
//	teams/<team>/Ops.Team.<team>.Foo/
//	users/<username>/Ops.User.<username>.Foo/
//	patches/<patch>/Ops.Patch.<patch>.Foo/
//
// An op directory holds the source (<name>.js), the metadata (<name>.json,
// validated against the embedded #OpMeta CUE schema), an optional Markdown
// doc (<name>.md) and any number of att_* attachments.
package opfs
