// SPDX-License-Identifier: MPL-2.0

// Package opname implements the op name grammar.
//
// An op name is a dot-separated hierarchical string whose first segment is
// always "Ops". The prefix decides the namespace category:
//
//   - Ops.User.<username>.…      user ops, private to their owner
//   - Ops.Team.<team>.…          team ops
//   - Ops.Extension.<ext>.…      extension ops
//   - Ops.Patch.P<shortid>.…     ops owned by a single project
//   - Ops.Admin.…                admin ops
//   - anything else              core ops
//
// Versions are encoded in the name: a trailing "_vN" on the last segment
// marks version N. Names without a suffix are version 0 (canonical).
//
// All helpers in this package are pure string functions. None of them
// touch the filesystem.
package opname
