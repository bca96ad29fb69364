// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for opforge.
//
// This package implements the Cobra command hierarchy for the opforge CLI:
// op name inspection, identity lookups, rights checks, renames, bundle
// assembly, op docs, tree watching and configuration management.
package cmd
