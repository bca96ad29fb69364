// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE parsing utilities.
//
// The config file and op metadata documents are both validated against an
// embedded CUE schema before being decoded into Go structs. JSON is valid
// CUE, so op metadata (<name>.json) goes through the same path as the TOML
// derived configuration:
//
//  1. Compile the embedded schema
//  2. Compile the document and unify with the schema definition
//  3. Validate and decode to a Go struct
//
// # Usage
//
//	//go:embed opmeta_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Meta](
//	    schemaBytes,
//	    data,
//	    "#OpMeta",
//	    cueutil.WithFilename("Ops.Gl.Blur.json"),
//	    cueutil.WithConcrete(false),
//	)
//	if err != nil {
//	    return nil, err  // Error includes the CUE path of the offending field
//	}
//	return result.Value, nil
package cueutil
