// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE decoding steps shared by the catalog index,
// build.cue descriptors and the host configuration: compile the embedded
// schema, unify it with the user document, validate, decode.
//
//	//go:embed build_schema.cue
//	var buildSchema []byte
//
//	res, err := cueutil.ParseAndDecode[Recipe](buildSchema, data, "#Build",
//	    cueutil.WithFilename(path))
//	if err != nil {
//	    return nil, err // carries the CUE path of the offending field
//	}
package cueutil
