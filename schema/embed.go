// Package schema provides the embedded JSON schema for descriptor table
// files.
package schema

import "embed"

// FS contains the embedded schema files.
//
//go:embed *.schema.json
var FS embed.FS
