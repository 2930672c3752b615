// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so run configuration validation works
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// RunConfigSchema is the embedded run-configuration JSON schema.
//
//go:embed run-config.schema.json
var RunConfigSchema []byte
