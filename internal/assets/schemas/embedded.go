// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so the CLI and library validate
// correctly regardless of working directory or installation location.
package schemasassets

import _ "embed"

// ExperimentJobSchema is the embedded experiment-job JSON schema.
//
// Embedding lets manifest validation work in installed binaries and library
// consumers without schema files on disk.
//
//go:embed experiment-job.schema.json
var ExperimentJobSchema []byte
