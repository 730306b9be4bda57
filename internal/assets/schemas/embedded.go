// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so the CLI and library validate
// manifests regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// DeploymentManifestSchema is the embedded deployment-manifest JSON schema.
//
//go:embed deployment-manifest.schema.json
var DeploymentManifestSchema []byte
