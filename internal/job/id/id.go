// Package id provides identifier generation for runs owned by this service.
// Job ids are issued by providers; batch and pipeline runs get local ids.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes for locally generated identifiers.
const (
	PrefixBatch    = "batch"
	PrefixPipeline = "pipe"
)

// Generate creates a new unique identifier with the given prefix.
// Format: <prefix>-<uuid without dashes>
// Example: batch-1b4e28ba2fa1411fa7b1c5a2b4d6e8f0
func Generate(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Batch returns a new batch run identifier.
func Batch() string { return Generate(PrefixBatch) }

// Pipeline returns a new pipeline run identifier.
func Pipeline() string { return Generate(PrefixPipeline) }
