package policy

import "embed"

// The canonical policy corpus ships with the library so a node is usable
// with zero external configuration. Operators extend or replace it by
// pointing the catalog at a directory of their own bundles.
//
//go:embed bundles/*.yaml
var embeddedBundles embed.FS

// LoadEmbedded builds a snapshot from the embedded canonical corpus.
func LoadEmbedded(opts Options) (*Snapshot, error) {
	return LoadFS(embeddedBundles, "bundles", opts)
}
