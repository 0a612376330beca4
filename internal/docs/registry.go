package docs

import "context"

// Registry is the external document-registry collaborator. The structure
// manager registers seeded documents with it and the default context
// loader queries it; the engine never depends on its internals.
type Registry interface {
	// Register records a document's canonical path for a type + feature.
	Register(ctx context.Context, docType, feature, path string) error

	// Lookup resolves the canonical path for a type + feature. Returns
	// ("", nil) when the registry has no entry.
	Lookup(ctx context.Context, docType, feature string) (string, error)
}

// NopRegistry is the stand-in used when no registry is wired.
type NopRegistry struct{}

func (NopRegistry) Register(context.Context, string, string, string) error { return nil }

func (NopRegistry) Lookup(context.Context, string, string) (string, error) { return "", nil }
