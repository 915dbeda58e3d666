// Package source normalizes heterogeneous raw order payloads into the
// canonical RawOrder shape. Each source schema is a declarative mapping
// plus a decoder; adding a source means adding a mapping, not new logic.
package source

import (
	"fmt"

	"github.com/sells-group/sales-cli/internal/model"
)

// Schema decodes one source's native payload shape at a specific schema
// version. Normalize is a pure transform over its payload.
type Schema interface {
	// Name returns the unique identifier for this schema, e.g. "shopify@2024-10".
	Name() string

	// Source returns the sales channel source name, e.g. "shopify".
	Source() string

	// Version returns the source schema version this decoder understands.
	Version() string

	// Normalize converts one raw snapshot payload into canonical raw
	// orders. Records with an unusable creation timestamp are dropped and
	// counted, not fatal.
	Normalize(payload []byte) ([]model.RawOrder, int64, error)
}

// UnknownSchemaError reports a raw record batch from a source+version the
// registry does not recognize. It is fatal for that source's batch only.
type UnknownSchemaError struct {
	Source  string
	Version string
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("source: unrecognized schema %s@%s", e.Source, e.Version)
}
