package source

// Registry maps source schema names to their implementations.
type Registry struct {
	schemas map[string]Schema
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with the built-in schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]Schema)}

	r.Register(&Shopify{})
	r.Register(NewCSVFeed("marketplace", "2025-01", DefaultMarketplaceMapping()))

	return r
}

// Register adds a schema to the registry.
func (r *Registry) Register(s Schema) {
	name := s.Name()
	if _, exists := r.schemas[name]; !exists {
		r.order = append(r.order, name)
	}
	r.schemas[name] = s
}

// Resolve returns the schema for a source at the given version. An empty
// version resolves only when the source has exactly one registered schema.
// A miss is an UnknownSchemaError: the caller rejects that source's batch
// rather than silently coercing it.
func (r *Registry) Resolve(source, version string) (Schema, error) {
	if version != "" {
		s, ok := r.schemas[schemaName(source, version)]
		if !ok {
			return nil, &UnknownSchemaError{Source: source, Version: version}
		}
		return s, nil
	}

	var match Schema
	for _, name := range r.order {
		s := r.schemas[name]
		if s.Source() != source {
			continue
		}
		if match != nil {
			return nil, &UnknownSchemaError{Source: source, Version: "(ambiguous)"}
		}
		match = s
	}
	if match == nil {
		return nil, &UnknownSchemaError{Source: source, Version: version}
	}
	return match, nil
}

// All returns all schemas in registration order.
func (r *Registry) All() []Schema {
	result := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.schemas[name])
	}
	return result
}

// Sources returns the distinct source names in registration order.
func (r *Registry) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range r.order {
		src := r.schemas[name].Source()
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

func schemaName(source, version string) string {
	return source + "@" + version
}
