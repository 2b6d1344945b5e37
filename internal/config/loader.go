package config

import "context"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration so files and environment overrides can be layered.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	Load(ctx context.Context) (*Config, error)
}
