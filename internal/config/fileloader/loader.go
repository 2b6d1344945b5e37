// Package fileloader reads the service configuration from a YAML file.
package fileloader

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/term-closure/internal/config"
)

var _ config.Loader = (*FileLoader)(nil)

// FileLoader loads configuration from a file on disk. Fields missing from the
// file keep their values from config.Default.
type FileLoader struct {
	path string
}

// NewFileLoader creates a FileLoader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the file. A missing file yields the defaults.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	cfg := config.Default()
	if l.path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
