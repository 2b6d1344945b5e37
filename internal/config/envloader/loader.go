// Package envloader layers TERMCLOSE_* environment variables over a base
// configuration.
package envloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ahrav/term-closure/internal/config"
)

// Prefix is prepended to every environment key, e.g. TERMCLOSE_API_PORT or
// TERMCLOSE_SCHEDULER_WORKER_COUNT.
const Prefix = "TERMCLOSE"

var _ config.Loader = (*EnvLoader)(nil)

// EnvLoader overrides fields of the config produced by base with values from
// the environment.
type EnvLoader struct {
	base config.Loader
}

// New wraps base. A nil base starts from config.Default.
func New(base config.Loader) *EnvLoader {
	return &EnvLoader{base: base}
}

func (l *EnvLoader) Load(ctx context.Context) (*config.Config, error) {
	cfg := config.Default()
	if l.base != nil {
		var err error
		if cfg, err = l.base.Load(ctx); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetEnvPrefix(Prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so register
	// every leaf with its current value.
	var current map[string]any
	if err := mapstructure.Decode(cfg, &current); err != nil {
		return nil, fmt.Errorf("failed to flatten config: %w", err)
	}
	registerDefaults(v, "", current)

	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return cfg, nil
}

func registerDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			registerDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}
