package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.10, cfg.Closure.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.StuckDetector.Interval)
	assert.Empty(t, cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "threshold above one", mutate: func(c *Config) { c.Closure.FailureThreshold = 1.5 }},
		{name: "no workers", mutate: func(c *Config) { c.Scheduler.WorkerCount = 0 }},
		{name: "bad port", mutate: func(c *Config) { c.API.Port = "http" }},
		{name: "bad management recipient", mutate: func(c *Config) { c.Distribution.ManagementRecipient = "principal" }},
		{name: "max below min conns", mutate: func(c *Config) { c.Database.MinConns = 5; c.Database.MaxConns = 2 }},
		{name: "brokers without topic", mutate: func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.EventsTopic = ""
		}},
		{name: "no output dir", mutate: func(c *Config) { c.Renderer.OutputDir = "" }},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
