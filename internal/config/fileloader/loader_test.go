package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/term-closure/internal/config"
)

func TestFileLoader_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  port: "9000"
scheduler:
  worker_count: 8
  storage_retry_interval: 1s
closure:
  failure_threshold: 0.25
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
distribution:
  management_recipient: principal@school.test
`), 0o644))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.API.Port)
	assert.Equal(t, 8, cfg.Scheduler.WorkerCount)
	assert.Equal(t, time.Second, cfg.Scheduler.StorageRetryInterval)
	assert.Equal(t, 0.25, cfg.Closure.FailureThreshold)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "principal@school.test", cfg.Distribution.ManagementRecipient)

	// Untouched sections keep their defaults.
	assert.Equal(t, config.Default().StuckDetector, cfg.StuckDetector)
	assert.NoError(t, cfg.Validate())
}

func TestFileLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestFileLoader_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [unclosed"), 0o644))

	_, err := NewFileLoader(path).Load(context.Background())
	assert.Error(t, err)
}
