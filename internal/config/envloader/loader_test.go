package envloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/term-closure/internal/config"
)

type staticLoader struct {
	cfg *config.Config
	err error
}

func (s staticLoader) Load(context.Context) (*config.Config, error) { return s.cfg, s.err }

func TestEnvLoader_OverridesBase(t *testing.T) {
	base := config.Default()
	base.API.Port = "9000"
	base.Closure.FailureThreshold = 0.2

	t.Setenv("TERMCLOSE_API_PORT", "9100")
	t.Setenv("TERMCLOSE_SCHEDULER_WORKER_COUNT", "12")
	t.Setenv("TERMCLOSE_STUCK_DETECTOR_THRESHOLD", "30m")
	t.Setenv("TERMCLOSE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TERMCLOSE_DATABASE_URL", "postgres://u:p@db:5432/school")

	cfg, err := New(staticLoader{cfg: base}).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.API.Port)
	assert.Equal(t, 12, cfg.Scheduler.WorkerCount)
	assert.Equal(t, 30*time.Minute, cfg.StuckDetector.Threshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "postgres://u:p@db:5432/school", cfg.Database.URL)
	assert.Equal(t, 0.2, cfg.Closure.FailureThreshold, "base values without an override are kept")
}

func TestEnvLoader_NilBaseUsesDefaults(t *testing.T) {
	cfg, err := New(nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.Default().API, cfg.API)
}

func TestEnvLoader_BaseError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(staticLoader{err: boom}).Load(context.Background())
	assert.ErrorIs(t, err, boom)
}
