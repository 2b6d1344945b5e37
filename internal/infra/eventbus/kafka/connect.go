package kafka

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/term-closure/pkg/common/logger"
)

// ConnectWithRetry dials Kafka with exponential backoff, retrying for up to
// maxElapsed. Brokers that come up after the service are tolerated this way.
func ConnectWithRetry(
	cfg *Config,
	logger *logger.Logger,
	metrics BrokerMetrics,
	tracer trace.Tracer,
	maxElapsed time.Duration,
) (*Publisher, error) {
	var pub *Publisher

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = 2 * time.Second

	operation := func() error {
		var err error
		pub, err = NewPublisherFromConfig(cfg, logger, metrics, tracer)
		return err
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}
	return pub, nil
}
