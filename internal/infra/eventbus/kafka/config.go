// Package kafka publishes domain events and outbound notifications to Kafka.
package kafka

import "context"

// BrokerMetrics tracks successful and failed publishes per topic.
type BrokerMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// Config contains settings for connecting to the Kafka brokers and the
// topics messages are routed to.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string

	// EventsTopic receives every batch and term domain event.
	EventsTopic string
	// NotificationsTopic receives delivery requests for EMAIL and PORTAL
	// notifications. Downstream mailers and the portal consume it.
	NotificationsTopic string
}
