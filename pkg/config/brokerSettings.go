package config

// BrokerSettings holds configuration for connecting to a message broker.
type BrokerSettings struct {
	Type     string `mapstructure:"type" validate:"required,oneof=rabbitmq gcp-pubsub"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	// ProjectID is only used by the GCP Pub/Sub backend.
	ProjectID string `mapstructure:"projectID"`
	// ConfirmPublish puts the RabbitMQ channel in confirm mode so Publish
	// only returns after the broker acknowledged durable receipt. Enabled
	// for the payment and order pipelines whose events must not be lost.
	ConfirmPublish bool `mapstructure:"confirm_publish"`
}

// ConsumerSettings describes the queue topology one consumer instance
// declares and binds on connect.
type ConsumerSettings struct {
	Queue              string   `mapstructure:"queue" validate:"required"`
	DeadLetterQueue    string   `mapstructure:"dead_letter_queue" validate:"required"`
	DeadLetterExchange string   `mapstructure:"dead_letter_exchange"`
	// Bindings is the explicit list of routing keys the service consumes.
	// Enumerated on purpose: a wildcard binding would silently consume
	// unrelated event types.
	Bindings []string `mapstructure:"bindings" validate:"required,min=1"`
	Prefetch int      `mapstructure:"prefetch" validate:"gte=0"`
}
