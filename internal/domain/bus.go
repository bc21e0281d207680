package domain

import (
	"context"
	"time"
)

// EventBus carries Harrier's notifications between components and
// processes. Delivery is at most once.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers topic messages to handler until the subscription
	// is cancelled or ctx ends.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around a topic payload. Metadata carries the
// publisher's trace context.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active Subscribe registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus transport.
type EventBusConfig struct {
	// Type is "channel", "nats" or "kafka".
	Type string `mapstructure:"type"`

	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup, when set, load-balances each topic across the
	// processes sharing the group instead of fanning out to all of them.
	NATSQueueGroup string `mapstructure:"nats_queue_group"`

	KafkaBrokers       []string `mapstructure:"kafka_brokers"`
	KafkaConsumerGroup string   `mapstructure:"kafka_consumer_group"`

	// Publish circuit breaker; zero BreakerFailures disables it.
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// Standard topic names.
const (
	TopicEventIngested        = "harrier.event.ingested"
	TopicCorrelationRequested = "harrier.correlation.requested"
	TopicCorrelationCreated   = "harrier.correlation.created"
	TopicProfileUpdated       = "harrier.profile.updated"
	TopicAlert                = "harrier.alert"
)

// EventIngestedPayload is published after an event is stored.
type EventIngestedPayload struct {
	EventID   string    `json:"eventId"`
	Kind      EventKind `json:"kind"`
	SubjectID string    `json:"subjectId"`
}

// CorrelationCreatedPayload is published per subject after a pass commits.
type CorrelationCreatedPayload struct {
	SubjectID string   `json:"subjectId"`
	IDs       []string `json:"ids"`
}

// AlertPayload is published when an alert rule fires for a profile.
type AlertPayload struct {
	RuleID   string       `json:"ruleId"`
	RuleName string       `json:"ruleName"`
	Profile  *RiskProfile `json:"profile"`
}
