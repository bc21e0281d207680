package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
)

// KafkaBus implements EventBus on Kafka using franz-go. Each subscription
// runs its own consumer-group client; topics map one to one.
type KafkaBus struct {
	mu            sync.Mutex
	producer      *kgo.Client
	brokers       []string
	group         string
	subscriptions map[string]*kafkaSubscription
	closed        bool
	logger        *logger.Logger
}

type kafkaSubscription struct {
	id     string
	topic  string
	client *kgo.Client
	cancel context.CancelFunc
	done   chan struct{}
	bus    *KafkaBus
}

// NewKafkaBus creates the producer client. Brokers are contacted lazily;
// use Ping to verify connectivity.
func NewKafkaBus(cfg domain.EventBusConfig, log *logger.Logger) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("kafka event bus requires at least one broker")
	}
	group := cfg.KafkaConsumerGroup
	if group == "" {
		group = "harrier"
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.ClientID("harrier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaBus{
		producer:      producer,
		brokers:       cfg.KafkaBrokers,
		group:         group,
		subscriptions: make(map[string]*kafkaSubscription),
		logger:        log,
	}, nil
}

// Publish produces an enveloped message and waits for the broker ack.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	data, err := encodeMessage(ctx, topic, payload)
	if err != nil {
		return err
	}
	if err := b.producer.ProduceSync(ctx, &kgo.Record{Topic: topic, Value: data}).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins the consumer group for topic and dispatches records to
// handler until Unsubscribe or Close.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ClientID("harrier"),
		kgo.ConsumerGroup(b.group+"."+topic),
		kgo.ConsumeTopics(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:     uuid.New().String(),
		topic:  topic,
		client: client,
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}
	go b.consume(subCtx, sub, handler)

	b.subscriptions[sub.id] = sub
	return sub, nil
}

func (b *KafkaBus) consume(ctx context.Context, sub *kafkaSubscription, handler domain.MessageHandler) {
	defer close(sub.done)

	for {
		fetches := sub.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		for _, fe := range fetches.Errors() {
			b.logger.Error("kafka fetch error",
				logger.StringField("topic", fe.Topic),
				logger.IntField("partition", int(fe.Partition)),
				logger.ErrorField(fe.Err),
			)
		}

		fetches.EachRecord(func(r *kgo.Record) {
			msg, err := decodeMessage(r.Value)
			if err != nil {
				b.logger.Error("failed to unmarshal kafka record",
					logger.StringField("topic", r.Topic),
					logger.ErrorField(err),
				)
				return
			}
			if err := handler(messageContext(ctx, msg), msg); err != nil {
				b.logger.Error("handler error",
					logger.StringField("topic", r.Topic),
					logger.StringField("message_id", msg.ID),
					logger.ErrorField(err),
				)
			}
		})
	}
}

// Ping checks broker connectivity.
func (b *KafkaBus) Ping(ctx context.Context) error {
	return b.producer.Ping(ctx)
}

// Close stops every consumer and closes the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.producer.Close()
	return nil
}

func (s *kafkaSubscription) stop() {
	s.cancel()
	<-s.done
	s.client.Close()
}

// Unsubscribe leaves the consumer group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, ok := s.bus.subscriptions[s.id]
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()

	if ok {
		s.stop()
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
