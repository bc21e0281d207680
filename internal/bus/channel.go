package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

const defaultChannelBuffer = 1000

// ChannelBus delivers messages in process. Each subscriber drains its own
// buffered queue on its own goroutine, so a slow handler only delays its
// own topic. A message that finds a full queue is dropped and logged.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	topics map[string]map[string]*channelSubscription
	closed bool
	logger *logger.Logger
}

type channelSubscription struct {
	id     string
	topic  string
	queue  chan *domain.Message
	cancel context.CancelFunc
	bus    *ChannelBus
}

// NewChannelBus creates a bus whose subscriber queues hold buffer messages.
func NewChannelBus(buffer int, log *logger.Logger) *ChannelBus {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &ChannelBus{
		buffer: buffer,
		topics: make(map[string]map[string]*channelSubscription),
		logger: log,
	}
}

// Publish enqueues the message for every current subscriber of topic. It
// never blocks.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := newMessage(ctx, topic, payload)
	for _, sub := range b.topics[topic] {
		select {
		case sub.queue <- msg:
		default:
			b.logger.Warn("subscriber queue full, message dropped",
				logger.StringField("topic", topic),
				logger.StringField("subscription", sub.id),
				logger.StringField("message_id", msg.ID),
			)
		}
	}
	return nil
}

// Subscribe starts delivering topic to handler until the subscription is
// cancelled, ctx ends or the bus closes.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:     uuid.New().String(),
		topic:  topic,
		queue:  make(chan *domain.Message, b.buffer),
		cancel: cancel,
		bus:    b,
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*channelSubscription)
	}
	b.topics[topic][sub.id] = sub

	go b.drain(subCtx, sub, handler)
	return sub, nil
}

func (b *ChannelBus) drain(ctx context.Context, sub *channelSubscription, handler domain.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.queue:
			if err := handler(messageContext(ctx, msg), msg); err != nil {
				b.logger.Error("handler error",
					logger.StringField("topic", msg.Topic),
					logger.StringField("message_id", msg.ID),
					logger.ErrorField(err),
				)
			}
		}
	}
}

func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close cancels every subscription; queued messages are discarded. Closing
// twice is a no-op.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.topics = nil
	return nil
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs := s.bus.topics[s.topic]; subs != nil {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	return nil
}

func (s *channelSubscription) Topic() string { return s.topic }
