package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
)

const (
	defaultNATSMaxReconnects = 10
	defaultNATSReconnectWait = 5 // seconds
	natsReconnectBuffer      = 8 * 1024 * 1024
)

var errNATSDisconnected = errors.New("nats not connected")

// NATSBus publishes each topic as a NATS subject. With NATSQueueGroup set,
// subscribers join a per-topic queue group so that one Harrier process of
// the group handles each message.
type NATSBus struct {
	conn   *nats.Conn
	queue  string
	logger *logger.Logger

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus dials cfg.NATSUrl, retrying the initial connect up to
// NATSMaxReconnects times NATSReconnectWait seconds apart.
func NewNATSBus(cfg domain.EventBusConfig, log *logger.Logger) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = defaultNATSMaxReconnects
	}
	waitSecs := cfg.NATSReconnectWait
	if waitSecs <= 0 {
		waitSecs = defaultNATSReconnectWait
	}
	wait := time.Duration(waitSecs) * time.Second

	opts := natsOptions(cfg.NATSToken, attempts, wait, log)

	var (
		conn *nats.Conn
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		log.Warn("NATS connect failed",
			logger.IntField("attempt", attempt),
			logger.IntField("max_attempts", attempts),
			logger.ErrorField(err),
		)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	log.Info("NATS connected",
		logger.StringField("url", conn.ConnectedUrl()),
		logger.StringField("server_id", conn.ConnectedServerId()),
	)
	return &NATSBus{
		conn:   conn,
		queue:  cfg.NATSQueueGroup,
		logger: log,
		subs:   make(map[*nats.Subscription]struct{}),
	}, nil
}

func natsOptions(token string, maxReconnects int, wait time.Duration, log *logger.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name("harrier"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(natsReconnectBuffer),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", logger.ErrorField(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", logger.StringField("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("NATS async error",
				logger.StringField("subject", subject),
				logger.ErrorField(err),
			)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return opts
}

func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	data, err := encodeMessage(ctx, topic, payload)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers topic to handler on the NATS dispatch goroutine.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	deliver := func(m *nats.Msg) {
		msg, err := decodeMessage(m.Data)
		if err != nil {
			b.logger.Error("dropping undecodable NATS message",
				logger.StringField("subject", m.Subject),
				logger.ErrorField(err),
			)
			return
		}
		if err := handler(messageContext(ctx, msg), msg); err != nil {
			b.logger.Error("handler error",
				logger.StringField("subject", m.Subject),
				logger.StringField("message_id", msg.ID),
				logger.ErrorField(err),
			)
		}
	}

	var (
		ns  *nats.Subscription
		err error
	)
	if b.queue != "" {
		ns, err = b.conn.QueueSubscribe(topic, b.queue+"."+topic, deliver)
	} else {
		ns, err = b.conn.Subscribe(topic, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs[ns] = struct{}{}
	b.mu.Unlock()
	return &natsSubscription{topic: topic, sub: ns, bus: b}, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errNATSDisconnected
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops every subscription and the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for ns := range b.subs {
		_ = ns.Unsubscribe()
	}
	b.subs = make(map[*nats.Subscription]struct{})
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string { return s.topic }
