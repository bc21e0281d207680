package bus

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
)

// BreakerBus guards Publish with a circuit breaker so a failing broker
// fails fast instead of stalling every producer. Subscriptions pass
// through untouched.
type BreakerBus struct {
	domain.EventBus
	cb *gobreaker.CircuitBreaker
}

// NewBreakerBus opens the circuit after failures consecutive publish errors
// and tries again after timeout.
func NewBreakerBus(next domain.EventBus, name string, failures uint32, timeout time.Duration, log *logger.Logger) *BreakerBus {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BreakerBus{
		EventBus: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "bus-" + name,
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("publish circuit breaker state changed",
					logger.StringField("breaker", name),
					logger.StringField("from", from.String()),
					logger.StringField("to", to.String()),
				)
			},
		}),
	}
}

// Publish forwards to the wrapped bus unless the circuit is open, in which
// case gobreaker.ErrOpenState is returned.
func (b *BreakerBus) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.EventBus.Publish(ctx, topic, payload)
	})
	return err
}

// State reports the breaker state.
func (b *BreakerBus) State() gobreaker.State {
	return b.cb.State()
}
