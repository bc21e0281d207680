// Package bus moves Harrier's notifications (ingested events, correlation
// requests, profile updates, alerts) in process or through NATS or Kafka.
package bus

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
)

// New builds the bus named by cfg.Type. A positive BreakerFailures wraps
// it in a publish circuit breaker.
func New(cfg domain.EventBusConfig, log *logger.Logger) (domain.EventBus, error) {
	log = log.Named("bus")

	var (
		b   domain.EventBus
		err error
	)
	switch cfg.Type {
	case "channel":
		b = NewChannelBus(cfg.ChannelBufferSize, log)
	case "nats":
		b, err = NewNATSBus(cfg, log)
	case "kafka":
		b, err = NewKafkaBus(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.BreakerFailures > 0 {
		b = NewBreakerBus(b, cfg.Type, cfg.BreakerFailures, cfg.BreakerTimeout, log)
	}
	return b, nil
}
