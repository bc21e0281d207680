package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/harrier/internal/domain"
)

// newMessage stamps payload with an ID and the caller's trace context so a
// subscriber's spans join the publisher's trace.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	meta := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(meta))
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  meta,
		Timestamp: time.Now().UnixNano(),
	}
}

// messageContext returns ctx carrying the trace context recorded in msg.
func messageContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

// encodeMessage is the JSON envelope the broker buses put on the wire.
func encodeMessage(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(newMessage(ctx, topic, payload))
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", topic, err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}
