// Package worker consumes bus topics and drives the risk and correlation
// services asynchronously.
package worker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/correlation"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
)

// ProfileRefresher recomputes a subject's risk profile.
type ProfileRefresher interface {
	Refresh(ctx context.Context, subjectID string) (*domain.RiskProfile, error)
}

// PassRunner runs one correlation pass.
type PassRunner interface {
	Run(ctx context.Context) (*correlation.PassResult, error)
}

// Worker refreshes profiles on ingested events and runs correlation passes
// on request.
type Worker struct {
	bus        domain.EventBus
	risk       ProfileRefresher
	correlator PassRunner
	logger     *logger.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, risk ProfileRefresher, correlator PassRunner, log *logger.Logger) *Worker {
	return &Worker{
		bus:        bus,
		risk:       risk,
		correlator: correlator,
		logger:     log.Named("worker"),
	}
}

// Start subscribes to the ingestion and correlation request topics.
func (w *Worker) Start(ctx context.Context) error {
	handlers := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicEventIngested, w.handleEventIngested},
		{domain.TopicCorrelationRequested, w.handleCorrelationRequested},
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range handlers {
		sub, err := w.bus.Subscribe(ctx, h.topic, h.handler)
		if err != nil {
			w.unsubscribeLocked()
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	w.logger.Info("worker started", logger.IntField("subscriptions", len(w.subscriptions)))
	return nil
}

func (w *Worker) handleEventIngested(ctx context.Context, msg *domain.Message) error {
	var p domain.EventIngestedPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		w.logger.Error("failed to parse event ingested message",
			logger.StringField("message_id", msg.ID),
			logger.ErrorField(err),
		)
		return err
	}

	subjectID := strings.TrimSpace(p.SubjectID)
	if subjectID == "" {
		w.logger.Warn("event ingested without subject", logger.StringField("event_id", p.EventID))
		return nil
	}

	start := time.Now()
	profile, err := w.risk.Refresh(ctx, subjectID)
	if err != nil {
		w.logger.Error("profile refresh failed",
			logger.StringField("subject_id", subjectID),
			logger.StringField("event_id", p.EventID),
			logger.ErrorField(err),
		)
		return err
	}

	w.logger.Debug("profile refreshed",
		logger.StringField("subject_id", subjectID),
		logger.StringField("risk_level", string(profile.RiskLevel)),
		logger.DurationField("duration", time.Since(start)),
	)
	return nil
}

func (w *Worker) handleCorrelationRequested(ctx context.Context, msg *domain.Message) error {
	result, err := w.correlator.Run(ctx)
	if err != nil {
		w.logger.Error("requested correlation pass failed",
			logger.StringField("message_id", msg.ID),
			logger.ErrorField(err),
		)
		return err
	}

	w.logger.Debug("requested correlation pass completed",
		logger.StringField("message_id", msg.ID),
		logger.IntField("correlations", len(result.Correlations)),
	)
	return nil
}

// Stop unsubscribes from all topics.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.unsubscribeLocked()
	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) unsubscribeLocked() {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				logger.StringField("topic", sub.Topic()),
				logger.ErrorField(err),
			)
		}
	}
	w.subscriptions = nil
}

// Stats describes the active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
