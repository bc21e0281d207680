package rules

import (
	"context"
	"encoding/json"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Dispatcher evaluates alert rules for updated profiles and publishes the
// ones that fire.
type Dispatcher struct {
	engine  *Engine
	bus     domain.EventBus
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher. bus and metrics may be nil.
func NewDispatcher(engine *Engine, bus domain.EventBus, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		engine:  engine,
		bus:     bus,
		logger:  log.Named("alerts"),
		metrics: m,
	}
}

// Dispatch evaluates the profile and publishes harrier.alert once per fired
// rule. It returns the fired rules. Publish failures are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, p *domain.RiskProfile) []Firing {
	var fired []Firing

	for _, f := range d.engine.Evaluate(ctx, p) {
		if f.Err != nil {
			d.logger.Warn("alert rule evaluation failed",
				logger.StringField("rule_id", f.RuleID),
				logger.StringField("subject_id", p.SubjectID),
				logger.ErrorField(f.Err),
			)
			continue
		}
		if !f.Fired {
			continue
		}

		fired = append(fired, f)
		d.metrics.IncrementAlertFired(f.RuleID)
		d.logger.AlertFired(f.RuleID, p.SubjectID, p.CompositeRiskScore)
		d.publish(ctx, f, p)
	}
	return fired
}

func (d *Dispatcher) publish(ctx context.Context, f Firing, p *domain.RiskProfile) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.AlertPayload{RuleID: f.RuleID, RuleName: f.RuleName, Profile: p})
	if err != nil {
		return
	}
	if err := d.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		d.logger.Warn("failed to publish alert",
			logger.StringField("rule_id", f.RuleID),
			logger.ErrorField(err),
		)
	}
}
