// Package rules evaluates CEL alert rules against risk profiles.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultRuleID identifies the built-in alert rule.
const DefaultRuleID = "high-risk-profile"

// DefaultRules returns the built-in alert rule, used when no rules are
// configured. It fires for a HIGH profile or a fraud score above 70.
func DefaultRules() []domain.AlertRuleConfig {
	return []domain.AlertRuleConfig{
		{
			ID:         DefaultRuleID,
			Name:       "High risk profile",
			Expression: `risk_level == "HIGH" || fraud_score > 70.0`,
			Enabled:    true,
		},
	}
}

// Engine is the CEL-based alert rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules []*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.AlertRuleConfig
	Program cel.Program
}

// Firing is the outcome of one rule against one profile.
type Firing struct {
	RuleID   string
	RuleName string
	Score    float64
	Fired    bool
	Err      error
}

// NewEngine creates a rule engine with no rules loaded.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("cyber_score", cel.DoubleType),
		cel.Variable("fraud_score", cel.DoubleType),
		cel.Variable("screening_score", cel.DoubleType),
		cel.Variable("composite_score", cel.DoubleType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("factor_count", cel.IntType),
		cel.Variable("subject_id", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env, maxWorkers: maxWorkers}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg domain.AlertRuleConfig) error {
	_, err := e.compileRule(cfg)
	return err
}

// LoadRules compiles the enabled rules and replaces the loaded set. On a
// compile error nothing is replaced. Rules are evaluated in the given order.
func (e *Engine) LoadRules(configs []domain.AlertRuleConfig) error {
	rules := make([]*CompiledRule, 0, len(configs))
	seen := make(map[string]struct{}, len(configs))

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if _, dup := seen[cfg.ID]; dup {
			return fmt.Errorf("duplicate alert rule id %q", cfg.ID)
		}
		seen[cfg.ID] = struct{}{}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		rules = append(rules, compiled)
	}

	e.mu.Lock()
	e.compiledRules = rules
	e.mu.Unlock()
	return nil
}

// Evaluate runs every loaded rule against the profile and returns one
// Firing per rule in load order. A rule that fails to evaluate does not
// fire and carries the error.
func (e *Engine) Evaluate(ctx context.Context, p *domain.RiskProfile) []Firing {
	e.mu.RLock()
	rules := e.compiledRules
	e.mu.RUnlock()

	if len(rules) == 0 || p == nil {
		return nil
	}

	activation := map[string]any{
		"cyber_score":     p.CyberRiskScore,
		"fraud_score":     p.FraudRiskScore,
		"screening_score": p.ScreeningScore,
		"composite_score": p.CompositeRiskScore,
		"risk_level":      string(p.RiskLevel),
		"factor_count":    int64(len(p.Factors)),
		"subject_id":      p.SubjectID,
	}

	results := make([]Firing, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()
	return results
}

func evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) Firing {
	f := Firing{RuleID: rule.Config.ID, RuleName: rule.Config.Name}

	if err := ctx.Err(); err != nil {
		f.Err = err
		return f
	}

	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		f.Err = fmt.Errorf("evaluate rule %s: %w", rule.Config.ID, err)
		return f
	}

	f.Score = toScore(out)
	f.Fired = f.Score >= 1
	return f
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the loaded rule configurations in evaluation order.
func (e *Engine) LoadedRules() []domain.AlertRuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.AlertRuleConfig, len(e.compiledRules))
	for i, r := range e.compiledRules {
		out[i] = r.Config
	}
	return out
}

func (e *Engine) compileRule(cfg domain.AlertRuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("alert rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if !outputType.IsExactType(cel.BoolType) && !outputType.IsExactType(cel.DoubleType) && !outputType.IsExactType(cel.IntType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{Config: cfg, Program: program}, nil
}
