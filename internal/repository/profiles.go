package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// UpsertRiskProfile replaces the subject's full profile row.
func (r *SQLRepository) UpsertRiskProfile(ctx context.Context, p *domain.RiskProfile) error {
	if p.SubjectID == "" {
		return fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO risk_profiles (
			subject_id, cyber_risk_score, fraud_risk_score, screening_score,
			composite_risk_score, risk_level, last_updated, factors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			cyber_risk_score = excluded.cyber_risk_score,
			fraud_risk_score = excluded.fraud_risk_score,
			screening_score = excluded.screening_score,
			composite_risk_score = excluded.composite_risk_score,
			risk_level = excluded.risk_level,
			last_updated = excluded.last_updated,
			factors = excluded.factors
	`

	_, err := r.exec(ctx, query,
		p.SubjectID, p.CyberRiskScore, p.FraudRiskScore, p.ScreeningScore,
		p.CompositeRiskScore, string(p.RiskLevel), utc(p.LastUpdated), encodeStrings(p.Factors),
	)
	return err
}

// GetRiskProfile returns the stored profile or ErrNotFound.
func (r *SQLRepository) GetRiskProfile(ctx context.Context, subjectID string) (*domain.RiskProfile, error) {
	query := `
		SELECT subject_id, cyber_risk_score, fraud_risk_score, screening_score,
			   composite_risk_score, risk_level, last_updated, factors
		FROM risk_profiles
		WHERE subject_id = ?
	`

	var p domain.RiskProfile
	var level, factors string

	err := r.db.QueryRowContext(ctx, r.rebind(query), subjectID).Scan(
		&p.SubjectID, &p.CyberRiskScore, &p.FraudRiskScore, &p.ScreeningScore,
		&p.CompositeRiskScore, &level, &p.LastUpdated, &factors,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.RiskLevel = domain.RiskLevel(level)
	p.Factors = decodeStrings(factors)
	return &p, nil
}
