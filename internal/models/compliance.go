package models

import "time"

// Risk score boundaries. A result passes only when it has no violations
// and its risk score stays below RiskScoreFailThreshold.
const (
	RiskScoreMin           = 0
	RiskScoreMax           = 100
	RiskScoreFailThreshold = 50
	RiskScoreReviewAbove   = 70
)

// ComplianceResult is the immutable outcome of a compliance evaluation.
type ComplianceResult struct {
	Passed               bool      `bson:"passed" json:"passed"`
	RuleViolations       []string  `bson:"rule_violations" json:"rule_violations"`
	RiskScore            int       `bson:"risk_score" json:"risk_score"`
	RequiresManualReview bool      `bson:"requires_manual_review" json:"requires_manual_review"`
	Signature            string    `bson:"signature" json:"signature"`
	BlockchainHash       string    `bson:"blockchain_hash,omitempty" json:"blockchain_hash,omitempty"`
	EvaluatedAt          time.Time `bson:"evaluated_at" json:"evaluated_at"`
}

// ClampRiskScore bounds a raw additive score to [RiskScoreMin, RiskScoreMax].
func ClampRiskScore(raw int) int {
	if raw < RiskScoreMin {
		return RiskScoreMin
	}
	if raw > RiskScoreMax {
		return RiskScoreMax
	}
	return raw
}
