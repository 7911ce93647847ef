package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"finops-api/internal/audit"
	"finops-api/internal/config"
	"finops-api/internal/models"
	"finops-api/internal/monitoring"
)

// WalletStore, MemberStore, RuleStore and HistoryStore are the narrow
// read contracts the engine needs. The mongo repositories satisfy them.
type WalletStore interface {
	GetByWalletID(ctx context.Context, walletID string) (*models.WalletConfiguration, error)
}

type MemberStore interface {
	GetByMemberID(ctx context.Context, memberID string) (*models.LLPMemberData, error)
}

type RuleStore interface {
	ListEnabled(ctx context.Context) ([]*models.ComplianceRule, error)
}

type HistoryStore interface {
	SumCommittedSince(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error)
	CountAboveSince(ctx context.Context, walletID string, amount decimal.Decimal, since time.Time) (int64, error)
}

// AlertPublisher pushes failed-evaluation alerts to the message bus.
// Publishing is fire-and-forget; a publish failure never affects the
// compliance outcome.
type AlertPublisher interface {
	PublishComplianceAlert(ctx context.Context, alert interface{}) error
}

type Engine interface {
	// Evaluate runs all evaluators over the transaction and returns the
	// aggregate result. Domain failures, including failed lookups, are
	// returned as data; Evaluate never returns an error.
	Evaluate(ctx context.Context, tx *models.FinancialTransaction) *models.ComplianceResult
	// ValidateWalletCreation gates new wallet configurations.
	ValidateWalletCreation(ctx context.Context, wallet *models.WalletConfiguration, member *models.LLPMemberData) *models.ComplianceResult
}

type engine struct {
	cfg        config.ComplianceConfig
	wallets    WalletStore
	members    MemberStore
	rules      RuleStore
	history    HistoryStore
	auditSvc   audit.Service
	alerts     AlertPublisher
	evaluators []Evaluator
	logger     *logrus.Logger
}

func NewEngine(
	cfg config.ComplianceConfig,
	wallets WalletStore,
	members MemberStore,
	rules RuleStore,
	history HistoryStore,
	auditSvc audit.Service,
	alerts AlertPublisher,
	logger *logrus.Logger,
) Engine {
	return &engine{
		cfg:      cfg,
		wallets:  wallets,
		members:  members,
		rules:    rules,
		history:  history,
		auditSvc: auditSvc,
		alerts:   alerts,
		// Fixed order: aggregation concatenates findings in this order so
		// identical inputs always yield identical violation lists.
		evaluators: []Evaluator{
			&amlEvaluator{cfg: cfg},
			&limitEvaluator{cfg: cfg},
			&authorizationEvaluator{cfg: cfg},
			&taxEvaluator{cfg: cfg},
			&customRuleEvaluator{logger: logger},
		},
		logger: logger,
	}
}

func (e *engine) Evaluate(ctx context.Context, tx *models.FinancialTransaction) *models.ComplianceResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EvaluationTimeout)
	defer cancel()

	snapshot, failure := e.buildContext(ctx, tx)
	if failure != nil {
		monitoring.RecordEvaluation(false, time.Since(start))
		e.publishAlert(ctx, tx, failure)
		return failure
	}

	findings := make([]Finding, len(e.evaluators))
	group, _ := errgroup.WithContext(ctx)
	for i, evaluator := range e.evaluators {
		i, evaluator := i, evaluator
		group.Go(func() error {
			findings[i] = evaluator.Evaluate(snapshot)
			return nil
		})
	}
	// Evaluators are pure and never error; Wait is just the join point.
	_ = group.Wait()

	result := e.aggregate(tx, snapshot, findings)

	monitoring.RecordEvaluation(result.Passed, time.Since(start))
	if !result.Passed {
		e.publishAlert(ctx, tx, result)
	}

	return result
}

func (e *engine) buildContext(ctx context.Context, tx *models.FinancialTransaction) (*Context, *models.ComplianceResult) {
	wallet, err := e.wallets.GetByWalletID(ctx, tx.WalletID)
	if err != nil {
		return nil, e.lookupFailure(tx, fmt.Sprintf("Wallet configuration lookup failed for %s", tx.WalletID))
	}

	member, err := e.members.GetByMemberID(ctx, wallet.MemberID)
	if err != nil {
		return nil, e.lookupFailure(tx, fmt.Sprintf("Member record lookup failed for %s", wallet.MemberID))
	}

	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return nil, e.lookupFailure(tx, "Compliance rule set unavailable")
	}

	// History windows anchor on the transaction timestamp so re-running
	// an evaluation over the same inputs is reproducible.
	at := tx.Timestamp.UTC()
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)

	spentToday, err := e.history.SumCommittedSince(ctx, tx.WalletID, dayStart)
	if err != nil {
		return nil, e.lookupFailure(tx, "Transaction history unavailable")
	}

	spentMonth, err := e.history.SumCommittedSince(ctx, tx.WalletID, monthStart)
	if err != nil {
		return nil, e.lookupFailure(tx, "Transaction history unavailable")
	}

	velocityAmount := decimal.NewFromFloat(e.cfg.AMLVelocityAmount)
	recentCount, err := e.history.CountAboveSince(ctx, tx.WalletID, velocityAmount, at.Add(-e.cfg.AMLVelocityWindow))
	if err != nil {
		return nil, e.lookupFailure(tx, "Transaction history unavailable")
	}

	return &Context{
		Transaction:          tx,
		Wallet:               wallet,
		Member:               member,
		Rules:                rules,
		RecentHighValueCount: recentCount,
		SpentToday:           spentToday,
		SpentThisMonth:       spentMonth,
		EvaluatedAt:          time.Now().UTC(),
	}, nil
}

func (e *engine) aggregate(tx *models.FinancialTransaction, snapshot *Context, findings []Finding) *models.ComplianceResult {
	violations := []string{}
	rawRisk := 0
	for _, finding := range findings {
		violations = append(violations, finding.Violations...)
		rawRisk += finding.RiskDelta
	}

	riskScore := models.ClampRiskScore(rawRisk)
	passed := len(violations) == 0 && riskScore < models.RiskScoreFailThreshold

	wallet := snapshot.Wallet
	requiresReview := riskScore > models.RiskScoreReviewAbove ||
		wallet.ComplianceLevel == models.ComplianceLevelKCOversight ||
		tx.Amount.GreaterThan(models.ManualReviewThreshold(wallet.OwnerTier))

	result := &models.ComplianceResult{
		Passed:               passed,
		RuleViolations:       violations,
		RiskScore:            riskScore,
		RequiresManualReview: requiresReview,
		Signature:            audit.DecisionSignature("transaction", tx.TransactionID, tx.Timestamp, passed),
		EvaluatedAt:          snapshot.EvaluatedAt,
	}

	if passed {
		summary := fmt.Sprintf("risk=%d violations=%d", riskScore, len(violations))
		hash, err := e.auditSvc.Evidence(audit.KindComplianceDecision, tx.TransactionID, summary, result.Signature)
		if err != nil {
			// Evidence is best-effort; a compliant transaction proceeds
			// without it.
			e.logger.WithError(err).WithField("transaction_id", tx.TransactionID).
				Warn("evidence hash generation failed")
		} else {
			result.BlockchainHash = hash
		}
	}

	return result
}

func (e *engine) lookupFailure(tx *models.FinancialTransaction, violation string) *models.ComplianceResult {
	e.logger.WithFields(logrus.Fields{
		"transaction_id": tx.TransactionID,
		"wallet_id":      tx.WalletID,
	}).Warn(violation)

	return &models.ComplianceResult{
		Passed:               false,
		RuleViolations:       []string{violation},
		RiskScore:            models.RiskScoreMax,
		RequiresManualReview: true,
		Signature:            audit.DecisionSignature("transaction", tx.TransactionID, tx.Timestamp, false),
		EvaluatedAt:          time.Now().UTC(),
	}
}

// ValidateWalletCreation checks a proposed wallet configuration against
// tier ceilings and the owning member's standing.
func (e *engine) ValidateWalletCreation(ctx context.Context, wallet *models.WalletConfiguration, member *models.LLPMemberData) *models.ComplianceResult {
	violations := []string{}
	rawRisk := 0

	max, tierKnown := models.TierLimits(wallet.OwnerTier)
	if tierKnown {
		if wallet.Limits.Daily.GreaterThan(max.Daily) {
			violations = append(violations, fmt.Sprintf(
				"Daily limit %s exceeds %s tier maximum %s", wallet.Limits.Daily, wallet.OwnerTier, max.Daily))
			rawRisk += 30
		}
		if wallet.Limits.Monthly.GreaterThan(max.Monthly) {
			violations = append(violations, fmt.Sprintf(
				"Monthly limit %s exceeds %s tier maximum %s", wallet.Limits.Monthly, wallet.OwnerTier, max.Monthly))
			rawRisk += 30
		}
		if wallet.Limits.Transaction.GreaterThan(max.Transaction) {
			violations = append(violations, fmt.Sprintf(
				"Transaction limit %s exceeds %s tier maximum %s", wallet.Limits.Transaction, wallet.OwnerTier, max.Transaction))
			rawRisk += 20
		}
	} else {
		violations = append(violations, fmt.Sprintf("Unknown owner tier %s", wallet.OwnerTier))
		rawRisk += models.RiskScoreMax
	}

	switch wallet.HRClassification {
	case models.HRClass1, models.HRClass2, models.HRClass3, models.HRClass4:
	default:
		violations = append(violations, fmt.Sprintf("Unknown HR classification %s", wallet.HRClassification))
		rawRisk += models.RiskScoreMax
	}

	if member == nil {
		violations = append(violations, fmt.Sprintf("Member record lookup failed for %s", wallet.MemberID))
		rawRisk += models.RiskScoreMax
	} else {
		if !member.IsActive() {
			violations = append(violations, fmt.Sprintf("Member %s is not active", member.MemberID))
			rawRisk += 90
		}
		for _, required := range models.TierPermissions(wallet.OwnerTier) {
			if !member.HasPermission(required) {
				violations = append(violations, fmt.Sprintf(
					"Member %s missing %s permission required by %s tier", wallet.MemberID, required, wallet.OwnerTier))
				rawRisk += 70
				break
			}
		}
	}

	riskScore := models.ClampRiskScore(rawRisk)
	passed := len(violations) == 0 && riskScore < models.RiskScoreFailThreshold

	result := &models.ComplianceResult{
		Passed:               passed,
		RuleViolations:       violations,
		RiskScore:            riskScore,
		RequiresManualReview: riskScore > models.RiskScoreReviewAbove || wallet.ComplianceLevel == models.ComplianceLevelKCOversight,
		Signature:            audit.DecisionSignature("wallet", wallet.WalletID, wallet.CreatedAt, passed),
		EvaluatedAt:          time.Now().UTC(),
	}

	if passed {
		summary := fmt.Sprintf("risk=%d violations=%d", riskScore, len(violations))
		if hash, err := e.auditSvc.Evidence(audit.KindWalletEvent, wallet.WalletID, summary, result.Signature); err == nil {
			result.BlockchainHash = hash
		}
	} else {
		e.publishWalletAlert(ctx, wallet, result)
	}

	return result
}

type complianceAlert struct {
	Kind           string    `json:"kind"`
	EntityID       string    `json:"entity_id"`
	WalletID       string    `json:"wallet_id"`
	RiskScore      int       `json:"risk_score"`
	RuleViolations []string  `json:"rule_violations"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (e *engine) publishAlert(ctx context.Context, tx *models.FinancialTransaction, result *models.ComplianceResult) {
	if e.alerts == nil {
		return
	}

	alert := complianceAlert{
		Kind:           "transaction",
		EntityID:       tx.TransactionID,
		WalletID:       tx.WalletID,
		RiskScore:      result.RiskScore,
		RuleViolations: result.RuleViolations,
		OccurredAt:     time.Now().UTC(),
	}
	if err := e.alerts.PublishComplianceAlert(ctx, alert); err != nil {
		e.logger.WithError(err).Warn("failed to publish compliance alert")
	}
}

func (e *engine) publishWalletAlert(ctx context.Context, wallet *models.WalletConfiguration, result *models.ComplianceResult) {
	if e.alerts == nil {
		return
	}

	alert := complianceAlert{
		Kind:           "wallet",
		EntityID:       wallet.WalletID,
		WalletID:       wallet.WalletID,
		RiskScore:      result.RiskScore,
		RuleViolations: result.RuleViolations,
		OccurredAt:     time.Now().UTC(),
	}
	if err := e.alerts.PublishComplianceAlert(ctx, alert); err != nil {
		e.logger.WithError(err).Warn("failed to publish compliance alert")
	}
}
