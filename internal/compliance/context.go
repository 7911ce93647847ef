package compliance

import (
	"time"

	"github.com/shopspring/decimal"

	"finops-api/internal/models"
)

// Context is the immutable snapshot every evaluator reads. It is built
// once per evaluation; evaluators never mutate it, so they can run
// concurrently without locking.
type Context struct {
	Transaction *models.FinancialTransaction
	Wallet      *models.WalletConfiguration
	Member      *models.LLPMemberData
	Rules       []*models.ComplianceRule

	// Precomputed history for the transaction's wallet, relative to the
	// transaction timestamp so evaluation is reproducible.
	RecentHighValueCount int64
	SpentToday           decimal.Decimal
	SpentThisMonth       decimal.Decimal

	EvaluatedAt time.Time
}

// FieldValue resolves a rule field against the snapshot. The field set is
// closed; unknown fields resolve to empty and never match.
func (c *Context) FieldValue(field models.RuleField) string {
	switch field {
	case models.FieldAmount:
		return c.Transaction.Amount.String()
	case models.FieldCurrency:
		return c.Transaction.Currency
	case models.FieldType:
		return string(c.Transaction.Type)
	case models.FieldSource:
		return string(c.Transaction.Source)
	case models.FieldDescription:
		return c.Transaction.Description
	case models.FieldWalletTier:
		return string(c.Wallet.OwnerTier)
	case models.FieldHRClassification:
		return string(c.Wallet.HRClassification)
	case models.FieldComplianceLevel:
		return string(c.Wallet.ComplianceLevel)
	case models.FieldMemberRole:
		if c.Member != nil {
			return c.Member.Role
		}
		return ""
	case models.FieldMemberStatus:
		if c.Member != nil {
			return string(c.Member.Status)
		}
		return ""
	default:
		return ""
	}
}

// Finding is one evaluator's contribution to the aggregate result.
// Violations keep their in-evaluator order; RiskDelta values are summed
// and clamped once by the engine.
type Finding struct {
	Violations []string
	RiskDelta  int
}

// Evaluator is a read-only check over the context snapshot.
type Evaluator interface {
	Name() string
	Evaluate(ctx *Context) Finding
}
