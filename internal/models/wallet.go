package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemberTier is the LLP membership tier a wallet belongs to. Tiers are
// ordered: diamond is the highest, onyx the lowest.
type MemberTier string

const (
	TierDiamond  MemberTier = "diamond"
	TierEmerald  MemberTier = "emerald"
	TierSapphire MemberTier = "sapphire"
	TierOpal     MemberTier = "opal"
	TierOnyx     MemberTier = "onyx"
)

// HRClassification is the internal HR code attached to a wallet owner.
type HRClassification string

const (
	HRClass1 HRClassification = ".hr1"
	HRClass2 HRClassification = ".hr2"
	HRClass3 HRClassification = ".hr3"
	HRClass4 HRClassification = ".hr4"
)

type WalletStatus string

const (
	WalletStatusActive           WalletStatus = "active"
	WalletStatusSuspended        WalletStatus = "suspended"
	WalletStatusComplianceReview WalletStatus = "compliance_review"
)

// ComplianceLevel controls how much oversight a wallet's transactions get.
// kc_oversight forces manual review on every transaction.
type ComplianceLevel string

const (
	ComplianceLevelBasic       ComplianceLevel = "basic"
	ComplianceLevelEnhanced    ComplianceLevel = "enhanced"
	ComplianceLevelKCOversight ComplianceLevel = "kc_oversight"
)

// SpendingLimits are the per-wallet ceilings. Invariant:
// transaction <= daily <= monthly, each within the owner tier's maxima.
type SpendingLimits struct {
	Daily       decimal.Decimal `bson:"daily" json:"daily"`
	Monthly     decimal.Decimal `bson:"monthly" json:"monthly"`
	Transaction decimal.Decimal `bson:"transaction" json:"transaction"`
}

// WalletConfiguration is the durable wallet record. Wallets are never
// deleted; decommissioning is a status change.
type WalletConfiguration struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	WalletID            string             `bson:"wallet_id" json:"wallet_id"`
	MemberID            string             `bson:"member_id" json:"member_id"`
	OwnerTier           MemberTier         `bson:"owner_tier" json:"owner_tier"`
	HRClassification    HRClassification   `bson:"hr_classification" json:"hr_classification"`
	Limits              SpendingLimits     `bson:"limits" json:"limits"`
	Status              WalletStatus       `bson:"status" json:"status"`
	ComplianceLevel     ComplianceLevel    `bson:"compliance_level" json:"compliance_level"`
	PaymentCustomerID   string             `bson:"payment_customer_id,omitempty" json:"payment_customer_id,omitempty"`
	LedgerContactID     string             `bson:"ledger_contact_id,omitempty" json:"ledger_contact_id,omitempty"`
	ComplianceSignature string             `bson:"compliance_signature" json:"compliance_signature"`
	TwoFactorRequired   bool               `bson:"two_factor_required" json:"two_factor_required"`
	CreatedAt           time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `bson:"updated_at" json:"updated_at"`
}

// TierLimits returns the maximum spending limits allowed for a tier.
func TierLimits(tier MemberTier) (SpendingLimits, bool) {
	l, ok := tierLimitTable[tier]
	return l, ok
}

// ManualReviewThreshold returns the transaction amount above which a
// tier's transactions always require manual review.
func ManualReviewThreshold(tier MemberTier) decimal.Decimal {
	if t, ok := manualReviewTable[tier]; ok {
		return t
	}
	// Unknown tiers get the strictest threshold.
	return manualReviewTable[TierOnyx]
}

// TierPermissions returns a copy of the permission set a tier grants.
func TierPermissions(tier MemberTier) []string {
	perms := tierPermissionTable[tier]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

var tierLimitTable = map[MemberTier]SpendingLimits{
	TierDiamond: {
		Daily:       decimal.NewFromInt(1_000_000),
		Monthly:     decimal.NewFromInt(10_000_000),
		Transaction: decimal.NewFromInt(500_000),
	},
	TierEmerald: {
		Daily:       decimal.NewFromInt(500_000),
		Monthly:     decimal.NewFromInt(5_000_000),
		Transaction: decimal.NewFromInt(250_000),
	},
	TierSapphire: {
		Daily:       decimal.NewFromInt(100_000),
		Monthly:     decimal.NewFromInt(1_000_000),
		Transaction: decimal.NewFromInt(50_000),
	},
	TierOpal: {
		Daily:       decimal.NewFromInt(25_000),
		Monthly:     decimal.NewFromInt(250_000),
		Transaction: decimal.NewFromInt(10_000),
	},
	TierOnyx: {
		Daily:       decimal.NewFromInt(5_000),
		Monthly:     decimal.NewFromInt(50_000),
		Transaction: decimal.NewFromInt(2_500),
	},
}

var manualReviewTable = map[MemberTier]decimal.Decimal{
	TierDiamond:  decimal.NewFromInt(100_000),
	TierEmerald:  decimal.NewFromInt(50_000),
	TierSapphire: decimal.NewFromInt(25_000),
	TierOpal:     decimal.NewFromInt(10_000),
	TierOnyx:     decimal.NewFromInt(5_000),
}

var tierPermissionTable = map[MemberTier][]string{
	TierDiamond:  {"unlimited_transactions", "manual_review_override", "compliance_override"},
	TierEmerald:  {"high_value_transactions", "compliance_review"},
	TierSapphire: {"medium_value_transactions", "instance_admin"},
	TierOpal:     {"standard_transactions"},
	TierOnyx:     {"basic_transactions"},
}

// Validate checks structural invariants of the wallet configuration.
func (w *WalletConfiguration) Validate() error {
	if w.WalletID == "" {
		return fmt.Errorf("wallet_id is required")
	}
	if w.MemberID == "" {
		return fmt.Errorf("member_id is required")
	}
	if _, ok := tierLimitTable[w.OwnerTier]; !ok {
		return fmt.Errorf("unknown owner tier: %s", w.OwnerTier)
	}
	switch w.HRClassification {
	case HRClass1, HRClass2, HRClass3, HRClass4:
	default:
		return fmt.Errorf("unknown hr classification: %s", w.HRClassification)
	}
	switch w.ComplianceLevel {
	case ComplianceLevelBasic, ComplianceLevelEnhanced, ComplianceLevelKCOversight:
	default:
		return fmt.Errorf("unknown compliance level: %s", w.ComplianceLevel)
	}
	return w.Limits.Validate(w.OwnerTier)
}

// Validate enforces ordering and tier ceilings on the limits.
func (l SpendingLimits) Validate(tier MemberTier) error {
	if l.Transaction.LessThanOrEqual(decimal.Zero) ||
		l.Daily.LessThanOrEqual(decimal.Zero) ||
		l.Monthly.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("limits must be positive")
	}
	if l.Transaction.GreaterThan(l.Daily) {
		return fmt.Errorf("transaction limit exceeds daily limit")
	}
	if l.Daily.GreaterThan(l.Monthly) {
		return fmt.Errorf("daily limit exceeds monthly limit")
	}
	max, ok := tierLimitTable[tier]
	if !ok {
		return fmt.Errorf("unknown tier: %s", tier)
	}
	if l.Daily.GreaterThan(max.Daily) {
		return fmt.Errorf("daily limit %s exceeds %s tier maximum %s", l.Daily, tier, max.Daily)
	}
	if l.Monthly.GreaterThan(max.Monthly) {
		return fmt.Errorf("monthly limit %s exceeds %s tier maximum %s", l.Monthly, tier, max.Monthly)
	}
	if l.Transaction.GreaterThan(max.Transaction) {
		return fmt.Errorf("transaction limit %s exceeds %s tier maximum %s", l.Transaction, tier, max.Transaction)
	}
	return nil
}

// IsActive reports whether the wallet can author new transactions.
func (w *WalletConfiguration) IsActive() bool {
	return w.Status == WalletStatusActive
}

// WalletBalance is the aggregated balance view assembled from the internal
// ledger and the external payment processor.
type WalletBalance struct {
	WalletID  string          `json:"wallet_id"`
	Internal  decimal.Decimal `json:"internal"`
	Processor decimal.Decimal `json:"processor"`
	Total     decimal.Decimal `json:"total"`
	Pending   decimal.Decimal `json:"pending"`
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
	// Degraded is set when the processor could not be reached and the
	// balance only reflects internal ledger data.
	Degraded  bool      `json:"degraded"`
	FetchedAt time.Time `json:"fetched_at"`
}
