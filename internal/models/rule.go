package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RuleCategory string

const (
	CategoryAML               RuleCategory = "AML"
	CategoryKYC               RuleCategory = "KYC"
	CategoryLLPClassification RuleCategory = "LLP_CLASSIFICATION"
	CategoryTax               RuleCategory = "TAX"
	CategoryJurisdictional    RuleCategory = "JURISDICTIONAL"
	CategoryCustom            RuleCategory = "CUSTOM"
)

type RulePriority string

const (
	PriorityLow      RulePriority = "low"
	PriorityMedium   RulePriority = "medium"
	PriorityHigh     RulePriority = "high"
	PriorityCritical RulePriority = "critical"
)

// RiskDelta maps a priority to its additive risk contribution.
func (p RulePriority) RiskDelta() int {
	switch p {
	case PriorityLow:
		return 10
	case PriorityMedium:
		return 25
	case PriorityHigh:
		return 40
	case PriorityCritical:
		return 60
	default:
		return 0
	}
}

// RuleField is the closed set of transaction facts a condition may inspect.
type RuleField string

const (
	FieldAmount           RuleField = "amount"
	FieldCurrency         RuleField = "currency"
	FieldType             RuleField = "type"
	FieldSource           RuleField = "source"
	FieldDescription      RuleField = "description"
	FieldWalletTier       RuleField = "wallet_tier"
	FieldHRClassification RuleField = "hr_classification"
	FieldComplianceLevel  RuleField = "compliance_level"
	FieldMemberRole       RuleField = "member_role"
	FieldMemberStatus     RuleField = "member_status"
)

// Operator is the closed set of condition operators.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
)

// RuleCondition compares one transaction fact against a value. All
// conditions of a rule must match for the rule to trigger.
type RuleCondition struct {
	Field    RuleField `bson:"field" json:"field"`
	Operator Operator  `bson:"operator" json:"operator"`
	Value    string    `bson:"value" json:"value"`
}

type ActionType string

const (
	ActionBlock        ActionType = "block"
	ActionFlag         ActionType = "flag"
	ActionManualReview ActionType = "manual_review"
	ActionLog          ActionType = "log"
)

type RuleAction struct {
	Type    ActionType `bson:"type" json:"type"`
	Message string     `bson:"message" json:"message"`
}

// ComplianceRule is an operator-authored rule evaluated by the custom rule
// engine alongside the built-in checks.
type ComplianceRule struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	RuleID      string             `bson:"rule_id" json:"rule_id"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Category    RuleCategory       `bson:"category" json:"category"`
	Priority    RulePriority       `bson:"priority" json:"priority"`
	Enabled     bool               `bson:"enabled" json:"enabled"`
	Conditions  []RuleCondition    `bson:"conditions" json:"conditions"`
	Actions     []RuleAction       `bson:"actions" json:"actions"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// Matches applies the condition's operator to a resolved field value.
// Numeric comparison is used for greater_than/less_than; everything else
// compares string forms. A malformed value never matches.
func (c RuleCondition) Matches(fieldValue string) bool {
	switch c.Operator {
	case OpEquals:
		return fieldValue == c.Value
	case OpNotEquals:
		return fieldValue != c.Value
	case OpGreaterThan:
		left, err1 := decimal.NewFromString(fieldValue)
		right, err2 := decimal.NewFromString(c.Value)
		return err1 == nil && err2 == nil && left.GreaterThan(right)
	case OpLessThan:
		left, err1 := decimal.NewFromString(fieldValue)
		right, err2 := decimal.NewFromString(c.Value)
		return err1 == nil && err2 == nil && left.LessThan(right)
	case OpContains:
		return strings.Contains(fieldValue, c.Value)
	case OpRegex:
		re, err := regexp.Compile(c.Value)
		return err == nil && re.MatchString(fieldValue)
	default:
		return false
	}
}

// Validate rejects rules referencing unknown fields or operators so that
// a bad rule is caught at write time, not evaluation time.
func (r *ComplianceRule) Validate() error {
	if r.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch r.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("unknown priority: %s", r.Priority)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule must have at least one condition")
	}
	for i, c := range r.Conditions {
		switch c.Field {
		case FieldAmount, FieldCurrency, FieldType, FieldSource, FieldDescription,
			FieldWalletTier, FieldHRClassification, FieldComplianceLevel,
			FieldMemberRole, FieldMemberStatus:
		default:
			return fmt.Errorf("condition %d: unknown field %q", i, c.Field)
		}
		switch c.Operator {
		case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpRegex:
		default:
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
		if c.Operator == OpRegex {
			if _, err := regexp.Compile(c.Value); err != nil {
				return fmt.Errorf("condition %d: invalid regex: %w", i, err)
			}
		}
	}
	for i, a := range r.Actions {
		switch a.Type {
		case ActionBlock, ActionFlag, ActionManualReview, ActionLog:
		default:
			return fmt.Errorf("action %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}
