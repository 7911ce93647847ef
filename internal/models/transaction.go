package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TransactionType string

const (
	TransactionTypePayment      TransactionType = "payment"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypeTransfer     TransactionType = "transfer"
	TransactionTypeInvoice      TransactionType = "invoice"
	TransactionTypeSubscription TransactionType = "subscription"
)

// TransactionSource selects the execution backend.
type TransactionSource string

const (
	SourceInternal        TransactionSource = "internal"
	SourceExternalPayment TransactionSource = "external_payment"
	SourceExternalLedger  TransactionSource = "external_ledger"
)

type TransactionStatus string

const (
	StatusPending          TransactionStatus = "pending"
	StatusComplianceReview TransactionStatus = "compliance_review"
	StatusProcessing       TransactionStatus = "processing"
	StatusCompleted        TransactionStatus = "completed"
	StatusFailed           TransactionStatus = "failed"
)

// FailureReason codes for failed transactions. Domain failures are data,
// not Go errors.
type FailureReason string

const (
	FailureInsufficientFunds FailureReason = "insufficient_funds"
	FailureProcessorError    FailureReason = "processor_error"
	FailureProcessorTimeout  FailureReason = "processor_timeout"
	FailureLimitExceeded     FailureReason = "limit_exceeded"
)

// FinancialTransaction is the unit of work flowing through the engine.
// ComplianceCheck is attached exactly once, before execution, and is never
// mutated afterwards.
type FinancialTransaction struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	TransactionID   string             `bson:"transaction_id" json:"transaction_id"`
	WalletID        string             `bson:"wallet_id" json:"wallet_id"`
	MemberID        string             `bson:"member_id" json:"member_id"`
	Type            TransactionType    `bson:"type" json:"type"`
	Amount          decimal.Decimal    `bson:"amount" json:"amount"`
	Currency        string             `bson:"currency" json:"currency"`
	Description     string             `bson:"description,omitempty" json:"description,omitempty"`
	Metadata        map[string]string  `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Source          TransactionSource  `bson:"source" json:"source"`
	Status          TransactionStatus  `bson:"status" json:"status"`
	ComplianceCheck *ComplianceResult  `bson:"compliance_check,omitempty" json:"compliance_check,omitempty"`
	FailureReason   FailureReason      `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	ProcessorRef    string             `bson:"processor_ref,omitempty" json:"processor_ref,omitempty"`
	Timestamp       time.Time          `bson:"timestamp" json:"timestamp"`
	ProcessedAt     *time.Time         `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Validate checks the transaction is structurally sound before evaluation.
func (t *FinancialTransaction) Validate() error {
	if t.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if t.WalletID == "" {
		return fmt.Errorf("wallet_id is required")
	}
	if t.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive")
	}
	if t.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	switch t.Type {
	case TransactionTypePayment, TransactionTypeRefund, TransactionTypeTransfer,
		TransactionTypeInvoice, TransactionTypeSubscription:
	default:
		return fmt.Errorf("unknown transaction type: %s", t.Type)
	}
	switch t.Source {
	case SourceInternal, SourceExternalPayment, SourceExternalLedger:
	default:
		return fmt.Errorf("unknown transaction source: %s", t.Source)
	}
	return nil
}

// AttachCompliance records the compliance outcome. A second attachment is
// rejected so the stored result stays immutable.
func (t *FinancialTransaction) AttachCompliance(result *ComplianceResult) error {
	if t.ComplianceCheck != nil {
		return fmt.Errorf("transaction %s already has a compliance result", t.TransactionID)
	}
	t.ComplianceCheck = result
	return nil
}

// IsTerminal reports whether the transaction reached a final state.
func (t *FinancialTransaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// MarkProcessing moves a pending transaction into execution.
func (t *FinancialTransaction) MarkProcessing() {
	t.Status = StatusProcessing
}

// MarkCompleted finalizes the transaction successfully.
func (t *FinancialTransaction) MarkCompleted(processorRef string) {
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.ProcessorRef = processorRef
	t.ProcessedAt = &now
}

// MarkFailed finalizes the transaction with a reason code.
func (t *FinancialTransaction) MarkFailed(reason FailureReason) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.FailureReason = reason
	t.ProcessedAt = &now
}

// MarkComplianceReview parks the transaction for a human decision.
func (t *FinancialTransaction) MarkComplianceReview() {
	t.Status = StatusComplianceReview
}
