package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"finops-api/internal/audit"
	"finops-api/internal/compliance"
	"finops-api/internal/engine"
	"finops-api/internal/models"
	"finops-api/internal/repository"
)

type SubmitTransactionRequest struct {
	TransactionID string                   `json:"transaction_id,omitempty"`
	WalletID      string                   `json:"wallet_id"`
	Type          models.TransactionType   `json:"type"`
	Amount        decimal.Decimal          `json:"amount"`
	Currency      string                   `json:"currency"`
	Description   string                   `json:"description,omitempty"`
	Metadata      map[string]string        `json:"metadata,omitempty"`
	Source        models.TransactionSource `json:"source"`
}

type SubmitTransactionResult struct {
	Transaction  *models.FinancialTransaction `json:"transaction"`
	Success      bool                         `json:"success"`
	ErrorMessage string                       `json:"error_message,omitempty"`
}

// TransactionService runs the submission pipeline: build the transaction,
// gate it through compliance, then hand compliant transactions to the
// router. Rejected and review-flagged transactions are parked, never
// executed.
type TransactionService interface {
	SubmitTransaction(ctx context.Context, req *SubmitTransactionRequest, caller Caller) (*SubmitTransactionResult, error)
	GetTransaction(ctx context.Context, transactionID string) (*models.FinancialTransaction, error)
}

type transactionService struct {
	walletRepo      repository.WalletRepository
	transactionRepo repository.TransactionRepository
	complianceEng   compliance.Engine
	router          engine.TransactionRouter
	auditSvc        audit.Service
	logger          *logrus.Logger
}

func NewTransactionService(
	walletRepo repository.WalletRepository,
	transactionRepo repository.TransactionRepository,
	complianceEng compliance.Engine,
	router engine.TransactionRouter,
	auditSvc audit.Service,
	logger *logrus.Logger,
) TransactionService {
	return &transactionService{
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		complianceEng:   complianceEng,
		router:          router,
		auditSvc:        auditSvc,
		logger:          logger,
	}
}

func (s *transactionService) SubmitTransaction(ctx context.Context, req *SubmitTransactionRequest, caller Caller) (*SubmitTransactionResult, error) {
	tx := &models.FinancialTransaction{
		TransactionID: req.TransactionID,
		WalletID:      req.WalletID,
		MemberID:      caller.MemberID,
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		Metadata:      req.Metadata,
		Source:        req.Source,
		Status:        models.StatusPending,
		Timestamp:     time.Now().UTC(),
	}
	if tx.TransactionID == "" {
		tx.TransactionID = "tx_" + uuid.New().String()
	}

	if err := tx.Validate(); err != nil {
		return &SubmitTransactionResult{
			Transaction:  tx,
			Success:      false,
			ErrorMessage: err.Error(),
		}, nil
	}

	// Resubmission of a known transaction id returns the stored outcome.
	if existing, err := s.transactionRepo.GetByTransactionID(ctx, tx.TransactionID); err == nil {
		return &SubmitTransactionResult{
			Transaction: existing,
			Success:     existing.Status == models.StatusCompleted,
		}, nil
	}

	check := s.complianceEng.Evaluate(ctx, tx)
	if err := tx.AttachCompliance(check); err != nil {
		return nil, err
	}

	if _, err := s.auditSvc.Record(ctx, audit.KindComplianceDecision, tx.TransactionID, check); err != nil {
		s.logger.WithError(err).WithField("transaction_id", tx.TransactionID).Error("failed to record compliance decision")
	}

	if !check.Passed || check.RequiresManualReview {
		tx.MarkComplianceReview()
		if err := s.transactionRepo.Create(ctx, tx); err != nil {
			return nil, err
		}

		s.logger.WithFields(logrus.Fields{
			"transaction_id": tx.TransactionID,
			"wallet_id":      tx.WalletID,
			"risk_score":     check.RiskScore,
			"violations":     len(check.RuleViolations),
		}).Info("transaction parked for compliance review")

		return &SubmitTransactionResult{
			Transaction:  tx,
			Success:      false,
			ErrorMessage: "transaction requires compliance review",
		}, nil
	}

	wallet, err := s.walletRepo.GetByWalletID(ctx, tx.WalletID)
	if err != nil {
		return nil, err
	}

	executed, err := s.router.Execute(ctx, tx, wallet)
	if err != nil {
		return nil, err
	}

	return &SubmitTransactionResult{
		Transaction:  executed,
		Success:      executed.Status == models.StatusCompleted,
		ErrorMessage: failureMessage(executed),
	}, nil
}

func (s *transactionService) GetTransaction(ctx context.Context, transactionID string) (*models.FinancialTransaction, error) {
	return s.transactionRepo.GetByTransactionID(ctx, transactionID)
}

func failureMessage(tx *models.FinancialTransaction) string {
	switch tx.FailureReason {
	case models.FailureInsufficientFunds:
		return "insufficient funds"
	case models.FailureProcessorError:
		return "payment processor error, safe to resubmit with a new transaction id"
	case models.FailureProcessorTimeout:
		return "payment processor timeout, safe to resubmit with a new transaction id"
	case models.FailureLimitExceeded:
		return "daily spending limit exceeded"
	default:
		return ""
	}
}
