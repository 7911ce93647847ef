package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finops-api/internal/models"
	"finops-api/internal/repository"
)

type transactionServiceFixture struct {
	walletRepo *MockWalletRepository
	txRepo     *MockTransactionRepository
	engine     *MockComplianceEngine
	router     *MockTransactionRouter
	svc        TransactionService
}

func newTransactionServiceFixture() *transactionServiceFixture {
	f := &transactionServiceFixture{
		walletRepo: new(MockWalletRepository),
		txRepo:     new(MockTransactionRepository),
		engine:     new(MockComplianceEngine),
		router:     new(MockTransactionRouter),
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	f.svc = NewTransactionService(f.walletRepo, f.txRepo, f.engine, f.router, stubAuditService{}, logger)
	return f
}

func submitRequest(amount int64) *SubmitTransactionRequest {
	return &SubmitTransactionRequest{
		TransactionID: "tx_1",
		WalletID:      "wallet_1",
		Type:          models.TransactionTypePayment,
		Amount:        decimal.NewFromInt(amount),
		Currency:      "USD",
		Source:        models.SourceInternal,
	}
}

func serviceWallet() *models.WalletConfiguration {
	return &models.WalletConfiguration{
		WalletID:         "wallet_1",
		MemberID:         "member_1",
		OwnerTier:        models.TierSapphire,
		HRClassification: models.HRClass2,
		Status:           models.WalletStatusActive,
		ComplianceLevel:  models.ComplianceLevelBasic,
		Limits: models.SpendingLimits{
			Daily:       decimal.NewFromInt(10_000),
			Monthly:     decimal.NewFromInt(100_000),
			Transaction: decimal.NewFromInt(5_000),
		},
	}
}

func TestSubmitTransactionExecutesWhenCompliant(t *testing.T) {
	f := newTransactionServiceFixture()
	f.txRepo.On("GetByTransactionID", mock.Anything, "tx_1").Return(nil, repository.ErrNotFound)
	f.engine.On("Evaluate", mock.Anything, mock.Anything).
		Return(&models.ComplianceResult{Passed: true, RiskScore: 5})
	f.walletRepo.On("GetByWalletID", mock.Anything, "wallet_1").Return(serviceWallet(), nil)

	executed := &models.FinancialTransaction{
		TransactionID: "tx_1",
		WalletID:      "wallet_1",
		Status:        models.StatusCompleted,
		ProcessorRef:  "ledger:tx_1",
	}
	f.router.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(executed, nil)

	result, err := f.svc.SubmitTransaction(context.Background(), submitRequest(100), Caller{MemberID: "member_1"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StatusCompleted, result.Transaction.Status)
	assert.Empty(t, result.ErrorMessage)
}

func TestSubmitTransactionParksForManualReview(t *testing.T) {
	f := newTransactionServiceFixture()
	f.txRepo.On("GetByTransactionID", mock.Anything, "tx_1").Return(nil, repository.ErrNotFound)
	f.engine.On("Evaluate", mock.Anything, mock.Anything).
		Return(&models.ComplianceResult{Passed: true, RiskScore: 75, RequiresManualReview: true})
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.SubmitTransaction(context.Background(), submitRequest(100), Caller{MemberID: "member_1"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.StatusComplianceReview, result.Transaction.Status)
	assert.Contains(t, result.ErrorMessage, "compliance review")
	f.router.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitTransactionParksRejectedTransaction(t *testing.T) {
	f := newTransactionServiceFixture()
	f.txRepo.On("GetByTransactionID", mock.Anything, "tx_1").Return(nil, repository.ErrNotFound)
	f.engine.On("Evaluate", mock.Anything, mock.Anything).
		Return(&models.ComplianceResult{
			Passed:               false,
			RiskScore:            90,
			RuleViolations:       []string{"Large transaction requires enhanced due diligence"},
			RequiresManualReview: true,
		})
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.SubmitTransaction(context.Background(), submitRequest(4_000), Caller{MemberID: "member_1"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.StatusComplianceReview, result.Transaction.Status)
	assert.NotEmpty(t, result.Transaction.ComplianceCheck.RuleViolations)
	f.router.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitTransactionReplaysKnownID(t *testing.T) {
	f := newTransactionServiceFixture()
	prior := &models.FinancialTransaction{
		TransactionID: "tx_1",
		WalletID:      "wallet_1",
		Status:        models.StatusCompleted,
	}
	f.txRepo.On("GetByTransactionID", mock.Anything, "tx_1").Return(prior, nil)

	result, err := f.svc.SubmitTransaction(context.Background(), submitRequest(100), Caller{MemberID: "member_1"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Same(t, prior, result.Transaction)
	f.engine.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
	f.router.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitTransactionRejectsInvalidRequest(t *testing.T) {
	f := newTransactionServiceFixture()

	req := submitRequest(100)
	req.Amount = decimal.NewFromInt(-50)
	result, err := f.svc.SubmitTransaction(context.Background(), req, Caller{MemberID: "member_1"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
	f.txRepo.AssertNotCalled(t, "GetByTransactionID", mock.Anything, mock.Anything)
}

func TestSubmitTransactionGeneratesID(t *testing.T) {
	f := newTransactionServiceFixture()
	f.txRepo.On("GetByTransactionID", mock.Anything, mock.Anything).Return(nil, repository.ErrNotFound)
	f.engine.On("Evaluate", mock.Anything, mock.Anything).
		Return(&models.ComplianceResult{Passed: true, RiskScore: 0})
	f.walletRepo.On("GetByWalletID", mock.Anything, "wallet_1").Return(serviceWallet(), nil)
	f.router.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			tx := args.Get(1).(*models.FinancialTransaction)
			tx.Status = models.StatusCompleted
		}).
		Return(&models.FinancialTransaction{Status: models.StatusCompleted}, nil)

	req := submitRequest(100)
	req.TransactionID = ""
	result, err := f.svc.SubmitTransaction(context.Background(), req, Caller{MemberID: "member_1"})

	require.NoError(t, err)
	require.NotNil(t, result.Transaction)
	assert.True(t, result.Success)

	createdID := f.engine.Calls[0].Arguments.Get(1).(*models.FinancialTransaction).TransactionID
	assert.True(t, strings.HasPrefix(createdID, "tx_"))
	assert.Greater(t, len(createdID), len("tx_"))
}

func TestFailureMessageMapsReasons(t *testing.T) {
	tests := []struct {
		reason models.FailureReason
		want   string
	}{
		{models.FailureInsufficientFunds, "insufficient funds"},
		{models.FailureLimitExceeded, "daily spending limit exceeded"},
		{models.FailureProcessorTimeout, "safe to resubmit"},
		{models.FailureProcessorError, "safe to resubmit"},
		{"", ""},
	}

	for _, tt := range tests {
		tx := &models.FinancialTransaction{FailureReason: tt.reason, ProcessedAt: timePtr(time.Now())}
		assert.Contains(t, failureMessage(tx), tt.want)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
