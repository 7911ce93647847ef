package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"finops-api/internal/audit"
	"finops-api/internal/cache"
	"finops-api/internal/models"
)

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) Create(ctx context.Context, wallet *models.WalletConfiguration) error {
	args := m.Called(ctx, wallet)
	return args.Error(0)
}

func (m *MockWalletRepository) GetByWalletID(ctx context.Context, walletID string) (*models.WalletConfiguration, error) {
	args := m.Called(ctx, walletID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WalletConfiguration), args.Error(1)
}

func (m *MockWalletRepository) GetByMemberID(ctx context.Context, memberID string) ([]*models.WalletConfiguration, error) {
	args := m.Called(ctx, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WalletConfiguration), args.Error(1)
}

func (m *MockWalletRepository) UpdateLimits(ctx context.Context, walletID string, limits models.SpendingLimits) error {
	args := m.Called(ctx, walletID, limits)
	return args.Error(0)
}

func (m *MockWalletRepository) UpdateStatus(ctx context.Context, walletID string, status models.WalletStatus) error {
	args := m.Called(ctx, walletID, status)
	return args.Error(0)
}

func (m *MockWalletRepository) UpdateComplianceLevel(ctx context.Context, walletID string, level models.ComplianceLevel) error {
	args := m.Called(ctx, walletID, level)
	return args.Error(0)
}

type MockMemberRepository struct {
	mock.Mock
}

func (m *MockMemberRepository) GetByMemberID(ctx context.Context, memberID string) (*models.LLPMemberData, error) {
	args := m.Called(ctx, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LLPMemberData), args.Error(1)
}

func (m *MockMemberRepository) Upsert(ctx context.Context, member *models.LLPMemberData) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, transaction *models.FinancialTransaction) error {
	args := m.Called(ctx, transaction)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.FinancialTransaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FinancialTransaction), args.Error(1)
}

func (m *MockTransactionRepository) Update(ctx context.Context, transaction *models.FinancialTransaction) error {
	args := m.Called(ctx, transaction)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByWalletID(ctx context.Context, walletID string, limit int) ([]*models.FinancialTransaction, error) {
	args := m.Called(ctx, walletID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.FinancialTransaction), args.Error(1)
}

func (m *MockTransactionRepository) SumCommittedSince(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, walletID, since)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockTransactionRepository) CountAboveSince(ctx context.Context, walletID string, amount decimal.Decimal, since time.Time) (int64, error) {
	args := m.Called(ctx, walletID, amount, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) SumPending(ctx context.Context, walletID string) (decimal.Decimal, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockTransactionRepository) ExpireStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	args := m.Called(ctx, walletID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedgerRepository) Credit(ctx context.Context, walletID string, amount decimal.Decimal) error {
	args := m.Called(ctx, walletID, amount)
	return args.Error(0)
}

func (m *MockLedgerRepository) Debit(ctx context.Context, walletID string, amount decimal.Decimal) error {
	args := m.Called(ctx, walletID, amount)
	return args.Error(0)
}

type MockComplianceEngine struct {
	mock.Mock
}

func (m *MockComplianceEngine) Evaluate(ctx context.Context, tx *models.FinancialTransaction) *models.ComplianceResult {
	args := m.Called(ctx, tx)
	return args.Get(0).(*models.ComplianceResult)
}

func (m *MockComplianceEngine) ValidateWalletCreation(ctx context.Context, wallet *models.WalletConfiguration, member *models.LLPMemberData) *models.ComplianceResult {
	args := m.Called(ctx, wallet, member)
	return args.Get(0).(*models.ComplianceResult)
}

type MockTransactionRouter struct {
	mock.Mock
}

func (m *MockTransactionRouter) Execute(ctx context.Context, tx *models.FinancialTransaction, wallet *models.WalletConfiguration) (*models.FinancialTransaction, error) {
	args := m.Called(ctx, tx, wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FinancialTransaction), args.Error(1)
}

type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) Create(ctx context.Context, rule *models.ComplianceRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRuleRepository) Update(ctx context.Context, rule *models.ComplianceRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRuleRepository) GetByRuleID(ctx context.Context, ruleID string) (*models.ComplianceRule, error) {
	args := m.Called(ctx, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ComplianceRule), args.Error(1)
}

func (m *MockRuleRepository) ListEnabled(ctx context.Context) ([]*models.ComplianceRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ComplianceRule), args.Error(1)
}

func (m *MockRuleRepository) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	args := m.Called(ctx, ruleID, enabled)
	return args.Error(0)
}

// stubAuditService satisfies audit.Service without persistence; service
// tests assert outcomes, not audit plumbing.
type stubAuditService struct{}

func (stubAuditService) Record(_ context.Context, kind audit.RecordKind, entityID string, _ interface{}) (*audit.Record, error) {
	return &audit.Record{Kind: kind, EntityID: entityID}, nil
}

func (stubAuditService) Correct(_ context.Context, _, entityID string, _ interface{}) (*audit.Record, error) {
	return &audit.Record{Kind: audit.KindCorrection, EntityID: entityID}, nil
}

func (stubAuditService) History(_ context.Context, _ string, _ int) ([]*audit.Record, error) {
	return nil, nil
}

func (stubAuditService) Verify(_ context.Context, _ string) error { return nil }

func (stubAuditService) Evidence(_ audit.RecordKind, _, _, _ string) (string, error) {
	return "evidence_test", nil
}

// stubEventPublisher records event types; publishing never errors.
type stubEventPublisher struct {
	eventTypes []string
}

func (p *stubEventPublisher) PublishFinancialEvent(_ context.Context, eventType string, _ interface{}) error {
	p.eventTypes = append(p.eventTypes, eventType)
	return nil
}

func (p *stubEventPublisher) PublishComplianceAlert(_ context.Context, _ interface{}) error {
	return nil
}

func (p *stubEventPublisher) Close() error { return nil }

// missCache always misses so tests exercise the repository path.
type missCache struct{}

func (missCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (missCache) Get(context.Context, string, interface{}) error                { return cache.ErrCacheMiss }
func (missCache) Delete(context.Context, string) error                          { return nil }
func (missCache) Exists(context.Context, string) (bool, error)                  { return false, nil }
func (missCache) CacheBalance(context.Context, *models.WalletBalance) error     { return nil }
func (missCache) GetCachedBalance(context.Context, string) (*models.WalletBalance, error) {
	return nil, cache.ErrCacheMiss
}
func (missCache) InvalidateBalance(context.Context, string) error { return nil }
func (missCache) CacheWallet(context.Context, *models.WalletConfiguration, time.Duration) error {
	return nil
}
func (missCache) GetCachedWallet(context.Context, string) (*models.WalletConfiguration, error) {
	return nil, cache.ErrCacheMiss
}
func (missCache) InvalidateWallet(context.Context, string) error { return nil }
func (missCache) HealthCheck(context.Context) error              { return nil }
