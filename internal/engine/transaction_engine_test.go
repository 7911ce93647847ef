package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finops-api/internal/audit"
	"finops-api/internal/external"
	"finops-api/internal/models"
	"finops-api/internal/repository"
)

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

type MockLockRepository struct {
	mock.Mock
}

func (m *MockLockRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*repository.DistributedLock, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.DistributedLock), args.Error(1)
}

func (m *MockLockRepository) ReleaseLock(ctx context.Context, lock *repository.DistributedLock) error {
	args := m.Called(ctx, lock)
	return args.Error(0)
}

func (m *MockLockRepository) ExtendLock(ctx context.Context, lock *repository.DistributedLock, ttl time.Duration) error {
	args := m.Called(ctx, lock, ttl)
	return args.Error(0)
}

func (m *MockLockRepository) IsLocked(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

type MockIdempotencyRepository struct {
	mock.Mock
}

func (m *MockIdempotencyRepository) StoreResult(ctx context.Context, transactionID string, result *models.FinancialTransaction, ttl time.Duration) error {
	args := m.Called(ctx, transactionID, result, ttl)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) GetResult(ctx context.Context, transactionID string) (*models.FinancialTransaction, bool, error) {
	args := m.Called(ctx, transactionID)
	var tx *models.FinancialTransaction
	if args.Get(0) != nil {
		tx = args.Get(0).(*models.FinancialTransaction)
	}
	return tx, args.Bool(1), args.Error(2)
}

func (m *MockIdempotencyRepository) DeleteResult(ctx context.Context, transactionID string) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *MockCacheService) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}

func (m *MockCacheService) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCacheService) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheService) CacheBalance(ctx context.Context, balance *models.WalletBalance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}

func (m *MockCacheService) GetCachedBalance(ctx context.Context, walletID string) (*models.WalletBalance, error) {
	args := m.Called(ctx, walletID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WalletBalance), args.Error(1)
}

func (m *MockCacheService) InvalidateBalance(ctx context.Context, walletID string) error {
	args := m.Called(ctx, walletID)
	return args.Error(0)
}

func (m *MockCacheService) CacheWallet(ctx context.Context, wallet *models.WalletConfiguration, expiration time.Duration) error {
	args := m.Called(ctx, wallet, expiration)
	return args.Error(0)
}

func (m *MockCacheService) GetCachedWallet(ctx context.Context, walletID string) (*models.WalletConfiguration, error) {
	args := m.Called(ctx, walletID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WalletConfiguration), args.Error(1)
}

func (m *MockCacheService) InvalidateWallet(ctx context.Context, walletID string) error {
	args := m.Called(ctx, walletID)
	return args.Error(0)
}

func (m *MockCacheService) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockPaymentProcessor struct {
	mock.Mock
}

func (m *MockPaymentProcessor) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, customerRef string, metadata map[string]string) (string, error) {
	args := m.Called(ctx, amount, currency, customerRef, metadata)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentProcessor) CreateRefund(ctx context.Context, originalRef string, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, originalRef, amount)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentProcessor) GetBalance(ctx context.Context, customerRef string) (decimal.Decimal, error) {
	args := m.Called(ctx, customerRef)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockLedgerProcessor struct {
	mock.Mock
}

func (m *MockLedgerProcessor) CreateInvoice(ctx context.Context, contactRef string, lines []external.InvoiceLine) (string, error) {
	args := m.Called(ctx, contactRef, lines)
	return args.String(0), args.Error(1)
}

// stubPublisher records published events; publishing never errors.
type stubPublisher struct {
	mu         sync.Mutex
	eventTypes []string
}

func (p *stubPublisher) PublishFinancialEvent(_ context.Context, eventType string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventTypes = append(p.eventTypes, eventType)
	return nil
}

func (p *stubPublisher) PublishComplianceAlert(_ context.Context, _ interface{}) error {
	return nil
}

func (p *stubPublisher) Close() error { return nil }

type routerAuditStore struct {
	mu      sync.Mutex
	records map[string][]*audit.Record
}

func (s *routerAuditStore) Append(_ context.Context, record *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.EntityID] = append(s.records[record.EntityID], record)
	return nil
}

func (s *routerAuditStore) GetLastForEntity(_ context.Context, entityID string) (*audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.records[entityID]
	if len(chain) == 0 {
		return nil, audit.ErrNoHistory
	}
	return chain[len(chain)-1], nil
}

func (s *routerAuditStore) ListByEntity(_ context.Context, entityID string, _ int) ([]*audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[entityID], nil
}

type routerFixture struct {
	txRepo     *MockTransactionRepository
	ledgerRepo *MockLedgerRepository
	lockRepo   *MockLockRepository
	idemRepo   *MockIdempotencyRepository
	cacheSvc   *MockCacheService
	payments   *MockPaymentProcessor
	ledger     *MockLedgerProcessor
	events     *stubPublisher
	router     TransactionRouter
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		txRepo:     new(MockTransactionRepository),
		ledgerRepo: new(MockLedgerRepository),
		lockRepo:   new(MockLockRepository),
		idemRepo:   new(MockIdempotencyRepository),
		cacheSvc:   new(MockCacheService),
		payments:   new(MockPaymentProcessor),
		ledger:     new(MockLedgerProcessor),
		events:     &stubPublisher{},
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	auditSvc := audit.NewService(
		&routerAuditStore{records: make(map[string][]*audit.Record)},
		audit.NewDeterministicSigner(),
		logger,
	)

	f.router = NewTransactionRouter(
		f.txRepo,
		f.ledgerRepo,
		repository.NewWalletLockManager(f.lockRepo),
		f.idemRepo,
		f.cacheSvc,
		f.payments,
		f.ledger,
		auditSvc,
		f.events,
		30*time.Second,
		logger,
	)
	return f
}

func routerWallet() *models.WalletConfiguration {
	return &models.WalletConfiguration{
		WalletID:          "wallet_1",
		MemberID:          "member_1",
		OwnerTier:         models.TierSapphire,
		HRClassification:  models.HRClass2,
		Status:            models.WalletStatusActive,
		ComplianceLevel:   models.ComplianceLevelBasic,
		PaymentCustomerID: "cust_1",
		LedgerContactID:   "contact_1",
		Limits: models.SpendingLimits{
			Daily:       decimal.NewFromInt(10_000),
			Monthly:     decimal.NewFromInt(100_000),
			Transaction: decimal.NewFromInt(5_000),
		},
	}
}

func approvedTx(amount int64, txType models.TransactionType, source models.TransactionSource) *models.FinancialTransaction {
	tx := &models.FinancialTransaction{
		TransactionID: "tx_1",
		WalletID:      "wallet_1",
		MemberID:      "member_1",
		Type:          txType,
		Amount:        decimal.NewFromInt(amount),
		Currency:      "USD",
		Source:        source,
		Status:        models.StatusPending,
		Timestamp:     time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
	}
	_ = tx.AttachCompliance(&models.ComplianceResult{Passed: true, RiskScore: 10})
	return tx
}

func (f *routerFixture) expectColdStart() {
	f.idemRepo.On("GetResult", mock.Anything, "tx_1").Return(nil, false, nil)
	f.txRepo.On("GetByTransactionID", mock.Anything, "tx_1").Return(nil, repository.ErrNotFound)
}

func (f *routerFixture) expectLockHeld() {
	f.lockRepo.On("AcquireLock", mock.Anything, "wallet:wallet_1:execute", mock.Anything).
		Return(&repository.DistributedLock{Key: "wallet:wallet_1:execute", Value: "token"}, nil)
	f.lockRepo.On("ReleaseLock", mock.Anything, mock.Anything).Return(nil)
}

func (f *routerFixture) expectFinish() {
	f.cacheSvc.On("InvalidateBalance", mock.Anything, "wallet_1").Return(nil)
	f.idemRepo.On("StoreResult", mock.Anything, "tx_1", mock.Anything, mock.Anything).Return(nil)
}

func (f *routerFixture) expectDailySpend(spent int64) {
	f.txRepo.On("SumCommittedSince", mock.Anything, "wallet_1", mock.Anything).
		Return(decimal.NewFromInt(spent), nil)
}

func TestExecuteRequiresPassingCompliance(t *testing.T) {
	f := newRouterFixture()

	noCheck := approvedTx(100, models.TransactionTypePayment, models.SourceInternal)
	noCheck.ComplianceCheck = nil
	_, err := f.router.Execute(context.Background(), noCheck, routerWallet())
	assert.ErrorContains(t, err, "no passing compliance check")

	rejected := approvedTx(100, models.TransactionTypePayment, models.SourceInternal)
	rejected.ComplianceCheck = &models.ComplianceResult{Passed: false, RiskScore: 80}
	_, err = f.router.Execute(context.Background(), rejected, routerWallet())
	assert.ErrorContains(t, err, "no passing compliance check")

	f.lockRepo.AssertNotCalled(t, "AcquireLock", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteReplaysFromIdempotencyCache(t *testing.T) {
	f := newRouterFixture()

	prior := approvedTx(100, models.TransactionTypePayment, models.SourceInternal)
	prior.MarkCompleted("ledger:tx_1")
	f.idemRepo.On("GetResult", mock.Anything, "tx_1").Return(prior, true, nil)

	result, err := f.router.Execute(context.Background(), approvedTx(100, models.TransactionTypePayment, models.SourceInternal), routerWallet())

	require.NoError(t, err)
	assert.Same(t, prior, result)
	f.lockRepo.AssertNotCalled(t, "AcquireLock", mock.Anything, mock.Anything, mock.Anything)
	f.ledgerRepo.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteReplaysFromAuthoritativeStore(t *testing.T) {
	f := newRouterFixture()

	prior := approvedTx(100, models.TransactionTypePayment, models.SourceInternal)
	prior.MarkFailed(models.FailureInsufficientFunds)
	f.idemRepo.On("GetResult", mock.Anything, "tx_1").Return(nil, false, nil)
	f.txRepo.On("GetByTransactionID", mock.Anything, "tx_1").Return(prior, nil)

	result, err := f.router.Execute(context.Background(), approvedTx(100, models.TransactionTypePayment, models.SourceInternal), routerWallet())

	require.NoError(t, err)
	assert.Same(t, prior, result)
	f.lockRepo.AssertNotCalled(t, "AcquireLock", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteInternalDebitCompletes(t *testing.T) {
	f := newRouterFixture()
	f.expectColdStart()
	f.expectLockHeld()
	f.expectDailySpend(0)
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.txRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.ledgerRepo.On("Debit", mock.Anything, "wallet_1", decimal.NewFromInt(100)).Return(nil)
	f.expectFinish()

	result, err := f.router.Execute(context.Background(), approvedTx(100, models.TransactionTypePayment, models.SourceInternal), routerWallet())

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, "ledger:tx_1", result.ProcessorRef)
	assert.Equal(t, []string{"completed"}, f.events.eventTypes)
	f.cacheSvc.AssertCalled(t, "InvalidateBalance", mock.Anything, "wallet_1")
	f.lockRepo.AssertCalled(t, "ReleaseLock", mock.Anything, mock.Anything)
}

func TestExecuteInternalRefundCredits(t *testing.T) {
	f := newRouterFixture()
	f.expectColdStart()
	f.expectLockHeld()
	f.expectDailySpend(0)
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.txRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.ledgerRepo.On("Credit", mock.Anything, "wallet_1", decimal.NewFromInt(250)).Return(nil)
	f.expectFinish()

	result, err := f.router.Execute(context.Background(), approvedTx(250, models.TransactionTypeRefund, models.SourceInternal), routerWallet())

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	f.ledgerRepo.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteInternalInsufficientFunds(t *testing.T) {
	f := newRouterFixture()
	f.expectColdStart()
	f.expectLockHeld()
	f.expectDailySpend(0)
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.txRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.ledgerRepo.On("Debit", mock.Anything, "wallet_1", mock.Anything).Return(repository.ErrInsufficientFunds)
	f.expectFinish()

	result, err := f.router.Execute(context.Background(), approvedTx(100, models.TransactionTypePayment, models.SourceInternal), routerWallet())

	// An insufficient balance is an outcome, not an error.
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.FailureInsufficientFunds, result.FailureReason)
	assert.Equal(t, []string{"failed"}, f.events.eventTypes)
}

func TestExecuteDailyRecheckBlocksInsideLock(t *testing.T) {
	f := newRouterFixture()
	f.expectColdStart()
	f.expectLockHeld()
	// 9500 already committed today; 1000 more would breach the 10000 cap.
	f.expectDailySpend(9_500)
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.expectFinish()

	result, err := f.router.Execute(context.Background(), approvedTx(1_000, models.TransactionTypePayment, models.SourceInternal), routerWallet())

	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.FailureLimitExceeded, result.FailureReason)
	f.ledgerRepo.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything)
	f.txRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestExecuteLockConflictFailsAfterRetry(t *testing.T) {
	f := newRouterFixture()
	f.expectColdStart()
	f.lockRepo.On("AcquireLock", mock.Anything, "wallet:wallet_1:execute", mock.Anything).
		Return(nil, repository.ErrLockHeld)
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.expectFinish()

	result, err := f.router.Execute(context.Background(), approvedTx(100, models.TransactionTypePayment, models.SourceInternal), routerWallet())

	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.FailureLimitExceeded, result.FailureReason)
	f.lockRepo.AssertNumberOfCalls(t, "AcquireLock", 2)
	f.lockRepo.AssertNotCalled(t, "ReleaseLock", mock.Anything, mock.Anything)
}

func TestExecuteExternalPaymentCompletes(t *testing.T) {
	f := newRouterFixture()
	f.expectColdStart()
	f.expectLockHeld()
	f.expectDailySpend(0)
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.txRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.payments.On("CreatePayment", mock.Anything, decimal.NewFromInt(100), "USD", "cust_1", mock.Anything).
		Return("pay_abc", nil)
	f.expectFinish()

	result, err := f.router.Execute(context.Background(), approvedTx(100, models.TransactionTypePayment, models.SourceExternalPayment), routerWallet())

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, "pay_abc", result.ProcessorRef)
}

func TestExecuteExternalPaymentTimeout(t *testing.T) {
	f := newRouterFixture()
	f.expectColdStart()
	f.expectLockHeld()
	f.expectDailySpend(0)
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.txRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.payments.On("CreatePayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", external.ErrProcessorTimeout)
	f.expectFinish()

	result, err := f.router.Execute(context.Background(), approvedTx(100, models.TransactionTypePayment, models.SourceExternalPayment), routerWallet())

	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.FailureProcessorTimeout, result.FailureReason)
}

func TestExecuteExternalLedgerInvoice(t *testing.T) {
	f := newRouterFixture()
	f.expectColdStart()
	f.expectLockHeld()
	f.expectDailySpend(0)
	f.txRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.txRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("CreateInvoice", mock.Anything, "contact_1", mock.Anything).Return("inv_42", nil)
	f.expectFinish()

	tx := approvedTx(400, models.TransactionTypeInvoice, models.SourceExternalLedger)
	tx.Description = "quarterly retainer"
	result, err := f.router.Execute(context.Background(), tx, routerWallet())

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, "inv_42", result.ProcessorRef)
}

// memLockRepo grants one holder per key and blocks further acquirers
// until release, so concurrent executions serialize the same way the
// redis lock does under retry.
type memLockRepo struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLockRepo() *memLockRepo {
	return &memLockRepo{locks: make(map[string]*sync.Mutex)}
}

func (r *memLockRepo) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks[key] == nil {
		r.locks[key] = &sync.Mutex{}
	}
	return r.locks[key]
}

func (r *memLockRepo) AcquireLock(_ context.Context, key string, ttl time.Duration) (*repository.DistributedLock, error) {
	r.keyLock(key).Lock()
	return &repository.DistributedLock{Key: key, Value: "holder", TTL: ttl, AcquiredAt: time.Now()}, nil
}

func (r *memLockRepo) ReleaseLock(_ context.Context, lock *repository.DistributedLock) error {
	r.keyLock(lock.Key).Unlock()
	return nil
}

func (r *memLockRepo) ExtendLock(_ context.Context, _ *repository.DistributedLock, _ time.Duration) error {
	return nil
}

func (r *memLockRepo) IsLocked(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// memTxRepo is a mutex-guarded transaction store whose committed sum
// covers processing and completed records, matching the mongo pipeline.
type memTxRepo struct {
	mu  sync.Mutex
	txs map[string]*models.FinancialTransaction
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{txs: make(map[string]*models.FinancialTransaction)}
}

func (r *memTxRepo) Create(_ context.Context, tx *models.FinancialTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.TransactionID] = tx
	return nil
}

func (r *memTxRepo) Update(_ context.Context, tx *models.FinancialTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.TransactionID] = tx
	return nil
}

func (r *memTxRepo) GetByTransactionID(_ context.Context, transactionID string) (*models.FinancialTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx, ok := r.txs[transactionID]; ok {
		return tx, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memTxRepo) GetByWalletID(_ context.Context, walletID string, _ int) ([]*models.FinancialTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var txs []*models.FinancialTransaction
	for _, tx := range r.txs {
		if tx.WalletID == walletID {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (r *memTxRepo) SumCommittedSince(_ context.Context, walletID string, _ time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, tx := range r.txs {
		if tx.WalletID != walletID {
			continue
		}
		if tx.Status == models.StatusCompleted || tx.Status == models.StatusProcessing {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (r *memTxRepo) CountAboveSince(_ context.Context, _ string, _ decimal.Decimal, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *memTxRepo) SumPending(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (r *memTxRepo) ExpireStaleProcessing(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type memIdemRepo struct {
	mu      sync.Mutex
	results map[string]*models.FinancialTransaction
}

func newMemIdemRepo() *memIdemRepo {
	return &memIdemRepo{results: make(map[string]*models.FinancialTransaction)}
}

func (r *memIdemRepo) StoreResult(_ context.Context, transactionID string, result *models.FinancialTransaction, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[transactionID] = result
	return nil
}

func (r *memIdemRepo) GetResult(_ context.Context, transactionID string) (*models.FinancialTransaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[transactionID]
	return result, ok, nil
}

func (r *memIdemRepo) DeleteResult(_ context.Context, transactionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.results, transactionID)
	return nil
}

// memBalanceLedger debits against a shared balance under its own lock.
type memBalanceLedger struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

func (l *memBalanceLedger) GetBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

func (l *memBalanceLedger) Credit(_ context.Context, _ string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
	return nil
}

func (l *memBalanceLedger) Debit(_ context.Context, _ string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance.LessThan(amount) {
		return repository.ErrInsufficientFunds
	}
	l.balance = l.balance.Sub(amount)
	return nil
}

func TestExecuteHoldsDailyLimitUnderConcurrency(t *testing.T) {
	txRepo := newMemTxRepo()
	ledger := &memBalanceLedger{balance: decimal.NewFromInt(1_000_000)}
	cacheSvc := new(MockCacheService)
	cacheSvc.On("InvalidateBalance", mock.Anything, "wallet_1").Return(nil)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	auditSvc := audit.NewService(
		&routerAuditStore{records: make(map[string][]*audit.Record)},
		audit.NewDeterministicSigner(),
		logger,
	)

	router := NewTransactionRouter(
		txRepo,
		ledger,
		repository.NewWalletLockManager(newMemLockRepo()),
		newMemIdemRepo(),
		cacheSvc,
		new(MockPaymentProcessor),
		new(MockLedgerProcessor),
		auditSvc,
		&stubPublisher{},
		30*time.Second,
		logger,
	)

	// 8 debits of 3000 against a 10000 daily cap: only three can commit
	// no matter how the executions interleave.
	const submitters = 8
	wallet := routerWallet()
	results := make([]*models.FinancialTransaction, submitters)
	errs := make([]error, submitters)

	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := approvedTx(3_000, models.TransactionTypePayment, models.SourceInternal)
			tx.TransactionID = fmt.Sprintf("tx_c%d", i)
			results[i], errs[i] = router.Execute(context.Background(), tx, wallet)
		}(i)
	}
	wg.Wait()

	committed := decimal.Zero
	completed, limited := 0, 0
	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		switch results[i].Status {
		case models.StatusCompleted:
			completed++
			committed = committed.Add(results[i].Amount)
		case models.StatusFailed:
			limited++
			assert.Equal(t, models.FailureLimitExceeded, results[i].FailureReason)
		default:
			t.Fatalf("transaction %s left in status %s", results[i].TransactionID, results[i].Status)
		}
	}

	assert.Equal(t, 3, completed)
	assert.Equal(t, submitters-3, limited)
	assert.True(t, committed.LessThanOrEqual(wallet.Limits.Daily),
		"committed %s exceeds daily limit %s", committed, wallet.Limits.Daily)
	assert.True(t, ledger.balance.Equal(decimal.NewFromInt(991_000)))
}
