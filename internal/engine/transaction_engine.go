package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"finops-api/internal/audit"
	"finops-api/internal/cache"
	"finops-api/internal/external"
	"finops-api/internal/models"
	"finops-api/internal/monitoring"
	"finops-api/internal/repository"
)

// idempotencyTTL bounds how long a terminal result stays in the redis
// fast path; the mongo record remains authoritative after expiry.
const idempotencyTTL = 24 * time.Hour

// lockRetryDelay is the backoff before the single concurrency retry.
const lockRetryDelay = 50 * time.Millisecond

// TransactionRouter executes transactions whose compliance check passed,
// dispatching by source. Execution is idempotent on transaction id and
// serialized per wallet.
type TransactionRouter interface {
	Execute(ctx context.Context, tx *models.FinancialTransaction, wallet *models.WalletConfiguration) (*models.FinancialTransaction, error)
}

type transactionRouter struct {
	transactionRepo repository.TransactionRepository
	ledgerRepo      repository.LedgerRepository
	lockManager     *repository.WalletLockManager
	idempotencyRepo repository.IdempotencyRepository
	cacheService    cache.CacheService
	payments        external.PaymentProcessor
	ledger          external.LedgerProcessor
	auditSvc        audit.Service
	events          external.EventPublisher
	lockTTL         time.Duration
	logger          *logrus.Logger
}

func NewTransactionRouter(
	transactionRepo repository.TransactionRepository,
	ledgerRepo repository.LedgerRepository,
	lockManager *repository.WalletLockManager,
	idempotencyRepo repository.IdempotencyRepository,
	cacheService cache.CacheService,
	payments external.PaymentProcessor,
	ledger external.LedgerProcessor,
	auditSvc audit.Service,
	events external.EventPublisher,
	lockTTL time.Duration,
	logger *logrus.Logger,
) TransactionRouter {
	return &transactionRouter{
		transactionRepo: transactionRepo,
		ledgerRepo:      ledgerRepo,
		lockManager:     lockManager,
		idempotencyRepo: idempotencyRepo,
		cacheService:    cacheService,
		payments:        payments,
		ledger:          ledger,
		auditSvc:        auditSvc,
		events:          events,
		lockTTL:         lockTTL,
		logger:          logger,
	}
}

func (r *transactionRouter) Execute(ctx context.Context, tx *models.FinancialTransaction, wallet *models.WalletConfiguration) (*models.FinancialTransaction, error) {
	if tx.ComplianceCheck == nil || !tx.ComplianceCheck.Passed {
		return nil, fmt.Errorf("transaction %s has no passing compliance check", tx.TransactionID)
	}

	start := time.Now()

	// Idempotency fast path, then the authoritative store. A prior
	// terminal result is returned as-is: never a duplicate charge.
	if cached, found, err := r.idempotencyRepo.GetResult(ctx, tx.TransactionID); err == nil && found {
		return cached, nil
	}
	if stored, err := r.transactionRepo.GetByTransactionID(ctx, tx.TransactionID); err == nil {
		return stored, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	lock, err := r.acquireWalletLock(ctx, wallet.WalletID)
	if err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			// Concurrency conflict after one retry: report the limit
			// failure rather than risk a double-counted window.
			return r.finalizeFailure(ctx, tx, models.FailureLimitExceeded, start)
		}
		return nil, err
	}
	defer func() {
		if releaseErr := r.lockManager.ReleaseLock(context.WithoutCancel(ctx), lock); releaseErr != nil {
			r.logger.WithError(releaseErr).WithField("wallet_id", wallet.WalletID).Warn("failed to release wallet lock")
		}
	}()

	// Fresh daily-limit read inside the critical section: the compliance
	// pass may have raced another execution for the same wallet.
	at := time.Now().UTC()
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	spentToday, err := r.transactionRepo.SumCommittedSince(ctx, wallet.WalletID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to recheck daily limit: %w", err)
	}
	if spentToday.Add(tx.Amount).GreaterThan(wallet.Limits.Daily) {
		return r.finalizeFailure(ctx, tx, models.FailureLimitExceeded, start)
	}

	tx.MarkProcessing()
	if err := r.transactionRepo.Create(ctx, tx); err != nil {
		return nil, err
	}

	r.dispatch(ctx, tx, wallet)

	if err := r.transactionRepo.Update(ctx, tx); err != nil {
		return nil, err
	}

	r.finish(ctx, tx, start)
	return tx, nil
}

func (r *transactionRouter) acquireWalletLock(ctx context.Context, walletID string) (*repository.DistributedLock, error) {
	lock, err := r.lockManager.LockWalletExecution(ctx, walletID, r.lockTTL)
	if err == nil {
		return lock, nil
	}
	if !errors.Is(err, repository.ErrLockHeld) {
		return nil, err
	}

	time.Sleep(lockRetryDelay)
	return r.lockManager.LockWalletExecution(ctx, walletID, r.lockTTL)
}

// dispatch runs the source-specific execution branch and moves the
// transaction to its terminal status. The compliance check is never
// touched.
func (r *transactionRouter) dispatch(ctx context.Context, tx *models.FinancialTransaction, wallet *models.WalletConfiguration) {
	switch tx.Source {
	case models.SourceInternal:
		r.executeInternal(ctx, tx)
	case models.SourceExternalPayment:
		r.executeExternalPayment(ctx, tx, wallet)
	case models.SourceExternalLedger:
		r.executeExternalLedger(ctx, tx, wallet)
	default:
		tx.MarkFailed(models.FailureProcessorError)
	}
}

func (r *transactionRouter) executeInternal(ctx context.Context, tx *models.FinancialTransaction) {
	var err error
	if tx.Type == models.TransactionTypeRefund {
		err = r.ledgerRepo.Credit(ctx, tx.WalletID, tx.Amount)
	} else {
		err = r.ledgerRepo.Debit(ctx, tx.WalletID, tx.Amount)
	}

	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			tx.MarkFailed(models.FailureInsufficientFunds)
		} else {
			r.logger.WithError(err).WithField("transaction_id", tx.TransactionID).Error("internal ledger execution failed")
			tx.MarkFailed(models.FailureProcessorError)
		}
		return
	}

	tx.MarkCompleted("ledger:" + tx.TransactionID)
}

func (r *transactionRouter) executeExternalPayment(ctx context.Context, tx *models.FinancialTransaction, wallet *models.WalletConfiguration) {
	var ref string
	var err error

	if tx.Type == models.TransactionTypeRefund {
		ref, err = r.payments.CreateRefund(ctx, tx.Metadata["original_ref"], tx.Amount)
	} else {
		ref, err = r.payments.CreatePayment(ctx, tx.Amount, tx.Currency, wallet.PaymentCustomerID, tx.Metadata)
	}

	if err != nil {
		tx.MarkFailed(failureReasonFor(err))
		r.logger.WithError(err).WithField("transaction_id", tx.TransactionID).Warn("payment processor execution failed")
		return
	}

	tx.MarkCompleted(ref)
}

func (r *transactionRouter) executeExternalLedger(ctx context.Context, tx *models.FinancialTransaction, wallet *models.WalletConfiguration) {
	description := tx.Description
	if description == "" {
		description = string(tx.Type)
	}

	ref, err := r.ledger.CreateInvoice(ctx, wallet.LedgerContactID, []external.InvoiceLine{
		{Description: description, Quantity: 1, UnitAmount: tx.Amount},
	})
	if err != nil {
		tx.MarkFailed(failureReasonFor(err))
		r.logger.WithError(err).WithField("transaction_id", tx.TransactionID).Warn("ledger processor execution failed")
		return
	}

	tx.MarkCompleted(ref)
}

func failureReasonFor(err error) models.FailureReason {
	if errors.Is(err, external.ErrProcessorTimeout) {
		return models.FailureProcessorTimeout
	}
	return models.FailureProcessorError
}

// finalizeFailure persists a terminal failure that happened before the
// processing record was written.
func (r *transactionRouter) finalizeFailure(ctx context.Context, tx *models.FinancialTransaction, reason models.FailureReason, start time.Time) (*models.FinancialTransaction, error) {
	tx.MarkFailed(reason)
	if err := r.transactionRepo.Create(ctx, tx); err != nil {
		return nil, err
	}

	r.finish(ctx, tx, start)
	return tx, nil
}

// finish handles the shared post-execution side effects: invalidate the
// balance cache before returning, cache the idempotency result, append
// the audit record, publish the event.
func (r *transactionRouter) finish(ctx context.Context, tx *models.FinancialTransaction, start time.Time) {
	if err := r.cacheService.InvalidateBalance(ctx, tx.WalletID); err != nil {
		r.logger.WithError(err).WithField("wallet_id", tx.WalletID).Warn("failed to invalidate balance cache")
	}

	if err := r.idempotencyRepo.StoreResult(ctx, tx.TransactionID, tx, idempotencyTTL); err != nil {
		r.logger.WithError(err).Warn("failed to store idempotency result")
	}

	if _, err := r.auditSvc.Record(ctx, audit.KindTransactionResult, tx.TransactionID, tx); err != nil {
		r.logger.WithError(err).WithField("transaction_id", tx.TransactionID).Error("failed to append audit record")
	}

	eventType := string(tx.Status)
	if err := r.events.PublishFinancialEvent(ctx, eventType, tx); err != nil {
		r.logger.WithError(err).Warn("failed to publish financial event")
	}

	monitoring.RecordExecution(string(tx.Source), string(tx.Status), time.Since(start))
}
