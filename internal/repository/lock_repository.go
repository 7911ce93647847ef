package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"finops-api/internal/models"
)

// ErrLockHeld is returned when a lock is already owned by another holder.
var ErrLockHeld = errors.New("lock already held")

type LockRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error)
	ReleaseLock(ctx context.Context, lock *DistributedLock) error
	ExtendLock(ctx context.Context, lock *DistributedLock, ttl time.Duration) error
	IsLocked(ctx context.Context, key string) (bool, error)
}

type DistributedLock struct {
	Key        string
	Value      string
	TTL        time.Duration
	AcquiredAt time.Time
}

type lockRepository struct {
	client *redis.Client
}

func NewLockRepository(client *redis.Client) LockRepository {
	return &lockRepository{
		client: client,
	}
}

const (
	lockPrefix    = "lock:"
	releaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	extendScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("EXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

func (r *lockRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	lockKey := lockPrefix + key
	lockValue := uuid.New().String()

	// SET NX EX: only one holder per key until the TTL expires.
	acquired, err := r.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		return nil, fmt.Errorf("key %s: %w", key, ErrLockHeld)
	}

	return &DistributedLock{
		Key:        lockKey,
		Value:      lockValue,
		TTL:        ttl,
		AcquiredAt: time.Now(),
	}, nil
}

func (r *lockRepository) ReleaseLock(ctx context.Context, lock *DistributedLock) error {
	// Lua compare-and-delete so only the owner can release.
	result, err := r.client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if result.(int64) == 0 {
		return fmt.Errorf("lock not found or already released: %s", lock.Key)
	}

	return nil
}

func (r *lockRepository) ExtendLock(ctx context.Context, lock *DistributedLock, ttl time.Duration) error {
	result, err := r.client.Eval(ctx, extendScript, []string{lock.Key}, lock.Value, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	if result.(int64) == 0 {
		return fmt.Errorf("lock not found or not owned: %s", lock.Key)
	}

	lock.TTL = ttl
	return nil
}

func (r *lockRepository) IsLocked(ctx context.Context, key string) (bool, error) {
	exists, err := r.client.Exists(ctx, lockPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock existence: %w", err)
	}

	return exists > 0, nil
}

// WalletLockManager provides high-level wallet locking operations
type WalletLockManager struct {
	lockRepo LockRepository
}

func NewWalletLockManager(lockRepo LockRepository) *WalletLockManager {
	return &WalletLockManager{
		lockRepo: lockRepo,
	}
}

// LockWalletExecution serializes the limit-check-then-commit sequence for
// one wallet.
func (m *WalletLockManager) LockWalletExecution(ctx context.Context, walletID string, ttl time.Duration) (*DistributedLock, error) {
	return m.lockRepo.AcquireLock(ctx, fmt.Sprintf("wallet:%s:execute", walletID), ttl)
}

func (m *WalletLockManager) LockTransaction(ctx context.Context, transactionID string, ttl time.Duration) (*DistributedLock, error) {
	return m.lockRepo.AcquireLock(ctx, fmt.Sprintf("transaction:%s", transactionID), ttl)
}

func (m *WalletLockManager) ReleaseLock(ctx context.Context, lock *DistributedLock) error {
	return m.lockRepo.ReleaseLock(ctx, lock)
}

func (m *WalletLockManager) ExtendLock(ctx context.Context, lock *DistributedLock, ttl time.Duration) error {
	return m.lockRepo.ExtendLock(ctx, lock, ttl)
}

// IdempotencyRepository caches terminal transaction results by
// transaction id so a retried Execute returns the stored outcome.
type IdempotencyRepository interface {
	StoreResult(ctx context.Context, transactionID string, result *models.FinancialTransaction, ttl time.Duration) error
	GetResult(ctx context.Context, transactionID string) (*models.FinancialTransaction, bool, error)
	DeleteResult(ctx context.Context, transactionID string) error
}

type idempotencyRepository struct {
	client *redis.Client
}

func NewIdempotencyRepository(client *redis.Client) IdempotencyRepository {
	return &idempotencyRepository{
		client: client,
	}
}

const idempotencyPrefix = "idempotency:tx:"

func (r *idempotencyRepository) StoreResult(ctx context.Context, transactionID string, result *models.FinancialTransaction, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency result: %w", err)
	}

	if err := r.client.Set(ctx, idempotencyPrefix+transactionID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency result: %w", err)
	}

	return nil
}

func (r *idempotencyRepository) GetResult(ctx context.Context, transactionID string) (*models.FinancialTransaction, bool, error) {
	payload, err := r.client.Get(ctx, idempotencyPrefix+transactionID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get idempotency result: %w", err)
	}

	var result models.FinancialTransaction
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode idempotency result: %w", err)
	}

	return &result, true, nil
}

func (r *idempotencyRepository) DeleteResult(ctx context.Context, transactionID string) error {
	if err := r.client.Del(ctx, idempotencyPrefix+transactionID).Err(); err != nil {
		return fmt.Errorf("failed to delete idempotency result: %w", err)
	}

	return nil
}
