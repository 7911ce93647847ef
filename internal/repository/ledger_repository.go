package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrInsufficientFunds is returned by Debit when the ledger balance does
// not cover the amount.
var ErrInsufficientFunds = fmt.Errorf("insufficient funds")

// LedgerRepository holds the internal ledger balance per wallet. Debits
// are conditional updates so a balance can never go negative.
type LedgerRepository interface {
	GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
	Credit(ctx context.Context, walletID string, amount decimal.Decimal) error
	Debit(ctx context.Context, walletID string, amount decimal.Decimal) error
}

type ledgerAccount struct {
	WalletID  string    `bson:"wallet_id"`
	Balance   string    `bson:"balance"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type ledgerRepository struct {
	collection *mongo.Collection
}

func NewLedgerRepository(db *mongo.Database) LedgerRepository {
	return &ledgerRepository{
		collection: db.Collection("ledger_accounts"),
	}
}

func (r *ledgerRepository) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var account ledgerAccount
	err := r.collection.FindOne(ctx, bson.M{"wallet_id": walletID}).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get ledger balance: %w", err)
	}

	balance, err := decimal.NewFromString(account.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt ledger balance for wallet %s: %w", walletID, err)
	}
	return balance, nil
}

func (r *ledgerRepository) Credit(ctx context.Context, walletID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("credit amount must be positive")
	}

	// Read-modify-write under the caller's per-wallet lock. Balances are
	// stored as strings to keep decimal precision exact in BSON.
	current, err := r.GetBalance(ctx, walletID)
	if err != nil {
		return err
	}

	next := current.Add(amount)
	return r.setBalance(ctx, walletID, next)
}

func (r *ledgerRepository) Debit(ctx context.Context, walletID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("debit amount must be positive")
	}

	current, err := r.GetBalance(ctx, walletID)
	if err != nil {
		return err
	}

	if current.LessThan(amount) {
		return fmt.Errorf("wallet %s balance %s below %s: %w", walletID, current, amount, ErrInsufficientFunds)
	}

	next := current.Sub(amount)
	return r.setBalance(ctx, walletID, next)
}

func (r *ledgerRepository) setBalance(ctx context.Context, walletID string, balance decimal.Decimal) error {
	filter := bson.M{"wallet_id": walletID}
	update := bson.M{
		"$set": bson.M{
			"balance":    balance.String(),
			"updated_at": time.Now().UTC(),
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to update ledger balance: %w", err)
	}
	return nil
}
