package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"finops-api/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, transaction *models.FinancialTransaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.FinancialTransaction, error)
	Update(ctx context.Context, transaction *models.FinancialTransaction) error
	GetByWalletID(ctx context.Context, walletID string, limit int) ([]*models.FinancialTransaction, error)
	// SumCommittedSince totals completed and processing amounts for a
	// wallet from the given instant. Used for daily/monthly limit checks.
	SumCommittedSince(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error)
	// CountAboveSince counts transactions over a threshold amount since
	// the given instant. Used for velocity detection.
	CountAboveSince(ctx context.Context, walletID string, amount decimal.Decimal, since time.Time) (int64, error)
	SumPending(ctx context.Context, walletID string) (decimal.Decimal, error)
	// ExpireStaleProcessing fails transactions stuck in processing longer
	// than the cutoff. Returns the number expired.
	ExpireStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error)
}

type transactionRepository struct {
	collection *mongo.Collection
	db         *mongo.Database
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &transactionRepository{
		collection: db.Collection("transactions"),
		db:         db,
	}
}

func (r *transactionRepository) Create(ctx context.Context, transaction *models.FinancialTransaction) error {
	if transaction.Timestamp.IsZero() {
		transaction.Timestamp = time.Now().UTC()
	}

	result, err := r.collection.InsertOne(ctx, transaction)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("transaction %s already exists", transaction.TransactionID)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	transaction.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.FinancialTransaction, error) {
	var transaction models.FinancialTransaction
	err := r.collection.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&transaction)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", transactionID, err)
	}
	return &transaction, nil
}

func (r *transactionRepository) Update(ctx context.Context, transaction *models.FinancialTransaction) error {
	filter := bson.M{"transaction_id": transaction.TransactionID}
	update := bson.M{"$set": transaction}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("transaction %s: %w", transaction.TransactionID, ErrNotFound)
	}

	return nil
}

func (r *transactionRepository) GetByWalletID(ctx context.Context, walletID string, limit int) ([]*models.FinancialTransaction, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.M{"timestamp": -1})

	cursor, err := r.collection.Find(ctx, bson.M{"wallet_id": walletID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for wallet %s: %w", walletID, err)
	}
	defer cursor.Close(ctx)

	var transactions []*models.FinancialTransaction
	for cursor.Next(ctx) {
		var transaction models.FinancialTransaction
		if err := cursor.Decode(&transaction); err != nil {
			continue
		}
		transactions = append(transactions, &transaction)
	}

	return transactions, cursor.Err()
}

func (r *transactionRepository) SumCommittedSince(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"wallet_id": walletID,
			"status":    bson.M{"$in": []string{string(models.StatusCompleted), string(models.StatusProcessing)}},
			"timestamp": bson.M{"$gte": since},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": bson.M{"$toDecimal": "$amount"}},
		}}},
	}

	return r.aggregateTotal(ctx, pipeline)
}

func (r *transactionRepository) CountAboveSince(ctx context.Context, walletID string, amount decimal.Decimal, since time.Time) (int64, error) {
	filter := bson.M{
		"wallet_id": walletID,
		"status":    bson.M{"$ne": string(models.StatusFailed)},
		"timestamp": bson.M{"$gte": since},
		"$expr": bson.M{
			"$gt": bson.A{bson.M{"$toDecimal": "$amount"}, bson.M{"$toDecimal": amount.String()}},
		},
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (r *transactionRepository) SumPending(ctx context.Context, walletID string) (decimal.Decimal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"wallet_id": walletID,
			"status":    bson.M{"$in": []string{string(models.StatusPending), string(models.StatusProcessing)}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": bson.M{"$toDecimal": "$amount"}},
		}}},
	}

	return r.aggregateTotal(ctx, pipeline)
}

func (r *transactionRepository) aggregateTotal(ctx context.Context, pipeline mongo.Pipeline) (decimal.Decimal, error) {
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to aggregate transaction totals: %w", err)
	}
	defer cursor.Close(ctx)

	var result struct {
		Total primitive.Decimal128 `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&result); err != nil {
			return decimal.Zero, fmt.Errorf("failed to decode aggregate total: %w", err)
		}
		total, err := decimal.NewFromString(result.Total.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse aggregate total: %w", err)
		}
		return total, nil
	}

	return decimal.Zero, cursor.Err()
}

func (r *transactionRepository) ExpireStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":    string(models.StatusProcessing),
		"timestamp": bson.M{"$lt": olderThan},
	}
	update := bson.M{
		"$set": bson.M{
			"status":         string(models.StatusFailed),
			"failure_reason": string(models.FailureProcessorTimeout),
			"processed_at":   now,
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale transactions: %w", err)
	}

	return result.ModifiedCount, nil
}

// CreateIndexes creates necessary indexes for the transaction collection
func (r *transactionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "wallet_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}

	return nil
}
