package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"finops-api/internal/models"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("not found")

type WalletRepository interface {
	Create(ctx context.Context, wallet *models.WalletConfiguration) error
	GetByWalletID(ctx context.Context, walletID string) (*models.WalletConfiguration, error)
	GetByMemberID(ctx context.Context, memberID string) ([]*models.WalletConfiguration, error)
	UpdateLimits(ctx context.Context, walletID string, limits models.SpendingLimits) error
	UpdateStatus(ctx context.Context, walletID string, status models.WalletStatus) error
	UpdateComplianceLevel(ctx context.Context, walletID string, level models.ComplianceLevel) error
}

type walletRepository struct {
	collection *mongo.Collection
	db         *mongo.Database
}

func NewWalletRepository(db *mongo.Database) WalletRepository {
	return &walletRepository{
		collection: db.Collection("wallets"),
		db:         db,
	}
}

func (r *walletRepository) Create(ctx context.Context, wallet *models.WalletConfiguration) error {
	wallet.CreatedAt = time.Now().UTC()
	wallet.UpdatedAt = wallet.CreatedAt

	result, err := r.collection.InsertOne(ctx, wallet)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	wallet.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *walletRepository) GetByWalletID(ctx context.Context, walletID string) (*models.WalletConfiguration, error) {
	var wallet models.WalletConfiguration
	err := r.collection.FindOne(ctx, bson.M{"wallet_id": walletID}).Decode(&wallet)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get wallet %s: %w", walletID, err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetByMemberID(ctx context.Context, memberID string) ([]*models.WalletConfiguration, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := r.collection.Find(ctx, bson.M{"member_id": memberID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets for member %s: %w", memberID, err)
	}
	defer cursor.Close(ctx)

	var wallets []*models.WalletConfiguration
	for cursor.Next(ctx) {
		var wallet models.WalletConfiguration
		if err := cursor.Decode(&wallet); err != nil {
			continue
		}
		wallets = append(wallets, &wallet)
	}

	return wallets, cursor.Err()
}

func (r *walletRepository) UpdateLimits(ctx context.Context, walletID string, limits models.SpendingLimits) error {
	filter := bson.M{"wallet_id": walletID}
	update := bson.M{
		"$set": bson.M{
			"limits":     limits,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update wallet limits: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}

	return nil
}

func (r *walletRepository) UpdateStatus(ctx context.Context, walletID string, status models.WalletStatus) error {
	filter := bson.M{"wallet_id": walletID}
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update wallet status: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}

	return nil
}

func (r *walletRepository) UpdateComplianceLevel(ctx context.Context, walletID string, level models.ComplianceLevel) error {
	filter := bson.M{"wallet_id": walletID}
	update := bson.M{
		"$set": bson.M{
			"compliance_level":    level,
			"two_factor_required": level != models.ComplianceLevelBasic,
			"updated_at":          time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update compliance level: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}

	return nil
}

// CreateIndexes creates necessary indexes for the wallet collection
func (r *walletRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "wallet_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "member_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create wallet indexes: %w", err)
	}

	return nil
}
