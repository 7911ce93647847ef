package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"finops-api/internal/models"
)

// RuleRepository stores operator-authored compliance rules. Rules are
// validated before write so evaluation never sees a malformed rule.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.ComplianceRule) error
	Update(ctx context.Context, rule *models.ComplianceRule) error
	GetByRuleID(ctx context.Context, ruleID string) (*models.ComplianceRule, error)
	ListEnabled(ctx context.Context) ([]*models.ComplianceRule, error)
	SetEnabled(ctx context.Context, ruleID string, enabled bool) error
}

type ruleRepository struct {
	collection *mongo.Collection
}

func NewRuleRepository(db *mongo.Database) RuleRepository {
	return &ruleRepository{
		collection: db.Collection("compliance_rules"),
	}
}

func (r *ruleRepository) Create(ctx context.Context, rule *models.ComplianceRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt

	result, err := r.collection.InsertOne(ctx, rule)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("rule %s already exists", rule.RuleID)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	rule.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *ruleRepository) Update(ctx context.Context, rule *models.ComplianceRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	rule.UpdatedAt = time.Now().UTC()

	filter := bson.M{"rule_id": rule.RuleID}
	update := bson.M{"$set": rule}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("rule %s: %w", rule.RuleID, ErrNotFound)
	}

	return nil
}

func (r *ruleRepository) GetByRuleID(ctx context.Context, ruleID string) (*models.ComplianceRule, error) {
	var rule models.ComplianceRule
	err := r.collection.FindOne(ctx, bson.M{"rule_id": ruleID}).Decode(&rule)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
	}
	return &rule, nil
}

func (r *ruleRepository) ListEnabled(ctx context.Context) ([]*models.ComplianceRule, error) {
	opts := options.Find().SetSort(bson.M{"created_at": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"enabled": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	defer cursor.Close(ctx)

	var rules []*models.ComplianceRule
	for cursor.Next(ctx) {
		var rule models.ComplianceRule
		if err := cursor.Decode(&rule); err != nil {
			continue
		}
		rules = append(rules, &rule)
	}

	return rules, cursor.Err()
}

func (r *ruleRepository) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	filter := bson.M{"rule_id": ruleID}
	update := bson.M{
		"$set": bson.M{
			"enabled":    enabled,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to set rule enabled state: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}

	return nil
}
