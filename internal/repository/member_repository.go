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

// MemberRepository reads the HR-sourced member records. The engine never
// writes member data; the HR sync job owns it.
type MemberRepository interface {
	GetByMemberID(ctx context.Context, memberID string) (*models.LLPMemberData, error)
	Upsert(ctx context.Context, member *models.LLPMemberData) error
}

type memberRepository struct {
	collection *mongo.Collection
}

func NewMemberRepository(db *mongo.Database) MemberRepository {
	return &memberRepository{
		collection: db.Collection("members"),
	}
}

func (r *memberRepository) GetByMemberID(ctx context.Context, memberID string) (*models.LLPMemberData, error) {
	var member models.LLPMemberData
	err := r.collection.FindOne(ctx, bson.M{"member_id": memberID}).Decode(&member)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("member %s: %w", memberID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get member %s: %w", memberID, err)
	}
	return &member, nil
}

func (r *memberRepository) Upsert(ctx context.Context, member *models.LLPMemberData) error {
	member.UpdatedAt = time.Now().UTC()

	filter := bson.M{"member_id": member.MemberID}
	update := bson.M{"$set": bson.M{
		"full_name":        member.FullName,
		"role":             member.Role,
		"classification":   member.Classification,
		"permissions":      member.Permissions,
		"compliance_level": member.ComplianceLevel,
		"status":           member.Status,
		"updated_at":       member.UpdatedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert member %s: %w", member.MemberID, err)
	}

	if result.UpsertedID != nil {
		member.ID = result.UpsertedID.(primitive.ObjectID)
	}
	return nil
}
