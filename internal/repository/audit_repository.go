package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"finops-api/internal/audit"
)

// AuditRepository persists the append-only audit chain. Records are never
// updated or deleted; corrections are new records.
type AuditRepository interface {
	Append(ctx context.Context, record *audit.Record) error
	GetLastForEntity(ctx context.Context, entityID string) (*audit.Record, error)
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*audit.Record, error)
}

type auditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) AuditRepository {
	return &auditRepository{
		collection: db.Collection("audit_records"),
	}
}

func (r *auditRepository) Append(ctx context.Context, record *audit.Record) error {
	result, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	record.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *auditRepository) GetLastForEntity(ctx context.Context, entityID string) (*audit.Record, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}})

	var record audit.Record
	err := r.collection.FindOne(ctx, bson.M{"entity_id": entityID}, opts).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("audit chain for %s: %w", entityID, audit.ErrNoHistory)
		}
		return nil, fmt.Errorf("failed to get last audit record: %w", err)
	}
	return &record, nil
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]*audit.Record, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "sequence", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"entity_id": entityID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*audit.Record
	for cursor.Next(ctx) {
		var record audit.Record
		if err := cursor.Decode(&record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	return records, cursor.Err()
}
