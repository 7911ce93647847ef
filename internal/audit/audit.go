package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RecordKind string

const (
	KindComplianceDecision RecordKind = "compliance_decision"
	KindTransactionResult  RecordKind = "transaction_result"
	KindWalletEvent        RecordKind = "wallet_event"
	KindCorrection         RecordKind = "correction"
)

// Record is one link in the append-only audit chain. PrevHash ties each
// record to its predecessor for the same entity, so tampering with any
// stored record breaks every later link.
type Record struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	RecordID   string             `bson:"record_id" json:"record_id"`
	Kind       RecordKind         `bson:"kind" json:"kind"`
	EntityID   string             `bson:"entity_id" json:"entity_id"`
	Sequence   int64              `bson:"sequence" json:"sequence"`
	Payload    json.RawMessage    `bson:"payload" json:"payload"`
	PrevHash   string             `bson:"prev_hash" json:"prev_hash"`
	Hash       string             `bson:"hash" json:"hash"`
	CorrectsID string             `bson:"corrects_id,omitempty" json:"corrects_id,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// Store is the persistence contract for the chain. Implemented by the
// mongo audit repository.
type Store interface {
	Append(ctx context.Context, record *Record) error
	GetLastForEntity(ctx context.Context, entityID string) (*Record, error)
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*Record, error)
}

// ErrChainBroken is reported by Verify when a stored chain does not hash
// together.
var ErrChainBroken = errors.New("audit chain broken")

// ErrNoHistory is returned by Store.GetLastForEntity when an entity has no
// records yet. Any other error means the chain head is unknown, and a new
// record must not be appended on top of it.
var ErrNoHistory = errors.New("no audit records for entity")

type Service interface {
	Record(ctx context.Context, kind RecordKind, entityID string, payload interface{}) (*Record, error)
	Correct(ctx context.Context, originalRecordID, entityID string, payload interface{}) (*Record, error)
	History(ctx context.Context, entityID string, limit int) ([]*Record, error)
	Verify(ctx context.Context, entityID string) error
	Evidence(kind RecordKind, entityID, resultSummary, signature string) (string, error)
}

type service struct {
	store  Store
	signer EvidenceSigner
	logger *logrus.Logger
}

func NewService(store Store, signer EvidenceSigner, logger *logrus.Logger) Service {
	return &service{
		store:  store,
		signer: signer,
		logger: logger,
	}
}

func (s *service) Record(ctx context.Context, kind RecordKind, entityID string, payload interface{}) (*Record, error) {
	return s.append(ctx, kind, entityID, "", payload)
}

// Correct never rewrites history: the fix is a new record pointing at the
// original.
func (s *service) Correct(ctx context.Context, originalRecordID, entityID string, payload interface{}) (*Record, error) {
	record, err := s.append(ctx, KindCorrection, entityID, originalRecordID, payload)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"record_id":   record.RecordID,
		"corrects_id": originalRecordID,
		"entity_id":   entityID,
	}).Info("audit correction recorded")

	return record, nil
}

func (s *service) append(ctx context.Context, kind RecordKind, entityID, correctsID string, payload interface{}) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit payload: %w", err)
	}

	prevHash := ""
	sequence := int64(1)
	last, err := s.store.GetLastForEntity(ctx, entityID)
	switch {
	case err == nil:
		prevHash = last.Hash
		sequence = last.Sequence + 1
	case errors.Is(err, ErrNoHistory):
		// First record for this entity starts a fresh chain.
	default:
		return nil, fmt.Errorf("failed to read audit chain head for %s: %w", entityID, err)
	}

	record := &Record{
		RecordID:   uuid.New().String(),
		Kind:       kind,
		EntityID:   entityID,
		Sequence:   sequence,
		Payload:    raw,
		PrevHash:   prevHash,
		CorrectsID: correctsID,
		CreatedAt:  time.Now().UTC(),
	}
	record.Hash = chainHash(record)

	if err := s.store.Append(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

func (s *service) History(ctx context.Context, entityID string, limit int) ([]*Record, error) {
	return s.store.ListByEntity(ctx, entityID, limit)
}

// Verify walks an entity's chain oldest-first and recomputes every link.
func (s *service) Verify(ctx context.Context, entityID string) error {
	records, err := s.store.ListByEntity(ctx, entityID, 0)
	if err != nil {
		return err
	}

	prevHash := ""
	for _, record := range records {
		if record.PrevHash != prevHash {
			return fmt.Errorf("record %s prev hash mismatch: %w", record.RecordID, ErrChainBroken)
		}
		if chainHash(record) != record.Hash {
			return fmt.Errorf("record %s hash mismatch: %w", record.RecordID, ErrChainBroken)
		}
		prevHash = record.Hash
	}

	return nil
}

func chainHash(r *Record) string {
	digest := sha256.Sum256([]byte(fmt.Sprintf(
		"%s|%s|%s|%d|%s|%s|%d",
		r.RecordID, r.Kind, r.EntityID, r.Sequence, r.Payload, r.PrevHash, r.CreatedAt.UnixNano(),
	)))
	return hex.EncodeToString(digest[:])
}

// Evidence asks the signer for an external evidentiary hash. Callers treat
// failure as non-fatal.
func (s *service) Evidence(kind RecordKind, entityID, resultSummary, signature string) (string, error) {
	return s.signer.EvidenceHash(string(kind), entityID, resultSummary, signature)
}
