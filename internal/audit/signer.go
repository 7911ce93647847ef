package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EvidenceSigner produces external evidentiary hashes for passed
// compliance results. Implementations must be deterministic: identical
// inputs yield identical hashes.
type EvidenceSigner interface {
	EvidenceHash(kind, entityID, resultSummary, signature string) (string, error)
}

// DecisionSignature builds the tamper-evident signature attached to every
// compliance result. Reproducible from the inputs alone so auditors can
// verify a stored decision without re-running evaluation.
func DecisionSignature(operationType, entityID string, timestamp time.Time, passed bool) string {
	status := "REJECTED"
	if passed {
		status = "APPROVED"
	}

	digest := sha256.Sum256([]byte(fmt.Sprintf(
		"%s|%s|%d|%s",
		operationType, entityID, timestamp.UTC().UnixNano(), status,
	)))

	return fmt.Sprintf("KC_%s_%s_%s",
		strings.ToUpper(operationType), status, hex.EncodeToString(digest[:16]))
}

// sha256EvidenceSigner is the default signer. It emits a local digest in
// the evidence format without any external ledger round trip.
type sha256EvidenceSigner struct{}

// NewDeterministicSigner returns the default EvidenceSigner.
func NewDeterministicSigner() EvidenceSigner {
	return sha256EvidenceSigner{}
}

func (sha256EvidenceSigner) EvidenceHash(kind, entityID, resultSummary, signature string) (string, error) {
	digest := sha256.Sum256([]byte(fmt.Sprintf(
		"%s|%s|%s|%s", kind, entityID, resultSummary, signature,
	)))
	return "evidence_" + hex.EncodeToString(digest[:]), nil
}
