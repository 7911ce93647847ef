package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MemberStatus string

const (
	MemberStatusActive     MemberStatus = "active"
	MemberStatusSuspended  MemberStatus = "suspended"
	MemberStatusTerminated MemberStatus = "terminated"
)

// LLPMemberData is the HR-system view of a wallet owner. Only active
// members may author transactions.
type LLPMemberData struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	MemberID        string             `bson:"member_id" json:"member_id"`
	FullName        string             `bson:"full_name" json:"full_name"`
	Role            string             `bson:"role" json:"role"`
	Classification  HRClassification   `bson:"classification" json:"classification"`
	Permissions     []string           `bson:"permissions" json:"permissions"`
	ComplianceLevel ComplianceLevel    `bson:"compliance_level" json:"compliance_level"`
	Status          MemberStatus       `bson:"status" json:"status"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

// IsActive reports whether the member may author transactions.
func (m *LLPMemberData) IsActive() bool {
	return m.Status == MemberStatusActive
}

// HasPermission checks membership in the member's permission set.
func (m *LLPMemberData) HasPermission(perm string) bool {
	for _, p := range m.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
