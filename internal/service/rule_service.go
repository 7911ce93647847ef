package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"finops-api/internal/audit"
	"finops-api/internal/models"
	"finops-api/internal/repository"
)

// RuleService administers the operator-authored compliance rules and
// exposes the audit trail. All mutations are permission-gated and
// audited.
type RuleService interface {
	CreateRule(ctx context.Context, rule *models.ComplianceRule, caller Caller) error
	UpdateRule(ctx context.Context, rule *models.ComplianceRule, caller Caller) error
	SetRuleEnabled(ctx context.Context, ruleID string, enabled bool, caller Caller) error
	ListEnabledRules(ctx context.Context) ([]*models.ComplianceRule, error)
	AuditHistory(ctx context.Context, entityID string, limit int) ([]*audit.Record, error)
	VerifyAuditChain(ctx context.Context, entityID string) error
}

type ruleService struct {
	ruleRepo repository.RuleRepository
	auditSvc audit.Service
	logger   *logrus.Logger
}

func NewRuleService(ruleRepo repository.RuleRepository, auditSvc audit.Service, logger *logrus.Logger) RuleService {
	return &ruleService{
		ruleRepo: ruleRepo,
		auditSvc: auditSvc,
		logger:   logger,
	}
}

const rulePermission = "compliance_review"

func (s *ruleService) CreateRule(ctx context.Context, rule *models.ComplianceRule, caller Caller) error {
	if !caller.HasPermission(rulePermission) && !caller.HasPermission("compliance_override") {
		return fmt.Errorf("caller %s lacks permission to manage rules", caller.MemberID)
	}

	if rule.RuleID == "" {
		rule.RuleID = "rule_" + uuid.New().String()
	}

	if err := rule.Validate(); err != nil {
		return err
	}

	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		return err
	}

	s.recordRuleChange(ctx, "rule_created", rule, caller)
	return nil
}

func (s *ruleService) UpdateRule(ctx context.Context, rule *models.ComplianceRule, caller Caller) error {
	if !caller.HasPermission(rulePermission) && !caller.HasPermission("compliance_override") {
		return fmt.Errorf("caller %s lacks permission to manage rules", caller.MemberID)
	}

	if err := rule.Validate(); err != nil {
		return err
	}

	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		return err
	}

	s.recordRuleChange(ctx, "rule_updated", rule, caller)
	return nil
}

func (s *ruleService) SetRuleEnabled(ctx context.Context, ruleID string, enabled bool, caller Caller) error {
	if !caller.HasPermission(rulePermission) && !caller.HasPermission("compliance_override") {
		return fmt.Errorf("caller %s lacks permission to manage rules", caller.MemberID)
	}

	if err := s.ruleRepo.SetEnabled(ctx, ruleID, enabled); err != nil {
		return err
	}

	if _, err := s.auditSvc.Record(ctx, audit.KindWalletEvent, ruleID, map[string]interface{}{
		"event":     "rule_toggled",
		"enabled":   enabled,
		"caller_id": caller.MemberID,
	}); err != nil {
		s.logger.WithError(err).Error("failed to record rule toggle audit")
	}

	return nil
}

func (s *ruleService) ListEnabledRules(ctx context.Context) ([]*models.ComplianceRule, error) {
	return s.ruleRepo.ListEnabled(ctx)
}

func (s *ruleService) AuditHistory(ctx context.Context, entityID string, limit int) ([]*audit.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.auditSvc.History(ctx, entityID, limit)
}

func (s *ruleService) VerifyAuditChain(ctx context.Context, entityID string) error {
	return s.auditSvc.Verify(ctx, entityID)
}

func (s *ruleService) recordRuleChange(ctx context.Context, event string, rule *models.ComplianceRule, caller Caller) {
	if _, err := s.auditSvc.Record(ctx, audit.KindWalletEvent, rule.RuleID, map[string]interface{}{
		"event":     event,
		"rule":      rule,
		"caller_id": caller.MemberID,
	}); err != nil {
		s.logger.WithError(err).Error("failed to record rule change audit")
	}
}
