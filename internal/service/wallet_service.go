package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"finops-api/internal/audit"
	"finops-api/internal/cache"
	"finops-api/internal/compliance"
	"finops-api/internal/external"
	"finops-api/internal/models"
	"finops-api/internal/repository"
)

// Caller is the authenticated identity supplied by the gateway. The
// service only consumes it; token validation happens upstream.
type Caller struct {
	MemberID    string
	Permissions []string
}

// HasPermission checks membership in the caller's permission set.
func (c Caller) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

type CreateWalletRequest struct {
	MemberID         string                  `json:"member_id"`
	OwnerTier        models.MemberTier       `json:"owner_tier"`
	HRClassification models.HRClassification `json:"hr_classification"`
	Limits           models.SpendingLimits   `json:"limits"`
	ComplianceLevel  models.ComplianceLevel  `json:"compliance_level"`
}

type CreateWalletResult struct {
	Wallet          *models.WalletConfiguration `json:"wallet,omitempty"`
	ComplianceCheck *models.ComplianceResult    `json:"compliance_check"`
	Success         bool                        `json:"success"`
	ErrorMessage    string                      `json:"error_message,omitempty"`
}

type WalletService interface {
	CreateWallet(ctx context.Context, req *CreateWalletRequest) (*CreateWalletResult, error)
	GetWallet(ctx context.Context, walletID string) (*models.WalletConfiguration, error)
	GetBalance(ctx context.Context, walletID string) (*models.WalletBalance, error)
	GetActivity(ctx context.Context, walletID string, limit int) ([]*models.FinancialTransaction, error)
	UpdateLimits(ctx context.Context, walletID string, limits models.SpendingLimits, caller Caller) error
	UpdateComplianceLevel(ctx context.Context, walletID string, level models.ComplianceLevel, caller Caller) error
	SuspendWallet(ctx context.Context, walletID string, reason string, caller Caller) error
}

type walletService struct {
	walletRepo      repository.WalletRepository
	memberRepo      repository.MemberRepository
	transactionRepo repository.TransactionRepository
	ledgerRepo      repository.LedgerRepository
	complianceEng   compliance.Engine
	payments        external.PaymentProcessor
	cacheService    cache.CacheService
	auditSvc        audit.Service
	events          external.EventPublisher
	logger          *logrus.Logger
}

func NewWalletService(
	walletRepo repository.WalletRepository,
	memberRepo repository.MemberRepository,
	transactionRepo repository.TransactionRepository,
	ledgerRepo repository.LedgerRepository,
	complianceEng compliance.Engine,
	payments external.PaymentProcessor,
	cacheService cache.CacheService,
	auditSvc audit.Service,
	events external.EventPublisher,
	logger *logrus.Logger,
) WalletService {
	return &walletService{
		walletRepo:      walletRepo,
		memberRepo:      memberRepo,
		transactionRepo: transactionRepo,
		ledgerRepo:      ledgerRepo,
		complianceEng:   complianceEng,
		payments:        payments,
		cacheService:    cacheService,
		auditSvc:        auditSvc,
		events:          events,
		logger:          logger,
	}
}

func (s *walletService) CreateWallet(ctx context.Context, req *CreateWalletRequest) (*CreateWalletResult, error) {
	wallet := &models.WalletConfiguration{
		WalletID:         "wallet_" + uuid.New().String(),
		MemberID:         req.MemberID,
		OwnerTier:        req.OwnerTier,
		HRClassification: req.HRClassification,
		Limits:           req.Limits,
		Status:           models.WalletStatusActive,
		ComplianceLevel:  req.ComplianceLevel,
		CreatedAt:        time.Now().UTC(),
	}
	if wallet.ComplianceLevel == "" {
		wallet.ComplianceLevel = models.ComplianceLevelBasic
	}
	wallet.TwoFactorRequired = wallet.ComplianceLevel != models.ComplianceLevelBasic

	member, err := s.memberRepo.GetByMemberID(ctx, req.MemberID)
	if err != nil {
		member = nil
	}

	check := s.complianceEng.ValidateWalletCreation(ctx, wallet, member)
	wallet.ComplianceSignature = check.Signature

	if !check.Passed {
		return &CreateWalletResult{
			ComplianceCheck: check,
			Success:         false,
			ErrorMessage:    "wallet configuration rejected by compliance",
		}, nil
	}

	if err := wallet.Validate(); err != nil {
		return &CreateWalletResult{
			ComplianceCheck: check,
			Success:         false,
			ErrorMessage:    err.Error(),
		}, nil
	}

	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		return nil, err
	}

	if _, err := s.auditSvc.Record(ctx, audit.KindWalletEvent, wallet.WalletID, check); err != nil {
		s.logger.WithError(err).WithField("wallet_id", wallet.WalletID).Error("failed to record wallet creation audit")
	}

	if err := s.events.PublishFinancialEvent(ctx, "wallet_created", wallet); err != nil {
		s.logger.WithError(err).Warn("failed to publish wallet event")
	}

	return &CreateWalletResult{
		Wallet:          wallet,
		ComplianceCheck: check,
		Success:         true,
	}, nil
}

func (s *walletService) GetWallet(ctx context.Context, walletID string) (*models.WalletConfiguration, error) {
	if wallet, err := s.cacheService.GetCachedWallet(ctx, walletID); err == nil {
		return wallet, nil
	}

	wallet, err := s.walletRepo.GetByWalletID(ctx, walletID)
	if err != nil {
		return nil, err
	}

	if err := s.cacheService.CacheWallet(ctx, wallet, 5*time.Minute); err != nil {
		s.logger.WithError(err).Debug("failed to cache wallet")
	}

	return wallet, nil
}

// GetBalance merges the internal ledger total with the payment processor
// balance. A processor failure degrades the response instead of failing
// the call.
func (s *walletService) GetBalance(ctx context.Context, walletID string) (*models.WalletBalance, error) {
	if balance, err := s.cacheService.GetCachedBalance(ctx, walletID); err == nil {
		return balance, nil
	}

	wallet, err := s.walletRepo.GetByWalletID(ctx, walletID)
	if err != nil {
		return nil, err
	}

	internal, err := s.ledgerRepo.GetBalance(ctx, walletID)
	if err != nil {
		return nil, err
	}

	pending, err := s.transactionRepo.SumPending(ctx, walletID)
	if err != nil {
		return nil, err
	}

	balance := &models.WalletBalance{
		WalletID:  walletID,
		Internal:  internal,
		Pending:   pending,
		Currency:  "USD",
		FetchedAt: time.Now().UTC(),
	}

	if wallet.PaymentCustomerID != "" {
		processor, err := s.payments.GetBalance(ctx, wallet.PaymentCustomerID)
		if err != nil {
			s.logger.WithError(err).WithField("wallet_id", walletID).Warn("processor balance lookup failed, returning internal-only balance")
			balance.Degraded = true
		} else {
			balance.Processor = processor
		}
	}

	balance.Total = balance.Internal.Add(balance.Processor)
	balance.Available = balance.Total.Sub(balance.Pending)

	if err := s.cacheService.CacheBalance(ctx, balance); err != nil {
		s.logger.WithError(err).Debug("failed to cache balance")
	}

	return balance, nil
}

func (s *walletService) GetActivity(ctx context.Context, walletID string, limit int) ([]*models.FinancialTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	if _, err := s.walletRepo.GetByWalletID(ctx, walletID); err != nil {
		return nil, err
	}

	return s.transactionRepo.GetByWalletID(ctx, walletID, limit)
}

// UpdateLimits is permission-gated: only callers holding the
// instance_admin or compliance_override capability may change limits,
// and the new limits must respect the wallet's tier ceilings.
func (s *walletService) UpdateLimits(ctx context.Context, walletID string, limits models.SpendingLimits, caller Caller) error {
	if !caller.HasPermission("instance_admin") && !caller.HasPermission("compliance_override") {
		return fmt.Errorf("caller %s lacks permission to update limits", caller.MemberID)
	}

	wallet, err := s.walletRepo.GetByWalletID(ctx, walletID)
	if err != nil {
		return err
	}

	if err := limits.Validate(wallet.OwnerTier); err != nil {
		return err
	}

	if err := s.walletRepo.UpdateLimits(ctx, walletID, limits); err != nil {
		return err
	}

	if err := s.cacheService.InvalidateWallet(ctx, walletID); err != nil {
		s.logger.WithError(err).Debug("failed to invalidate wallet cache")
	}

	if _, err := s.auditSvc.Record(ctx, audit.KindWalletEvent, walletID, map[string]interface{}{
		"event":     "limits_updated",
		"limits":    limits,
		"caller_id": caller.MemberID,
	}); err != nil {
		s.logger.WithError(err).Error("failed to record limit update audit")
	}

	return nil
}

// UpdateComplianceLevel moves a wallet between oversight levels. Raising
// to enhanced or kc_oversight turns on the two-factor requirement.
func (s *walletService) UpdateComplianceLevel(ctx context.Context, walletID string, level models.ComplianceLevel, caller Caller) error {
	if !caller.HasPermission("instance_admin") && !caller.HasPermission("compliance_override") {
		return fmt.Errorf("caller %s lacks permission to change compliance levels", caller.MemberID)
	}

	switch level {
	case models.ComplianceLevelBasic, models.ComplianceLevelEnhanced, models.ComplianceLevelKCOversight:
	default:
		return fmt.Errorf("unknown compliance level: %s", level)
	}

	if _, err := s.walletRepo.GetByWalletID(ctx, walletID); err != nil {
		return err
	}

	if err := s.walletRepo.UpdateComplianceLevel(ctx, walletID, level); err != nil {
		return err
	}

	if err := s.cacheService.InvalidateWallet(ctx, walletID); err != nil {
		s.logger.WithError(err).Debug("failed to invalidate wallet cache")
	}

	if _, err := s.auditSvc.Record(ctx, audit.KindWalletEvent, walletID, map[string]interface{}{
		"event":     "compliance_level_updated",
		"level":     level,
		"caller_id": caller.MemberID,
	}); err != nil {
		s.logger.WithError(err).Error("failed to record compliance level audit")
	}

	return nil
}

// SuspendWallet decommissions by status change; wallets are never
// deleted.
func (s *walletService) SuspendWallet(ctx context.Context, walletID string, reason string, caller Caller) error {
	if !caller.HasPermission("instance_admin") && !caller.HasPermission("compliance_override") {
		return fmt.Errorf("caller %s lacks permission to suspend wallets", caller.MemberID)
	}

	if err := s.walletRepo.UpdateStatus(ctx, walletID, models.WalletStatusSuspended); err != nil {
		return err
	}

	if err := s.cacheService.InvalidateWallet(ctx, walletID); err != nil {
		s.logger.WithError(err).Debug("failed to invalidate wallet cache")
	}

	if _, err := s.auditSvc.Record(ctx, audit.KindWalletEvent, walletID, map[string]interface{}{
		"event":     "suspended",
		"reason":    reason,
		"caller_id": caller.MemberID,
	}); err != nil {
		s.logger.WithError(err).Error("failed to record suspension audit")
	}

	return nil
}
