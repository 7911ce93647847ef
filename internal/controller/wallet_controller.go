package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"finops-api/internal/models"
	"finops-api/internal/repository"
	"finops-api/internal/service"
)

type WalletController struct {
	walletService      service.WalletService
	transactionService service.TransactionService
}

func NewWalletController(walletService service.WalletService, transactionService service.TransactionService) *WalletController {
	return &WalletController{
		walletService:      walletService,
		transactionService: transactionService,
	}
}

type CreateWalletRequest struct {
	MemberID         string                `json:"member_id" binding:"required"`
	OwnerTier        string                `json:"owner_tier" binding:"required,membertier"`
	HRClassification string                `json:"hr_classification" binding:"required,hrclass"`
	Limits           models.SpendingLimits `json:"limits" binding:"required"`
	ComplianceLevel  string                `json:"compliance_level,omitempty"`
}

type SubmitTransactionRequest struct {
	TransactionID string            `json:"transaction_id,omitempty"`
	WalletID      string            `json:"wallet_id" binding:"required"`
	Type          string            `json:"type" binding:"required,oneof=payment refund transfer invoice subscription"`
	Amount        decimal.Decimal   `json:"amount" binding:"required"`
	Currency      string            `json:"currency" binding:"required,len=3"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Source        string            `json:"source" binding:"required,oneof=internal external_payment external_ledger"`
}

type UpdateLimitsRequest struct {
	Limits models.SpendingLimits `json:"limits" binding:"required"`
}

type SuspendWalletRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type UpdateComplianceLevelRequest struct {
	ComplianceLevel string `json:"compliance_level" binding:"required,oneof=basic enhanced kc_oversight"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateWallet provisions a wallet after the compliance gate approves
// its configuration. A rejected configuration is a 422 with the full
// compliance result so the caller can see every violation.
func (c *WalletController) CreateWallet(ctx *gin.Context) {
	var req CreateWalletRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	serviceReq := &service.CreateWalletRequest{
		MemberID:         req.MemberID,
		OwnerTier:        models.MemberTier(req.OwnerTier),
		HRClassification: models.HRClassification(req.HRClassification),
		Limits:           req.Limits,
		ComplianceLevel:  models.ComplianceLevel(req.ComplianceLevel),
	}

	result, err := c.walletService.CreateWallet(ctx.Request.Context(), serviceReq)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to create wallet",
			Message: err.Error(),
		})
		return
	}

	if !result.Success {
		ctx.JSON(http.StatusUnprocessableEntity, result)
		return
	}

	ctx.JSON(http.StatusCreated, result)
}

// SubmitTransaction runs the full compliance-gated pipeline. A parked
// transaction answers 202: it was accepted for review, not executed.
func (c *WalletController) SubmitTransaction(ctx *gin.Context) {
	var req SubmitTransactionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	serviceReq := &service.SubmitTransactionRequest{
		TransactionID: req.TransactionID,
		WalletID:      req.WalletID,
		Type:          models.TransactionType(req.Type),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		Metadata:      req.Metadata,
		Source:        models.TransactionSource(req.Source),
	}

	result, err := c.transactionService.SubmitTransaction(ctx.Request.Context(), serviceReq, callerFrom(ctx))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Wallet not found",
				Message: err.Error(),
			})
			return
		}
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to process transaction",
			Message: err.Error(),
		})
		return
	}

	switch {
	case result.Transaction != nil && result.Transaction.Status == models.StatusComplianceReview:
		ctx.JSON(http.StatusAccepted, result)
	case result.Success:
		ctx.JSON(http.StatusOK, result)
	default:
		ctx.JSON(http.StatusUnprocessableEntity, result)
	}
}

func (c *WalletController) GetWallet(ctx *gin.Context) {
	walletID := ctx.Param("walletId")

	wallet, err := c.walletService.GetWallet(ctx.Request.Context(), walletID)
	if err != nil {
		respondLookupError(ctx, "Wallet not found", err)
		return
	}

	ctx.JSON(http.StatusOK, wallet)
}

func (c *WalletController) GetBalance(ctx *gin.Context) {
	walletID := ctx.Param("walletId")

	balance, err := c.walletService.GetBalance(ctx.Request.Context(), walletID)
	if err != nil {
		respondLookupError(ctx, "Balance not available", err)
		return
	}

	ctx.JSON(http.StatusOK, balance)
}

func (c *WalletController) GetActivity(ctx *gin.Context) {
	walletID := ctx.Param("walletId")
	limit := queryInt(ctx, "limit", 20)

	transactions, err := c.walletService.GetActivity(ctx.Request.Context(), walletID, limit)
	if err != nil {
		respondLookupError(ctx, "Wallet not found", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"wallet_id":    walletID,
		"transactions": transactions,
		"count":        len(transactions),
	})
}

func (c *WalletController) GetTransaction(ctx *gin.Context) {
	transactionID := ctx.Param("transactionId")

	tx, err := c.transactionService.GetTransaction(ctx.Request.Context(), transactionID)
	if err != nil {
		respondLookupError(ctx, "Transaction not found", err)
		return
	}

	ctx.JSON(http.StatusOK, tx)
}

func (c *WalletController) UpdateLimits(ctx *gin.Context) {
	walletID := ctx.Param("walletId")

	var req UpdateLimitsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	if err := c.walletService.UpdateLimits(ctx.Request.Context(), walletID, req.Limits, callerFrom(ctx)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondLookupError(ctx, "Wallet not found", err)
			return
		}
		ctx.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "Limit update rejected",
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"wallet_id": walletID, "limits": req.Limits})
}

func (c *WalletController) UpdateComplianceLevel(ctx *gin.Context) {
	walletID := ctx.Param("walletId")

	var req UpdateComplianceLevelRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	level := models.ComplianceLevel(req.ComplianceLevel)
	if err := c.walletService.UpdateComplianceLevel(ctx.Request.Context(), walletID, level, callerFrom(ctx)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondLookupError(ctx, "Wallet not found", err)
			return
		}
		ctx.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "Compliance level update rejected",
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"wallet_id": walletID, "compliance_level": level})
}

func (c *WalletController) SuspendWallet(ctx *gin.Context) {
	walletID := ctx.Param("walletId")

	var req SuspendWalletRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	if err := c.walletService.SuspendWallet(ctx.Request.Context(), walletID, req.Reason, callerFrom(ctx)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondLookupError(ctx, "Wallet not found", err)
			return
		}
		ctx.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "Suspension rejected",
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"wallet_id": walletID, "status": models.WalletStatusSuspended})
}

func respondLookupError(ctx *gin.Context, label string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		ctx.JSON(http.StatusNotFound, ErrorResponse{
			Error:   label,
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "Internal error",
		Message: err.Error(),
	})
}

func queryInt(ctx *gin.Context, key string, defaultValue int) int {
	if valueStr := ctx.Query(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

// callerFrom reads the identity placed on the context by the auth
// middleware. An unauthenticated request yields an empty caller with no
// permissions.
func callerFrom(ctx *gin.Context) service.Caller {
	caller := service.Caller{}
	if memberID, exists := ctx.Get("member_id"); exists {
		caller.MemberID, _ = memberID.(string)
	}
	if permissions, exists := ctx.Get("permissions"); exists {
		caller.Permissions, _ = permissions.([]string)
	}
	return caller
}
