package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"finops-api/internal/models"
	"finops-api/internal/repository"
	"finops-api/internal/service"
)

// AdminController exposes rule administration, member records, and the
// audit trail. All routes sit behind the admin auth middleware.
type AdminController struct {
	ruleService service.RuleService
	memberRepo  repository.MemberRepository
}

func NewAdminController(ruleService service.RuleService, memberRepo repository.MemberRepository) *AdminController {
	return &AdminController{
		ruleService: ruleService,
		memberRepo:  memberRepo,
	}
}

type SetRuleEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (c *AdminController) CreateRule(ctx *gin.Context) {
	var rule models.ComplianceRule
	if err := ctx.ShouldBindJSON(&rule); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	if err := c.ruleService.CreateRule(ctx.Request.Context(), &rule, callerFrom(ctx)); err != nil {
		respondRuleError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, rule)
}

func (c *AdminController) UpdateRule(ctx *gin.Context) {
	var rule models.ComplianceRule
	if err := ctx.ShouldBindJSON(&rule); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	rule.RuleID = ctx.Param("ruleId")
	if err := c.ruleService.UpdateRule(ctx.Request.Context(), &rule, callerFrom(ctx)); err != nil {
		respondRuleError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, rule)
}

func (c *AdminController) SetRuleEnabled(ctx *gin.Context) {
	var req SetRuleEnabledRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	ruleID := ctx.Param("ruleId")
	if err := c.ruleService.SetRuleEnabled(ctx.Request.Context(), ruleID, *req.Enabled, callerFrom(ctx)); err != nil {
		respondRuleError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"rule_id": ruleID, "enabled": *req.Enabled})
}

func (c *AdminController) ListRules(ctx *gin.Context) {
	rules, err := c.ruleService.ListEnabledRules(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list rules",
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (c *AdminController) UpsertMember(ctx *gin.Context) {
	var member models.LLPMemberData
	if err := ctx.ShouldBindJSON(&member); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	if member.MemberID == "" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid member record",
			Message: "member_id is required",
		})
		return
	}

	if err := c.memberRepo.Upsert(ctx.Request.Context(), &member); err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to store member",
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, member)
}

func (c *AdminController) GetMember(ctx *gin.Context) {
	member, err := c.memberRepo.GetByMemberID(ctx.Request.Context(), ctx.Param("memberId"))
	if err != nil {
		respondLookupError(ctx, "Member not found", err)
		return
	}

	ctx.JSON(http.StatusOK, member)
}

func (c *AdminController) GetAuditHistory(ctx *gin.Context) {
	entityID := ctx.Param("entityId")
	limit := queryInt(ctx, "limit", 100)

	records, err := c.ruleService.AuditHistory(ctx.Request.Context(), entityID, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to read audit history",
			Message: err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"entity_id": entityID,
		"records":   records,
		"count":     len(records),
	})
}

// VerifyAuditChain recomputes the hash chain for an entity. A broken
// chain answers 409 so monitoring can alert on tampering.
func (c *AdminController) VerifyAuditChain(ctx *gin.Context) {
	entityID := ctx.Param("entityId")

	if err := c.ruleService.VerifyAuditChain(ctx.Request.Context(), entityID); err != nil {
		ctx.JSON(http.StatusConflict, gin.H{
			"entity_id": entityID,
			"valid":     false,
			"error":     err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"entity_id": entityID, "valid": true})
}

func respondRuleError(ctx *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		ctx.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Rule not found",
			Message: err.Error(),
		})
		return
	}

	// Validation and permission failures are caller mistakes.
	ctx.JSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "Rule rejected",
		Message: err.Error(),
	})
}
