package api

import (
	"encoding/json"
	"net/http"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AutomationHandler struct {
	db *gorm.DB
}

func NewAutomationHandler(db *gorm.DB) *AutomationHandler {
	return &AutomationHandler{db: db}
}

func (h *AutomationHandler) GetRules(c *gin.Context) {
	var rules []models.AutomationRule
	err := h.db.Where("tenant_id = ?", TenantID(c)).
		Order("priority DESC").
		Find(&rules).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if rules == nil {
		rules = []models.AutomationRule{}
	}
	c.JSON(http.StatusOK, rules)
}

type AutomationRuleRequest struct {
	Name       string `json:"name" binding:"required"`
	Type       string `json:"type" binding:"required"`
	Enabled    *bool  `json:"enabled"`
	Priority   int    `json:"priority"`
	Conditions string `json:"conditions" binding:"required"`
	Actions    string `json:"actions" binding:"required"`
}

func validRuleJSON(req *AutomationRuleRequest) error {
	if !json.Valid([]byte(req.Conditions)) {
		return apperr.Validation("conditions is not valid JSON")
	}
	if !json.Valid([]byte(req.Actions)) {
		return apperr.Validation("actions is not valid JSON")
	}
	return nil
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validation(err.Error()))
		return
	}
	if err := validRuleJSON(&req); err != nil {
		Fail(c, err)
		return
	}

	rule := models.AutomationRule{
		TenantID:   TenantID(c),
		Name:       req.Name,
		Type:       req.Type,
		Enabled:    true,
		Priority:   req.Priority,
		Conditions: req.Conditions,
		Actions:    req.Actions,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := h.db.Create(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create rule"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	var req AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validation(err.Error()))
		return
	}
	if err := validRuleJSON(&req); err != nil {
		Fail(c, err)
		return
	}

	var rule models.AutomationRule
	if err := h.db.Where("id = ? AND tenant_id = ?", c.Param("id"), TenantID(c)).First(&rule).Error; err != nil {
		Fail(c, apperr.NotFound("rule not found"))
		return
	}

	updates := map[string]any{
		"name":       req.Name,
		"type":       req.Type,
		"priority":   req.Priority,
		"conditions": req.Conditions,
		"actions":    req.Actions,
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if err := h.db.Model(&rule).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to update rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	res := h.db.Where("id = ? AND tenant_id = ?", c.Param("id"), TenantID(c)).
		Delete(&models.AutomationRule{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to delete rule"})
		return
	}
	if res.RowsAffected == 0 {
		Fail(c, apperr.NotFound("rule not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetLogs returns recent rule executions for operator debugging.
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	var logs []models.AutomationLog
	err := h.db.Where("tenant_id = ?", TenantID(c)).
		Order("created_at DESC").
		Limit(100).
		Find(&logs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.AutomationLog{}
	}
	c.JSON(http.StatusOK, logs)
}
