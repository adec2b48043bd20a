package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/broadcast"
	"whatsapp-platform/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CampaignHandler struct {
	db           *gorm.DB
	orchestrator *broadcast.Orchestrator
	log          *zap.Logger
}

func NewCampaignHandler(db *gorm.DB, o *broadcast.Orchestrator, log *zap.Logger) *CampaignHandler {
	return &CampaignHandler{db: db, orchestrator: o, log: log}
}

type CreateCampaignRequest struct {
	Name         string   `json:"name" binding:"required"`
	TemplateID   uint     `json:"template_id" binding:"required"`
	TargetType   string   `json:"target_type" binding:"required"`
	TargetIDs    []uint   `json:"target_ids"`
	TargetTag    string   `json:"target_tag"`
	VariableKeys []string `json:"variable_keys"`
	ScheduledAt  *string  `json:"scheduled_at"` // RFC3339; omitted means draft
}

func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validation(err.Error()))
		return
	}

	var tpl models.Template
	err := h.db.Where("id = ? AND tenant_id = ?", req.TemplateID, TenantID(c)).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		Fail(c, apperr.NotFound("template not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	campaign := models.Campaign{
		UUID:       uuid.NewString(),
		TenantID:   TenantID(c),
		Name:       req.Name,
		TemplateID: req.TemplateID,
		TargetType: req.TargetType,
		TargetTag:  req.TargetTag,
		Status:     models.CampaignDraft,
	}
	if len(req.TargetIDs) > 0 {
		ids, _ := json.Marshal(req.TargetIDs)
		campaign.TargetIDs = string(ids)
	}
	if len(req.VariableKeys) > 0 {
		keys, _ := json.Marshal(req.VariableKeys)
		campaign.VariableKeys = string(keys)
	}
	if req.ScheduledAt != nil {
		at, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			Fail(c, apperr.Validation("scheduled_at must be RFC3339"))
			return
		}
		campaign.Status = models.CampaignScheduled
		campaign.ScheduledAt = &at
	}

	if err := h.db.Create(&campaign).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create campaign"})
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

// RunCampaign starts the broadcast. The orchestrator owns the run; the
// request returns immediately with the campaign in running state.
func (h *CampaignHandler) RunCampaign(c *gin.Context) {
	tenantID := TenantID(c)
	campaignUUID := c.Param("uuid")

	var campaign models.Campaign
	err := h.db.Where("tenant_id = ? AND uuid = ?", tenantID, campaignUUID).First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		Fail(c, apperr.NotFound("campaign not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if campaign.Status == models.CampaignRunning || campaign.Status == models.CampaignCompleted {
		Fail(c, apperr.Validation("campaign already "+campaign.Status))
		return
	}

	// Detached from the request context: the run outlives the HTTP call.
	go func() {
		if err := h.orchestrator.Run(context.Background(), tenantID, campaignUUID); err != nil {
			h.log.Error("campaign run failed",
				zap.String("campaign", campaignUUID),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"success": true, "status": "running"})
}

func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	var campaign models.Campaign
	err := h.db.Where("tenant_id = ? AND uuid = ?", TenantID(c), c.Param("uuid")).First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		Fail(c, apperr.NotFound("campaign not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	var campaigns []models.Campaign
	if err := h.db.Where("tenant_id = ?", TenantID(c)).Order("created_at DESC").Find(&campaigns).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	c.JSON(http.StatusOK, campaigns)
}
