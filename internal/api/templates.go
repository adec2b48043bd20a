package api

import (
	"net/http"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/credentials"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/provider"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateHandler struct {
	db       *gorm.DB
	registry *provider.Registry
	creds    *credentials.Store
	log      *zap.Logger
}

func NewTemplateHandler(db *gorm.DB, registry *provider.Registry, creds *credentials.Store, log *zap.Logger) *TemplateHandler {
	return &TemplateHandler{db: db, registry: registry, creds: creds, log: log}
}

// GetTemplates returns the locally mirrored template registry.
func (h *TemplateHandler) GetTemplates(c *gin.Context) {
	var templates []models.Template
	if err := h.db.Where("tenant_id = ?", TenantID(c)).Find(&templates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if templates == nil {
		templates = []models.Template{}
	}
	c.JSON(http.StatusOK, templates)
}

// SyncTemplates pulls the provider's template registry and mirrors names,
// bodies and approval statuses into local rows. Only the Meta-backed
// registry is queryable; BSP-managed templates are registered manually.
func (h *TemplateHandler) SyncTemplates(c *gin.Context) {
	tenantID := TenantID(c)

	var tenant models.Tenant
	if err := h.db.First(&tenant, tenantID).Error; err != nil {
		Fail(c, apperr.NotFound("tenant not found"))
		return
	}

	meta, ok := h.registry.Get(provider.Meta).(*provider.MetaAdapter)
	if !ok {
		Fail(c, apperr.Configuration("meta adapter unavailable"))
		return
	}
	cred, err := h.creds.Get(c.Request.Context(), tenantID, provider.Meta)
	if err != nil {
		Fail(c, err)
		return
	}
	if cred == nil {
		Fail(c, apperr.Configuration("no meta credential stored"))
		return
	}

	remote, err := meta.FetchTemplates(c.Request.Context(), &tenant, cred)
	if err != nil {
		Fail(c, apperr.Wrap(apperr.KindProvider, "failed to fetch templates: "+err.Error(), err))
		return
	}

	synced := 0
	for _, rt := range remote {
		tpl := models.Template{
			TenantID:           tenantID,
			ProviderTemplateID: rt.ID,
			Name:               rt.Name,
			Language:           rt.Language,
			Category:           rt.Category,
			Status:             rt.Status,
			Body:               rt.Body,
			Components:         string(rt.Components),
		}
		err := h.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"provider_template_id", "language", "category", "status", "body", "components", "updated_at",
			}),
		}).Create(&tpl).Error
		if err != nil {
			h.log.Warn("failed to sync template", zap.String("template", rt.Name), zap.Error(err))
			continue
		}
		synced++
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "count": synced})
}

type CreateTemplateRequest struct {
	Name               string `json:"name" binding:"required"`
	Language           string `json:"language" binding:"required"`
	Category           string `json:"category"`
	Body               string `json:"body" binding:"required"`
	ProviderTemplateID string `json:"provider_template_id"`
	Status             string `json:"status"`
}

// CreateTemplate registers a template locally, used for BSPs whose template
// registry cannot be queried.
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validation(err.Error()))
		return
	}

	status := req.Status
	if status == "" {
		status = "PENDING"
	}
	tpl := models.Template{
		TenantID:           TenantID(c),
		ProviderTemplateID: req.ProviderTemplateID,
		Name:               req.Name,
		Language:           req.Language,
		Category:           req.Category,
		Status:             status,
		Body:               req.Body,
	}
	if err := h.db.Create(&tpl).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create template"})
		return
	}
	c.JSON(http.StatusCreated, tpl)
}
