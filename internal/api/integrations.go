package api

import (
	"net/http"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/credentials"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/provider"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IntegrationHandler manages provider credentials: store validates shape and
// runs a live connectivity test before persisting, test re-validates stored
// credentials, delete disconnects. All three require tenant-admin capability,
// enforced by middleware on the route group.
type IntegrationHandler struct {
	db       *gorm.DB
	registry *provider.Registry
	creds    *credentials.Store
	log      *zap.Logger
}

func NewIntegrationHandler(db *gorm.DB, registry *provider.Registry, creds *credentials.Store, log *zap.Logger) *IntegrationHandler {
	return &IntegrationHandler{db: db, registry: registry, creds: creds, log: log}
}

type IntegrationRequest struct {
	Action      string `json:"action" binding:"required"` // store, test, delete
	AccessToken string `json:"access_token"`
	APIKey      string `json:"api_key"`
	AppSecret   string `json:"app_secret"`
	VerifyToken string `json:"verify_token"`
	AccountSID  string `json:"account_sid"`
	ExpiresAt   string `json:"expires_at"` // RFC3339, optional
}

func (h *IntegrationHandler) Handle(c *gin.Context) {
	providerName := c.Param("provider")
	if h.registry.Get(providerName) == nil {
		Fail(c, apperr.NotFound("unknown provider: "+providerName))
		return
	}

	var req IntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validation(err.Error()))
		return
	}

	switch req.Action {
	case "store":
		h.store(c, providerName, &req)
	case "test":
		h.test(c, providerName)
	case "delete":
		h.delete(c, providerName)
	default:
		Fail(c, apperr.Validation("unknown action: "+req.Action))
	}
}

// validateShape checks that the fields the provider's auth scheme needs are
// present before any network call.
func validateShape(providerName string, req *IntegrationRequest) error {
	switch providerName {
	case provider.Meta:
		if req.AccessToken == "" {
			return apperr.Validation("meta requires access_token")
		}
	case provider.Twilio:
		if req.AccountSID == "" || req.AccessToken == "" {
			return apperr.Validation("twilio requires account_sid and access_token")
		}
	case provider.Dialog360, provider.Gupshup, provider.AiSensy:
		if req.APIKey == "" {
			return apperr.Validation(providerName + " requires api_key")
		}
	}
	return nil
}

func (h *IntegrationHandler) store(c *gin.Context, providerName string, req *IntegrationRequest) {
	if err := validateShape(providerName, req); err != nil {
		Fail(c, err)
		return
	}

	tenantID := TenantID(c)
	var tenant models.Tenant
	if err := h.db.First(&tenant, tenantID).Error; err != nil {
		Fail(c, apperr.NotFound("tenant not found"))
		return
	}

	cred := &models.Credential{
		TenantID:    tenantID,
		Provider:    providerName,
		AccessToken: req.AccessToken,
		APIKey:      req.APIKey,
		AppSecret:   req.AppSecret,
		VerifyToken: req.VerifyToken,
		AccountSID:  req.AccountSID,
	}
	if req.ExpiresAt != "" {
		at, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			Fail(c, apperr.Validation("expires_at must be RFC3339"))
			return
		}
		cred.ExpiresAt = &at
	}

	// Live connectivity test before anything is persisted.
	if tester, ok := h.registry.Get(providerName).(provider.ConnectivityTester); ok {
		if err := tester.TestCredential(c.Request.Context(), &tenant, cred); err != nil {
			Fail(c, apperr.Wrap(apperr.KindProvider, "credential test failed: "+err.Error(), err))
			return
		}
	}

	if err := h.creds.Save(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to store credential"})
		return
	}

	// Connecting an integration makes it the tenant's active provider.
	if err := h.db.Model(&tenant).Updates(map[string]any{"provider": providerName, "active": true}).Error; err != nil {
		h.log.Warn("failed to update tenant provider", zap.Uint("tenant_id", tenantID), zap.Error(err))
	}

	h.log.Info("integration connected", zap.Uint("tenant_id", tenantID), zap.String("provider", providerName))
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "connected"})
}

func (h *IntegrationHandler) test(c *gin.Context, providerName string) {
	tenantID := TenantID(c)
	var tenant models.Tenant
	if err := h.db.First(&tenant, tenantID).Error; err != nil {
		Fail(c, apperr.NotFound("tenant not found"))
		return
	}

	cred, err := h.creds.Get(c.Request.Context(), tenantID, providerName)
	if err != nil {
		Fail(c, err)
		return
	}
	if cred == nil {
		Fail(c, apperr.NotFound("no credential stored for "+providerName))
		return
	}

	if tester, ok := h.registry.Get(providerName).(provider.ConnectivityTester); ok {
		if err := tester.TestCredential(c.Request.Context(), &tenant, cred); err != nil {
			Fail(c, apperr.Wrap(apperr.KindProvider, "credential test failed: "+err.Error(), err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "valid"})
}

func (h *IntegrationHandler) delete(c *gin.Context, providerName string) {
	tenantID := TenantID(c)
	if err := h.creds.Delete(c.Request.Context(), tenantID, providerName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to delete credential"})
		return
	}

	// Soft-disconnect: the tenant row survives, only the wiring goes away.
	err := h.db.Model(&models.Tenant{}).
		Where("id = ? AND provider = ?", tenantID, providerName).
		Updates(map[string]any{"provider": "", "active": false}).Error
	if err != nil {
		h.log.Warn("failed to clear tenant provider", zap.Uint("tenant_id", tenantID), zap.Error(err))
	}

	h.log.Info("integration disconnected", zap.Uint("tenant_id", tenantID), zap.String("provider", providerName))
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "disconnected"})
}
