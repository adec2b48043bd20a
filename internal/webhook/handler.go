// Package webhook receives provider callbacks, authenticates them, and
// applies the normalized events to the data model. The endpoint contract:
// signature failures are 401 before anything is parsed; once authenticated
// the response is always 200, even when individual events fail, so providers
// do not enter retry storms.
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"whatsapp-platform/internal/automation"
	"whatsapp-platform/internal/metrics"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/provider"
	"whatsapp-platform/internal/resolver"
	"whatsapp-platform/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Handler struct {
	db       *gorm.DB
	registry *provider.Registry
	chain    *provider.SecretChain
	resolver *resolver.Resolver
	engine   *automation.Engine
	hub      *ws.Hub
	log      *zap.Logger
}

func NewHandler(db *gorm.DB, registry *provider.Registry, chain *provider.SecretChain, res *resolver.Resolver, engine *automation.Engine, hub *ws.Hub, log *zap.Logger) *Handler {
	return &Handler{db: db, registry: registry, chain: chain, resolver: res, engine: engine, hub: hub, log: log}
}

// tenantFromRequest resolves the tenant a webhook URL belongs to. Webhook
// URLs are registered per tenant with a ?tenant= id.
func (h *Handler) tenantFromRequest(c *gin.Context) *models.Tenant {
	idStr := c.Query("tenant")
	if idStr == "" {
		return nil
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return nil
	}
	var tenant models.Tenant
	if err := h.db.First(&tenant, uint(id)).Error; err != nil {
		return nil
	}
	return &tenant
}

func (h *Handler) tenantByPhoneNumberID(hint string) *models.Tenant {
	if hint == "" {
		return nil
	}
	var tenant models.Tenant
	if err := h.db.Where("phone_number_id = ?", hint).First(&tenant).Error; err != nil {
		return nil
	}
	return &tenant
}

func (h *Handler) credentialFor(tenant *models.Tenant, providerName string) *models.Credential {
	if tenant == nil {
		return nil
	}
	var cred models.Credential
	err := h.db.Where("tenant_id = ? AND provider = ?", tenant.ID, providerName).First(&cred).Error
	if err != nil {
		return nil
	}
	return &cred
}

// Verify handles the GET verification handshake (hub.mode / hub.verify_token /
// hub.challenge). The token is matched against the tenant's stored verify
// token, falling back to the process-level one.
func (h *Handler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	tenant := h.tenantFromRequest(c)
	cred := h.credentialFor(tenant, c.Param("provider"))
	expected := provider.ResolveVerifyToken(cred, h.chain)

	if mode == "subscribe" && expected != "" && token == expected {
		h.log.Info("webhook verified", zap.String("provider", c.Param("provider")))
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// Receive handles POST event delivery for one provider.
func (h *Handler) Receive(c *gin.Context) {
	providerName := c.Param("provider")
	adapter := h.registry.Get(providerName)
	if adapter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	var form url.Values
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		form, _ = url.ParseQuery(string(body))
	}

	tenant := h.tenantFromRequest(c)
	if tenant == nil {
		// No ?tenant= id on the URL; fall back to the business number the
		// payload was delivered for.
		if hinter, ok := adapter.(provider.TenantHinter); ok {
			tenant = h.tenantByPhoneNumberID(hinter.TenantHint(body, form))
		}
	}
	if tenant == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tenant"})
		return
	}
	cred := h.credentialFor(tenant, providerName)

	signed := provider.SignedRequest{
		Header: c.Request.Header,
		Body:   body,
		URL:    requestURL(c.Request),
		Form:   form,
	}
	if err := adapter.VerifySignature(cred, h.chain, signed); err != nil {
		metrics.WebhookRejected.WithLabelValues(providerName).Inc()
		h.log.Warn("webhook signature rejected",
			zap.String("provider", providerName),
			zap.Uint("tenant_id", tenant.ID),
			zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	events, err := adapter.ParseWebhook(body, form)
	if err != nil {
		// Authenticated but unparseable: acknowledge anyway, a retry would
		// deliver the same bytes.
		h.log.Error("webhook payload unparseable", zap.String("provider", providerName), zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	// Events in a batch are independent; one bad event never aborts its
	// siblings or the acknowledgment.
	for _, ev := range events {
		switch {
		case ev.Status != nil:
			metrics.WebhookEvents.WithLabelValues(providerName, "status").Inc()
			if err := h.applyStatus(c.Request.Context(), tenant, ev.Status); err != nil {
				h.log.Error("status event failed", zap.String("provider", providerName), zap.Error(err))
			}
		case ev.Inbound != nil:
			metrics.WebhookEvents.WithLabelValues(providerName, "inbound").Inc()
			if err := h.applyInbound(c.Request.Context(), tenant, ev.Inbound); err != nil {
				h.log.Error("inbound event failed", zap.String("provider", providerName), zap.Error(err))
			}
		}
	}

	c.Status(http.StatusOK)
}

// applyStatus looks up the message by provider message id and advances its
// status. Unknown ids are dropped silently: the message may have been sent
// through another path or belong to another tenant. Out-of-order and
// duplicate deliveries are no-ops thanks to the rank guard.
func (h *Handler) applyStatus(ctx context.Context, tenant *models.Tenant, ev *provider.StatusEvent) error {
	db := h.db.WithContext(ctx)

	var msg models.Message
	err := db.Where("tenant_id = ? AND provider_message_id = ?", tenant.ID, ev.ProviderMessageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if models.StatusRank(ev.Status) <= models.StatusRank(msg.Status) {
		return nil // duplicate or out-of-order, already past this state
	}
	// Failed is terminal and only reachable from pending or sent.
	if ev.Status == models.StatusFailed && models.StatusRank(msg.Status) > models.StatusRank(models.StatusSent) {
		return nil
	}

	updates := map[string]any{"status": ev.Status}
	switch ev.Status {
	case models.StatusSent:
		updates["sent_at"] = ev.Timestamp
	case models.StatusDelivered:
		updates["delivered_at"] = ev.Timestamp
	case models.StatusRead:
		updates["read_at"] = ev.Timestamp
	case models.StatusFailed:
		updates["fail_reason"] = ev.ErrorDetail
	}

	// Optimistic guard on the previous status keeps a concurrent update from
	// regressing the row between our read and write.
	res := db.Model(&models.Message{}).
		Where("id = ? AND status = ?", msg.ID, msg.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 && h.hub != nil {
		msg.Status = ev.Status
		h.hub.NotifyStatus(tenant.ID, &msg)
	}
	return nil
}

// applyInbound resolves contact and conversation, persists the message, and
// hands it to the automation trigger.
func (h *Handler) applyInbound(ctx context.Context, tenant *models.Tenant, ev *provider.InboundEvent) error {
	db := h.db.WithContext(ctx)

	// Providers redeliver webhooks; the same inbound message id is recorded
	// once. This check also keeps redeliveries from bumping the conversation
	// again; the unique index behind the guarded insert below closes the
	// window for concurrent deliveries.
	var existing int64
	db.Model(&models.Message{}).
		Where("tenant_id = ? AND provider_message_id = ? AND direction = ?",
			tenant.ID, ev.ProviderMessageID, models.DirectionInbound).
		Count(&existing)
	if ev.ProviderMessageID != "" && existing > 0 {
		return nil
	}

	contact, conv, err := h.resolver.ResolveInbound(ctx, tenant.ID, ev)
	if err != nil {
		return err
	}

	msg := models.Message{
		UUID:              uuid.NewString(),
		TenantID:          tenant.ID,
		ConversationID:    conv.ID,
		ContactID:         contact.ID,
		Direction:         models.DirectionInbound,
		Type:              ev.Type,
		Content:           ev.Text,
		MediaURL:          ev.MediaRef,
		ProviderMessageID: ev.ProviderMessageID,
		Status:            models.StatusDelivered,
		CreatedAt:         ev.Timestamp,
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&msg)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // a concurrent delivery won the insert
	}

	if h.hub != nil {
		h.hub.NotifyMessage(tenant.ID, &msg)
	}
	if h.engine != nil && ev.Type == "text" {
		go h.engine.ProcessIncomingMessage(context.Background(), tenant.ID, contact, conv, ev.Text)
	}
	return nil
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.RequestURI
}
