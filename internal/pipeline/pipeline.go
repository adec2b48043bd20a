// Package pipeline orchestrates one outbound send: quota, credential
// resolution, the pending message row, adapter dispatch, and the terminal
// status update. Each step is a distinct failure boundary; nothing here
// retries implicitly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/credentials"
	"whatsapp-platform/internal/metrics"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/provider"
	"whatsapp-platform/internal/quota"
	"whatsapp-platform/internal/resolver"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SendRequest describes one outbound message.
type SendRequest struct {
	TenantID       uint
	ContactID      uint
	ConversationID uint   // optional; resolved from the contact when zero
	Type           string // text, template, image, document, video, audio
	Content        string // text body or media caption
	TemplateName   string
	Variables      []string
	MediaURL       string
	Provider       string // optional override of the tenant's provider
}

type Pipeline struct {
	db       *gorm.DB
	registry *provider.Registry
	creds    *credentials.Store
	quota    *quota.Guard
	resolver *resolver.Resolver
	log      *zap.Logger
}

func New(db *gorm.DB, registry *provider.Registry, creds *credentials.Store, guard *quota.Guard, res *resolver.Resolver, log *zap.Logger) *Pipeline {
	return &Pipeline{db: db, registry: registry, creds: creds, quota: guard, resolver: res, log: log}
}

// Send runs the outbound pipeline. On provider failure the message row is
// left in a terminal failed state with the provider's reason and the same
// error is returned to the caller.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	db := p.db.WithContext(ctx)

	var tenant models.Tenant
	if err := db.First(&tenant, req.TenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("tenant not found")
		}
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.Active {
		return nil, apperr.Authorization("tenant is disconnected")
	}

	var contact models.Contact
	if err := db.Where("id = ? AND tenant_id = ?", req.ContactID, tenant.ID).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contact not found")
		}
		return nil, fmt.Errorf("load contact: %w", err)
	}

	// Backpressure before any provider call or row creation.
	if err := p.quota.CheckAndIncrement(ctx, &tenant); err != nil {
		return nil, err
	}

	providerName := tenant.Provider
	if req.Provider != "" {
		providerName = req.Provider
	}
	adapter := p.registry.Get(providerName)
	if adapter == nil {
		return nil, apperr.Configuration("unknown messaging provider: " + providerName)
	}
	cred, err := p.creds.ActiveFor(ctx, tenant.ID, providerName)
	if err != nil {
		return nil, err
	}

	spec, content, err := p.buildSpec(ctx, &tenant, req)
	if err != nil {
		return nil, err
	}

	conversationID := req.ConversationID
	if conversationID == 0 {
		conv, err := p.resolver.EnsureOutbound(ctx, tenant.ID, contact.ID)
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	}

	msg := models.Message{
		UUID:           uuid.NewString(),
		TenantID:       tenant.ID,
		ConversationID: conversationID,
		ContactID:      contact.ID,
		Direction:      models.DirectionOutbound,
		Type:           req.Type,
		Content:        content,
		MediaURL:       req.MediaURL,
		Status:         models.StatusPending,
	}
	if err := db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	outcome := adapter.Send(ctx, &tenant, cred, contact.Phone, spec)
	now := time.Now().UTC()

	if !outcome.Success {
		db.Model(&msg).Updates(map[string]any{
			"status":      models.StatusFailed,
			"fail_reason": outcome.ErrorReason,
		})
		msg.Status = models.StatusFailed
		msg.FailReason = outcome.ErrorReason
		metrics.MessagesSent.WithLabelValues(providerName, "failed").Inc()
		p.log.Warn("outbound send failed",
			zap.Uint("tenant_id", tenant.ID),
			zap.String("provider", providerName),
			zap.String("reason", outcome.ErrorReason))
		return &msg, apperr.Provider(outcome.ErrorReason)
	}

	if err := db.Model(&msg).Updates(map[string]any{
		"status":              models.StatusSent,
		"provider_message_id": outcome.ProviderMessageID,
		"sent_at":             now,
	}).Error; err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	msg.Status = models.StatusSent
	msg.ProviderMessageID = outcome.ProviderMessageID
	msg.SentAt = &now

	if err := p.resolver.TouchOutbound(ctx, conversationID, now); err != nil {
		p.log.Warn("failed to touch conversation", zap.Uint("conversation_id", conversationID), zap.Error(err))
	}

	metrics.MessagesSent.WithLabelValues(providerName, "sent").Inc()
	p.log.Info("outbound message sent",
		zap.Uint("tenant_id", tenant.ID),
		zap.String("provider", providerName),
		zap.String("provider_message_id", outcome.ProviderMessageID))
	return &msg, nil
}

// buildSpec validates the request shape and assembles the provider-neutral
// message spec. For template sends the stored template supplies the language
// and provider-specific identifiers, and the rendered body becomes the
// message content persisted for the conversation view.
func (p *Pipeline) buildSpec(ctx context.Context, tenant *models.Tenant, req SendRequest) (provider.MessageSpec, string, error) {
	spec := provider.MessageSpec{Type: req.Type}

	switch req.Type {
	case "text":
		if req.Content == "" {
			return spec, "", apperr.Validation("content is required for text messages")
		}
		spec.Text = req.Content
		return spec, req.Content, nil

	case "template":
		if req.TemplateName == "" {
			return spec, "", apperr.Validation("template_name is required for template messages")
		}
		var tpl models.Template
		err := p.db.WithContext(ctx).
			Where("tenant_id = ? AND name = ?", tenant.ID, req.TemplateName).
			First(&tpl).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return spec, "", apperr.NotFound("template not found: " + req.TemplateName)
		}
		if err != nil {
			return spec, "", fmt.Errorf("load template: %w", err)
		}
		spec.TemplateName = tpl.Name
		spec.TemplateLanguage = tpl.Language
		spec.TemplateSID = tpl.ProviderTemplateID
		spec.TemplateID = tpl.ProviderTemplateID
		spec.Variables = req.Variables
		spec.MediaURL = req.MediaURL
		return spec, Render(tpl.Body, req.Variables), nil

	case "image", "video", "audio", "document":
		if req.MediaURL == "" {
			return spec, "", apperr.Validation("media_url is required for media messages")
		}
		spec.MediaURL = req.MediaURL
		spec.Caption = req.Content
		content := req.Content
		if content == "" {
			content = "[" + req.Type + "]"
		}
		return spec, content, nil
	}

	return spec, "", apperr.Validation("unsupported message type: " + req.Type)
}
