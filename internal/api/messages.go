package api

import (
	"net/http"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/pipeline"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type MessageHandler struct {
	db       *gorm.DB
	pipeline *pipeline.Pipeline
}

func NewMessageHandler(db *gorm.DB, p *pipeline.Pipeline) *MessageHandler {
	return &MessageHandler{db: db, pipeline: p}
}

type SendMessageRequest struct {
	ContactID         uint     `json:"contact_id" binding:"required"`
	ConversationID    uint     `json:"conversation_id"`
	MessageType       string   `json:"message_type" binding:"required"`
	Content           string   `json:"content"`
	TemplateName      string   `json:"template_name"`
	TemplateVariables []string `json:"template_variables"`
	MediaURL          string   `json:"media_url"`
	Provider          string   `json:"provider"`
}

// SendMessage runs the outbound pipeline for one message.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validation(err.Error()))
		return
	}

	msg, err := h.pipeline.Send(c.Request.Context(), pipeline.SendRequest{
		TenantID:       TenantID(c),
		ContactID:      req.ContactID,
		ConversationID: req.ConversationID,
		Type:           req.MessageType,
		Content:        req.Content,
		TemplateName:   req.TemplateName,
		Variables:      req.TemplateVariables,
		MediaURL:       req.MediaURL,
		Provider:       req.Provider,
	})
	if err != nil {
		Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"message_id":          msg.UUID,
		"provider_message_id": msg.ProviderMessageID,
	})
}

// GetMessages lists a conversation's messages, newest first.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	query := h.db.Where("tenant_id = ?", TenantID(c))
	if convID := c.Query("conversation_id"); convID != "" {
		query = query.Where("conversation_id = ?", convID)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Limit(100).Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// GetConversations lists the tenant's conversations by recent activity.
func (h *MessageHandler) GetConversations(c *gin.Context) {
	var conversations []models.Conversation
	err := h.db.Where("tenant_id = ?", TenantID(c)).
		Order("last_message_at DESC").
		Limit(100).
		Find(&conversations).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	c.JSON(http.StatusOK, conversations)
}
