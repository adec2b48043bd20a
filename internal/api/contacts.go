package api

import (
	"net/http"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/pkg/phone"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactHandler struct {
	db *gorm.DB
}

func NewContactHandler(db *gorm.DB) *ContactHandler {
	return &ContactHandler{db: db}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	query := h.db.Where("tenant_id = ?", TenantID(c))
	if tag := c.Query("tag"); tag != "" {
		query = query.Where("tags LIKE ?", "%\""+tag+"\"%")
	}

	var contacts []models.Contact
	if err := query.Order("created_at DESC").Find(&contacts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

type CreateContactRequest struct {
	Phone      string `json:"phone" binding:"required"`
	Name       string `json:"name"`
	OptIn      bool   `json:"opt_in"`
	Attributes string `json:"attributes"`
	Tags       string `json:"tags"`
}

func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validation(err.Error()))
		return
	}
	if !phone.Valid(req.Phone) {
		Fail(c, apperr.Validation("invalid phone number"))
		return
	}

	contact := models.Contact{
		TenantID:   TenantID(c),
		Phone:      phone.Normalize(req.Phone),
		Name:       req.Name,
		OptIn:      req.OptIn,
		Attributes: orDefault(req.Attributes, "{}"),
		Tags:       orDefault(req.Tags, "[]"),
	}
	if req.OptIn {
		now := time.Now().UTC()
		contact.OptInAt = &now
	}

	// Import flows re-post existing numbers; upsert instead of erroring.
	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "opt_in", "attributes", "tags", "updated_at"}),
	}).Create(&contact).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create contact"})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

type UpdateContactRequest struct {
	Name       *string `json:"name"`
	OptIn      *bool   `json:"opt_in"`
	Attributes *string `json:"attributes"`
	Tags       *string `json:"tags"`
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validation(err.Error()))
		return
	}

	var contact models.Contact
	if err := h.db.Where("id = ? AND tenant_id = ?", c.Param("id"), TenantID(c)).First(&contact).Error; err != nil {
		Fail(c, apperr.NotFound("contact not found"))
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.OptIn != nil {
		updates["opt_in"] = *req.OptIn
		if *req.OptIn {
			updates["opt_in_at"] = time.Now().UTC()
		}
	}
	if req.Attributes != nil {
		updates["attributes"] = *req.Attributes
	}
	if req.Tags != nil {
		updates["tags"] = *req.Tags
	}
	if len(updates) == 0 {
		Fail(c, apperr.Validation("no fields to update"))
		return
	}

	if err := h.db.Model(&contact).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to update contact"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
