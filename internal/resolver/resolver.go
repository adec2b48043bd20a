// Package resolver idempotently maps inbound traffic onto Contact and
// Conversation rows. Two near-simultaneous webhooks for the same phone number
// must land on the same contact and the same conversation; the guards are
// database constraints and single-statement inserts, not in-process locks.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/provider"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionWindow is the period after a customer message during which the
// business may send free-form replies.
const SessionWindow = 24 * time.Hour

type Resolver struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// ResolveInbound finds or creates the contact and conversation for one
// normalized inbound event, refreshes the 24h session window, and bumps the
// unread counter.
func (r *Resolver) ResolveInbound(ctx context.Context, tenantID uint, ev *provider.InboundEvent) (*models.Contact, *models.Conversation, error) {
	contact, err := r.ensureContact(ctx, tenantID, ev)
	if err != nil {
		return nil, nil, err
	}

	conv, err := r.ensureConversation(ctx, tenantID, contact.ID, ev.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	return contact, conv, nil
}

func (r *Resolver) ensureContact(ctx context.Context, tenantID uint, ev *provider.InboundEvent) (*models.Contact, error) {
	db := r.db.WithContext(ctx)
	now := ev.Timestamp

	// An inbound message is implicit consent, so new contacts default opted-in.
	fresh := models.Contact{
		TenantID:   tenantID,
		Phone:      ev.From,
		Name:       ev.ProfileName,
		OptIn:      true,
		OptInAt:    &now,
		Attributes: "{}",
		Tags:       "[]",
	}
	// The unique (tenant, phone) index makes the concurrent-create race safe:
	// the loser's insert does nothing and the re-read below picks up the winner.
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	var contact models.Contact
	if err := db.Where("tenant_id = ? AND phone = ?", tenantID, ev.From).First(&contact).Error; err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}

	updates := map[string]any{"last_message_at": now}
	if ev.ProfileName != "" && contact.Name != ev.ProfileName {
		updates["name"] = ev.ProfileName
		contact.Name = ev.ProfileName
	}
	if err := db.Model(&contact).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	contact.LastMessageAt = &now
	return &contact, nil
}

func (r *Resolver) ensureConversation(ctx context.Context, tenantID, contactID uint, at time.Time) (*models.Conversation, error) {
	db := r.db.WithContext(ctx)
	expiry := at.Add(SessionWindow)

	var conv models.Conversation
	err := db.Where("tenant_id = ? AND contact_id = ? AND status IN ?",
		tenantID, contactID, []string{models.ConversationOpen, models.ConversationPending}).
		First(&conv).Error

	if err == nil {
		// Reuse the open conversation: each inbound message extends the
		// session window and counts as unread. A closed conversation whose
		// session lapsed stays closed; it never gets here.
		err = db.Model(&conv).Updates(map[string]any{
			"session_active":     true,
			"session_expires_at": expiry,
			"unread_count":       gorm.Expr("unread_count + 1"),
			"last_message_at":    at,
		}).Error
		if err != nil {
			return nil, fmt.Errorf("refresh conversation: %w", err)
		}
		conv.SessionActive = true
		conv.SessionExpiresAt = &expiry
		conv.UnreadCount++
		conv.LastMessageAt = &at
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	// Single-statement guarded insert: creates a conversation only while no
	// open/pending one exists, which keeps two concurrent webhooks from
	// creating duplicates.
	res := db.Exec(`
		INSERT INTO conversations (tenant_id, contact_id, status, session_active, session_expires_at, unread_count, last_message_at, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, 1, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM conversations
			WHERE tenant_id = ? AND contact_id = ? AND status IN (?, ?)
		)`,
		tenantID, contactID, models.ConversationOpen, true, expiry, at, at, at,
		tenantID, contactID, models.ConversationOpen, models.ConversationPending)
	if res.Error != nil {
		return nil, fmt.Errorf("create conversation: %w", res.Error)
	}

	if err := db.Where("tenant_id = ? AND contact_id = ? AND status IN ?",
		tenantID, contactID, []string{models.ConversationOpen, models.ConversationPending}).
		First(&conv).Error; err != nil {
		return nil, fmt.Errorf("load conversation after insert: %w", err)
	}

	if res.RowsAffected == 0 {
		// Lost the race; the winner's row needs the window refresh we skipped.
		if err := db.Model(&conv).Updates(map[string]any{
			"session_active":     true,
			"session_expires_at": expiry,
			"unread_count":       gorm.Expr("unread_count + 1"),
			"last_message_at":    at,
		}).Error; err != nil {
			return nil, fmt.Errorf("refresh conversation: %w", err)
		}
	}
	return &conv, nil
}

// EnsureOutbound returns the open conversation for a contact, creating one
// without an active session when none exists. Business-initiated messages
// open a conversation but never open the free-form session window.
func (r *Resolver) EnsureOutbound(ctx context.Context, tenantID, contactID uint) (*models.Conversation, error) {
	db := r.db.WithContext(ctx)

	var conv models.Conversation
	err := db.Where("tenant_id = ? AND contact_id = ? AND status IN ?",
		tenantID, contactID, []string{models.ConversationOpen, models.ConversationPending}).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	now := time.Now().UTC()
	res := db.Exec(`
		INSERT INTO conversations (tenant_id, contact_id, status, session_active, unread_count, created_at, updated_at)
		SELECT ?, ?, ?, ?, 0, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM conversations
			WHERE tenant_id = ? AND contact_id = ? AND status IN (?, ?)
		)`,
		tenantID, contactID, models.ConversationOpen, false, now, now,
		tenantID, contactID, models.ConversationOpen, models.ConversationPending)
	if res.Error != nil {
		return nil, fmt.Errorf("create conversation: %w", res.Error)
	}

	if err := db.Where("tenant_id = ? AND contact_id = ? AND status IN ?",
		tenantID, contactID, []string{models.ConversationOpen, models.ConversationPending}).
		First(&conv).Error; err != nil {
		return nil, fmt.Errorf("load conversation after insert: %w", err)
	}
	return &conv, nil
}

// TouchOutbound records an outbound send on the conversation.
func (r *Resolver) TouchOutbound(ctx context.Context, conversationID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at).Error
}
