package models

import (
	"time"
)

// Message statuses, in lifecycle order. Failed is terminal and reachable
// from pending or sent only.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// StatusRank orders message statuses so status updates never regress.
// Providers deliver status webhooks out of order; an update is applied only
// when its rank is higher than the stored one.
func StatusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	default:
		return -1
	}
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const (
	ConversationOpen    = "open"
	ConversationPending = "pending"
	ConversationClosed  = "closed"
)

const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignRunning   = "running"
	CampaignCompleted = "completed"
)

// Tenant is the isolation boundary. Every other entity hangs off a tenant id.
// Tenants are never hard-deleted; disconnect clears credentials and flips Active.
type Tenant struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(255);not null" json:"name"`
	Provider      string    `gorm:"type:varchar(50)" json:"provider"` // active messaging provider
	PhoneNumberID string    `gorm:"type:varchar(100);index" json:"phone_number_id"`
	WabaID        string    `gorm:"type:varchar(100)" json:"waba_id"`
	BusinessName  string    `gorm:"type:varchar(255)" json:"business_name"`
	DayQuota      int       `gorm:"default:0" json:"day_quota"` // 0 means platform default
	Active        bool      `gorm:"default:true" json:"active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// Credential holds per-tenant provider secrets. Kept separate from Tenant so
// tenant rows can be shipped to clients without leaking secrets.
type Credential struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    uint       `gorm:"index:idx_cred_tenant_provider,unique;not null" json:"tenant_id"`
	Provider    string     `gorm:"index:idx_cred_tenant_provider,unique;type:varchar(50);not null" json:"provider"`
	AccessToken string     `gorm:"type:text" json:"-"`
	APIKey      string     `gorm:"type:text" json:"-"`
	AppSecret   string     `gorm:"type:text" json:"-"`
	VerifyToken string     `gorm:"type:varchar(255)" json:"-"`
	AccountSID  string     `gorm:"type:varchar(100)" json:"-"` // Twilio
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Credential) TableName() string {
	return "credentials"
}

// Contact is a tenant-scoped identity keyed by digits-only phone number.
type Contact struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TenantID      uint       `gorm:"index:idx_contact_tenant_phone,unique;not null" json:"tenant_id"`
	Phone         string     `gorm:"index:idx_contact_tenant_phone,unique;type:varchar(20);not null" json:"phone"`
	Name          string     `gorm:"type:varchar(255)" json:"name"`
	OptIn         bool       `gorm:"default:false" json:"opt_in"`
	OptInAt       *time.Time `json:"opt_in_at"`
	LastMessageAt *time.Time `json:"last_message_at"`
	Attributes    string     `gorm:"type:text" json:"attributes"` // JSON object, template variable source
	Tags          string     `gorm:"type:text" json:"tags"`       // JSON array
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Conversation is one messaging session between a tenant and a contact.
// At most one open/pending conversation may exist per (tenant, contact);
// the resolver reuses the open one instead of creating duplicates.
type Conversation struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	TenantID         uint       `gorm:"index;not null" json:"tenant_id"`
	ContactID        uint       `gorm:"index;not null" json:"contact_id"`
	Status           string     `gorm:"type:varchar(20);default:'open'" json:"status"`
	SessionActive    bool       `gorm:"default:false" json:"session_active"`
	SessionExpiresAt *time.Time `json:"session_expires_at"` // 24h after last inbound message
	UnreadCount      int        `gorm:"default:0" json:"unread_count"`
	LastMessageAt    *time.Time `json:"last_message_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message is the atomic unit of communication in either direction.
type Message struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UUID              string     `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	TenantID          uint       `gorm:"index;not null;index:idx_messages_inbound_dedup,unique" json:"tenant_id"`
	ConversationID    uint       `gorm:"index" json:"conversation_id"`
	ContactID         uint       `gorm:"index" json:"contact_id"`
	Direction         string     `gorm:"type:varchar(10);not null;index:idx_messages_inbound_dedup,unique" json:"direction"`
	Type              string     `gorm:"type:varchar(20)" json:"type"` // text, template, image, document, video, audio, interactive
	Content           string     `gorm:"type:text" json:"content"`
	MediaURL          string     `gorm:"type:text" json:"media_url"`
	ProviderMessageID string     `gorm:"type:varchar(255);index;index:idx_messages_inbound_dedup,unique,where:direction = 'inbound' AND provider_message_id <> ''" json:"provider_message_id"`
	Status            string     `gorm:"type:varchar(20);default:'pending'" json:"status"`
	FailReason        string     `gorm:"type:text" json:"fail_reason"`
	SentAt            *time.Time `json:"sent_at"`
	DeliveredAt       *time.Time `json:"delivered_at"`
	ReadAt            *time.Time `json:"read_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Template mirrors the provider's template registry entry. Status follows the
// provider's approval state (PENDING, APPROVED, REJECTED).
type Template struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	TenantID           uint      `gorm:"index:idx_tpl_tenant_name,unique;not null" json:"tenant_id"`
	ProviderTemplateID string    `gorm:"type:varchar(255)" json:"provider_template_id"`
	Name               string    `gorm:"index:idx_tpl_tenant_name,unique;type:varchar(255);not null" json:"name"`
	Language           string    `gorm:"type:varchar(20)" json:"language"`
	Category           string    `gorm:"type:varchar(100)" json:"category"`
	Status             string    `gorm:"type:varchar(50)" json:"status"`
	Body               string    `gorm:"type:text" json:"body"`       // body text with {{n}} placeholders
	Components         string    `gorm:"type:text" json:"components"` // raw JSON components
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "templates"
}

// Campaign groups one broadcast run over a recipient selection.
type Campaign struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	UUID       string `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	TenantID   uint   `gorm:"index;not null" json:"tenant_id"`
	Name       string `gorm:"type:varchar(255);not null" json:"name"`
	TemplateID uint   `gorm:"not null" json:"template_id"`
	TargetType string `gorm:"type:varchar(20)" json:"target_type"` // ids, tag, optin
	TargetIDs  string `gorm:"type:text" json:"target_ids"`         // JSON array of contact ids
	TargetTag  string `gorm:"type:varchar(100)" json:"target_tag"`
	// VariableKeys names the contact attribute backing each positional
	// template variable. "name" resolves to the contact's display name.
	VariableKeys string     `gorm:"type:text" json:"variable_keys"` // JSON array
	Status       string     `gorm:"type:varchar(20);default:'draft'" json:"status"`
	TotalCount   int        `gorm:"default:0" json:"total_count"`
	SentCount    int        `gorm:"default:0" json:"sent_count"`
	FailedCount  int        `gorm:"default:0" json:"failed_count"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// QuotaCounter tracks outbound sends per tenant per calendar day. The check
// and increment happen in one statement so concurrent sends cannot overshoot.
type QuotaCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"index:idx_quota_tenant_day,unique;not null" json:"tenant_id"`
	Day       string    `gorm:"index:idx_quota_tenant_day,unique;type:varchar(10);not null" json:"day"` // YYYY-MM-DD
	Count     int       `gorm:"default:0" json:"count"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (QuotaCounter) TableName() string {
	return "quota_counters"
}

// AutomationRule is a tenant-scoped trigger/action rule evaluated after
// inbound normalization.
type AutomationRule struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"index;not null" json:"tenant_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Type       string    `gorm:"type:varchar(50);not null" json:"type"`
	Enabled    bool      `gorm:"default:true" json:"enabled"`
	Priority   int       `gorm:"default:0" json:"priority"`
	Conditions string    `gorm:"type:text" json:"conditions"` // JSON conditions
	Actions    string    `gorm:"type:text" json:"actions"`    // JSON actions
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AutomationRule) TableName() string {
	return "automation_rules"
}

// AutomationLog records one rule execution for operator visibility.
type AutomationLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     uint      `gorm:"index" json:"tenant_id"`
	RuleID       uint      `json:"rule_id"`
	ContactPhone string    `gorm:"type:varchar(20)" json:"contact_phone"`
	TriggerType  string    `gorm:"type:varchar(50)" json:"trigger_type"`
	ActionTaken  string    `gorm:"type:text" json:"action_taken"`
	Success      bool      `json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

// SystemSetting stores process-level settings synced between env and DB.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
