// Package automation evaluates tenant-defined trigger rules after inbound
// normalization. The messaging core treats this as an opaque collaborator:
// it receives the resolved contact and conversation, evaluates conditions,
// and executes actions. Failures are logged per rule and never propagate
// back into webhook processing.
package automation

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/pipeline"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Engine struct {
	db       *gorm.DB
	pipeline *pipeline.Pipeline
	log      *zap.Logger
}

func NewEngine(db *gorm.DB, p *pipeline.Pipeline, log *zap.Logger) *Engine {
	return &Engine{db: db, pipeline: p, log: log}
}

// Condition is one rule condition.
type Condition struct {
	Type     string `json:"type"`     // keyword
	Operator string `json:"operator"` // equals, contains, regex
	Value    string `json:"value"`
}

// Action is one automation action.
type Action struct {
	Type   string            `json:"type"` // send_message, add_tag
	Params map[string]string `json:"params"`
}

// ProcessIncomingMessage runs the tenant's enabled rules against one inbound
// text message, highest priority first, stopping at the first match.
func (e *Engine) ProcessIncomingMessage(ctx context.Context, tenantID uint, contact *models.Contact, conv *models.Conversation, content string) {
	var rules []models.AutomationRule
	err := e.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Order("priority DESC").
		Find(&rules).Error
	if err != nil {
		e.log.Error("failed to load automation rules", zap.Uint("tenant_id", tenantID), zap.Error(err))
		return
	}

	for _, rule := range rules {
		if !e.evaluateConditions(rule.Conditions, content) {
			continue
		}
		e.log.Info("automation rule matched",
			zap.Uint("tenant_id", tenantID),
			zap.String("rule", rule.Name),
			zap.String("contact", contact.Phone))

		if err := e.executeActions(ctx, tenantID, rule, contact, conv, content); err != nil {
			e.logExecution(tenantID, rule, contact.Phone, "action_failed", false, err.Error())
		} else {
			e.logExecution(tenantID, rule, contact.Phone, "action_executed", true, "")
		}
		break
	}
}

// evaluateConditions requires every condition to match.
func (e *Engine) evaluateConditions(conditionsJSON, content string) bool {
	var conditions []Condition
	if err := json.Unmarshal([]byte(conditionsJSON), &conditions); err != nil {
		e.log.Warn("unparseable rule conditions", zap.Error(err))
		return false
	}
	if len(conditions) == 0 {
		return false
	}

	lower := strings.ToLower(content)
	for _, cond := range conditions {
		if cond.Type != "keyword" {
			return false
		}
		value := strings.ToLower(cond.Value)
		switch cond.Operator {
		case "equals":
			if strings.TrimSpace(lower) != value {
				return false
			}
		case "contains":
			if !strings.Contains(lower, value) {
				return false
			}
		case "regex":
			re, err := regexp.Compile(cond.Value)
			if err != nil || !re.MatchString(content) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (e *Engine) executeActions(ctx context.Context, tenantID uint, rule models.AutomationRule, contact *models.Contact, conv *models.Conversation, content string) error {
	var actions []Action
	if err := json.Unmarshal([]byte(rule.Actions), &actions); err != nil {
		return err
	}

	for _, action := range actions {
		switch action.Type {
		case "send_message":
			_, err := e.pipeline.Send(ctx, pipeline.SendRequest{
				TenantID:       tenantID,
				ContactID:      contact.ID,
				ConversationID: conv.ID,
				Type:           "text",
				Content:        action.Params["message"],
			})
			if err != nil {
				return err
			}
		case "add_tag":
			if err := e.addTag(ctx, contact, action.Params["tag"]); err != nil {
				return err
			}
		default:
			e.log.Warn("unknown automation action", zap.String("type", action.Type))
		}
	}
	return nil
}

func (e *Engine) addTag(ctx context.Context, contact *models.Contact, tag string) error {
	if tag == "" {
		return nil
	}
	var tags []string
	if contact.Tags != "" {
		_ = json.Unmarshal([]byte(contact.Tags), &tags)
	}
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	tags = append(tags, tag)
	encoded, _ := json.Marshal(tags)
	contact.Tags = string(encoded)
	return e.db.WithContext(ctx).Model(contact).Update("tags", string(encoded)).Error
}

func (e *Engine) logExecution(tenantID uint, rule models.AutomationRule, phone, action string, success bool, errMsg string) {
	entry := models.AutomationLog{
		TenantID:     tenantID,
		RuleID:       rule.ID,
		ContactPhone: phone,
		TriggerType:  rule.Type,
		ActionTaken:  action,
		Success:      success,
		ErrorMessage: errMsg,
	}
	if err := e.db.Create(&entry).Error; err != nil {
		e.log.Error("failed to write automation log", zap.Error(err))
	}
}
