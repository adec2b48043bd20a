// Package broadcast runs a campaign's contact list through the outbound
// pipeline in bounded batches. Fan-out happens inside a batch with an
// explicit pause between batches to respect provider rate limits; progress
// counters flush to the campaign row after every batch so a running campaign
// is observable mid-flight.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/pipeline"
	"whatsapp-platform/internal/ws"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// BatchSize bounds concurrent provider calls per campaign.
	BatchSize = 10
	// BatchDelay is the pause between batches.
	BatchDelay = 2 * time.Second
)

const (
	TargetIDs   = "ids"
	TargetTag   = "tag"
	TargetOptIn = "optin"
)

type Orchestrator struct {
	db       *gorm.DB
	pipeline *pipeline.Pipeline
	hub      *ws.Hub
	log      *zap.Logger

	batchSize  int
	batchDelay time.Duration
}

func New(db *gorm.DB, p *pipeline.Pipeline, hub *ws.Hub, log *zap.Logger) *Orchestrator {
	return &Orchestrator{db: db, pipeline: p, hub: hub, log: log, batchSize: BatchSize, batchDelay: BatchDelay}
}

// Run executes one campaign to completion. Individual send failures
// accumulate into the failed counter; the campaign itself always ends
// completed once every contact has been processed.
func (o *Orchestrator) Run(ctx context.Context, tenantID uint, campaignUUID string) error {
	db := o.db.WithContext(ctx)

	var campaign models.Campaign
	err := db.Where("tenant_id = ? AND uuid = ?", tenantID, campaignUUID).First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("campaign not found")
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status == models.CampaignRunning || campaign.Status == models.CampaignCompleted {
		return apperr.Validation("campaign already " + campaign.Status)
	}

	var tpl models.Template
	if err := db.Where("tenant_id = ? AND id = ?", tenantID, campaign.TemplateID).First(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("campaign template not found")
		}
		return fmt.Errorf("load template: %w", err)
	}

	contacts, err := o.resolveRecipients(ctx, &campaign)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := db.Model(&campaign).Updates(map[string]any{
		"status":      models.CampaignRunning,
		"started_at":  now,
		"total_count": len(contacts),
	}).Error; err != nil {
		return fmt.Errorf("mark campaign running: %w", err)
	}
	campaign.Status = models.CampaignRunning
	campaign.TotalCount = len(contacts)

	var varKeys []string
	if campaign.VariableKeys != "" {
		_ = json.Unmarshal([]byte(campaign.VariableKeys), &varKeys)
	}

	sent, failed := 0, 0
	for start := 0; start < len(contacts); start += o.batchSize {
		end := start + o.batchSize
		if end > len(contacts) {
			end = len(contacts)
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, contact := range contacts[start:end] {
			wg.Add(1)
			go func(c models.Contact) {
				defer wg.Done()
				_, err := o.pipeline.Send(ctx, pipeline.SendRequest{
					TenantID:     tenantID,
					ContactID:    c.ID,
					Type:         "template",
					TemplateName: tpl.Name,
					Variables:    variablesFor(&c, varKeys),
				})
				mu.Lock()
				if err != nil {
					failed++
				} else {
					sent++
				}
				mu.Unlock()
			}(contact)
		}
		wg.Wait()

		// Flush progress after every batch, not only at the end.
		campaign.SentCount = sent
		campaign.FailedCount = failed
		if err := db.Model(&campaign).Updates(map[string]any{
			"sent_count":   sent,
			"failed_count": failed,
		}).Error; err != nil {
			o.log.Error("failed to flush campaign counters", zap.String("campaign", campaign.UUID), zap.Error(err))
		}
		if o.hub != nil {
			o.hub.NotifyCampaign(tenantID, &campaign)
		}

		if end < len(contacts) {
			select {
			case <-ctx.Done():
				// The run itself cannot be cancelled mid-campaign; a dying
				// context just drops the inter-batch pause.
			case <-time.After(o.batchDelay):
			}
		}
	}

	done := time.Now().UTC()
	if err := db.Model(&campaign).Updates(map[string]any{
		"status":       models.CampaignCompleted,
		"sent_count":   sent,
		"failed_count": failed,
		"completed_at": done,
	}).Error; err != nil {
		return fmt.Errorf("mark campaign completed: %w", err)
	}
	campaign.Status = models.CampaignCompleted
	campaign.CompletedAt = &done
	if o.hub != nil {
		o.hub.NotifyCampaign(tenantID, &campaign)
	}

	o.log.Info("campaign completed",
		zap.String("campaign", campaign.UUID),
		zap.Int("sent", sent),
		zap.Int("failed", failed))
	return nil
}

// resolveRecipients materializes the campaign's target selection.
func (o *Orchestrator) resolveRecipients(ctx context.Context, campaign *models.Campaign) ([]models.Contact, error) {
	db := o.db.WithContext(ctx)
	var contacts []models.Contact

	switch campaign.TargetType {
	case TargetIDs:
		var ids []uint
		if err := json.Unmarshal([]byte(campaign.TargetIDs), &ids); err != nil {
			return nil, apperr.Validation("campaign target_ids is not a valid id list")
		}
		if err := db.Where("tenant_id = ? AND id IN ?", campaign.TenantID, ids).Find(&contacts).Error; err != nil {
			return nil, fmt.Errorf("load contacts: %w", err)
		}
	case TargetTag:
		if campaign.TargetTag == "" {
			return nil, apperr.Validation("campaign target_tag is empty")
		}
		// Tags are stored as a JSON string array; match the quoted element.
		pattern := "%\"" + campaign.TargetTag + "\"%"
		if err := db.Where("tenant_id = ? AND tags LIKE ?", campaign.TenantID, pattern).Find(&contacts).Error; err != nil {
			return nil, fmt.Errorf("load contacts: %w", err)
		}
	case TargetOptIn:
		if err := db.Where("tenant_id = ? AND opt_in = ?", campaign.TenantID, true).Find(&contacts).Error; err != nil {
			return nil, fmt.Errorf("load contacts: %w", err)
		}
	default:
		return nil, apperr.Validation("unknown campaign target type: " + campaign.TargetType)
	}
	return contacts, nil
}

// variablesFor builds the positional variable values for one contact. The
// reserved key "name" resolves to the display name; everything else looks up
// the contact's attribute map and defaults to empty string.
func variablesFor(contact *models.Contact, keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	attrs := map[string]string{}
	if contact.Attributes != "" {
		_ = json.Unmarshal([]byte(contact.Attributes), &attrs)
	}

	values := make([]string, len(keys))
	for i, key := range keys {
		if key == "name" {
			values[i] = contact.Name
			continue
		}
		values[i] = attrs[key]
	}
	return values
}
