// Package credentials manages per-tenant provider secrets. Credentials live
// in their own table so tenant rows can travel to clients without secrets,
// and every read goes through this store rather than ad hoc queries.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the credential for (tenant, provider), or nil when none is stored.
func (s *Store) Get(ctx context.Context, tenantID uint, provider string) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return &cred, nil
}

// Active returns the credential for the tenant's configured provider.
// A tenant without a configured provider or stored credential is a
// configuration error, failed fast and never retried.
func (s *Store) Active(ctx context.Context, tenant *models.Tenant) (*models.Credential, error) {
	if tenant.Provider == "" {
		return nil, apperr.Configuration("tenant has no messaging provider configured")
	}
	return s.ActiveFor(ctx, tenant.ID, tenant.Provider)
}

// ActiveFor returns a usable credential for an explicit provider choice, for
// callers that allow a per-send provider override.
func (s *Store) ActiveFor(ctx context.Context, tenantID uint, provider string) (*models.Credential, error) {
	cred, err := s.Get(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apperr.Configuration("no credential stored for provider " + provider)
	}
	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(time.Now()) {
		return nil, apperr.Configuration("credential for provider " + provider + " has expired")
	}
	return cred, nil
}

// Save upserts the credential for (tenant, provider). One active credential
// set per pair; a connect flow rotation overwrites the previous secrets.
func (s *Store) Save(ctx context.Context, cred *models.Credential) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "api_key", "app_secret", "verify_token", "account_sid", "expires_at", "updated_at",
		}),
	}).Create(cred).Error
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Delete clears the stored credential on disconnect.
func (s *Store) Delete(ctx context.Context, tenantID uint, provider string) error {
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		Delete(&models.Credential{}).Error
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
