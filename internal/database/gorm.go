package database

import (
	"fmt"

	"whatsapp-platform/internal/config"
	"whatsapp-platform/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the configured database and runs migrations. Postgres is the
// deployment target; sqlite keeps local development and tests self-contained.
func Init(cfg *config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch cfg.DBDriver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		db, err = gorm.Open(sqlite.Open(cfg.DBPath), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate runs auto-migration for all entities.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Tenant{},
		&models.Credential{},
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.Template{},
		&models.Campaign{},
		&models.QuotaCounter{},
		&models.AutomationRule{},
		&models.AutomationLog{},
		&models.SystemSetting{},
	)
	if err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	return nil
}

// SyncSettings reconciles process-level fallback secrets between env config
// and the system_settings table. Values already in the DB win over env so a
// rotated secret survives restarts with stale .env files.
func SyncSettings(db *gorm.DB, cfg *config.Config) {
	settings := []struct {
		Key   string
		Value *string
	}{
		{"META_APP_SECRET", &cfg.MetaAppSecret},
		{"META_VERIFY_TOKEN", &cfg.MetaVerifyToken},
		{"TWILIO_AUTH_TOKEN", &cfg.TwilioAuthToken},
		{"WEBHOOK_SECRET", &cfg.WebhookSecret},
	}

	for _, s := range settings {
		var setting models.SystemSetting
		if err := db.Where("key = ?", s.Key).First(&setting).Error; err == nil {
			if setting.Value != "" {
				*s.Value = setting.Value
			}
		} else if *s.Value != "" {
			db.Create(&models.SystemSetting{Key: s.Key, Value: *s.Value})
		}
	}
}
