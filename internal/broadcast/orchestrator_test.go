package broadcast

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/credentials"
	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/internal/pipeline"
	"whatsapp-platform/internal/provider"
	"whatsapp-platform/internal/quota"
	"whatsapp-platform/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

// rejectingAdapter fails sends to phones listed in reject and succeeds for
// everyone else, handing out sequential provider ids.
type rejectingAdapter struct {
	mu     sync.Mutex
	reject map[string]bool
	seq    int
}

func (a *rejectingAdapter) Name() string { return "fake" }

func (a *rejectingAdapter) Send(_ context.Context, _ *models.Tenant, _ *models.Credential, to string, _ provider.MessageSpec) provider.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reject[to] {
		return provider.Outcome{Success: false, ErrorReason: "number opted out at provider"}
	}
	a.seq++
	return provider.Outcome{Success: true, ProviderMessageID: fmt.Sprintf("prov-%d", a.seq)}
}

func (a *rejectingAdapter) VerifySignature(*models.Credential, *provider.SecretChain, provider.SignedRequest) error {
	return nil
}

func (a *rejectingAdapter) ParseWebhook([]byte, url.Values) ([]provider.Event, error) {
	return nil, nil
}

func setup(t *testing.T, adapter provider.Adapter) (*Orchestrator, *gorm.DB) {
	t.Helper()
	db := testDB(t)

	registry := provider.NewRegistry("http://unused")
	registry.Register(adapter)

	pipe := pipeline.New(db, registry, credentials.NewStore(db),
		quota.NewGuard(db, nil, 1000), resolver.New(db), zap.NewNop())

	o := New(db, pipe, nil, zap.NewNop())
	o.batchDelay = 0 // no pacing in tests

	require.NoError(t, db.Create(&models.Tenant{ID: 1, Name: "acme", Provider: "fake", Active: true}).Error)
	require.NoError(t, db.Create(&models.Credential{TenantID: 1, Provider: "fake", AccessToken: "tok"}).Error)
	return o, db
}

func TestRunPartialFailure(t *testing.T) {
	adapter := &rejectingAdapter{reject: map[string]bool{
		"919800000003": true,
		"919800000007": true,
	}}
	o, db := setup(t, adapter)

	// 12 opted-in contacts spread over two batches, 2 of them rejected.
	for i := 1; i <= 12; i++ {
		require.NoError(t, db.Create(&models.Contact{
			TenantID:   1,
			Phone:      fmt.Sprintf("9198000000%02d", i),
			Name:       fmt.Sprintf("Contact %d", i),
			OptIn:      true,
			Attributes: "{}",
			Tags:       "[]",
		}).Error)
	}

	tpl := models.Template{TenantID: 1, Name: "promo", Language: "en", Status: "APPROVED", Body: "Hi {{1}}"}
	require.NoError(t, db.Create(&tpl).Error)
	require.NoError(t, db.Create(&models.Campaign{
		UUID:         "camp-1",
		TenantID:     1,
		Name:         "spring promo",
		TemplateID:   tpl.ID,
		TargetType:   TargetOptIn,
		VariableKeys: `["name"]`,
		Status:       models.CampaignDraft,
	}).Error)

	require.NoError(t, o.Run(context.Background(), 1, "camp-1"))

	var campaign models.Campaign
	require.NoError(t, db.Where("uuid = ?", "camp-1").First(&campaign).Error)
	assert.Equal(t, models.CampaignCompleted, campaign.Status, "failures never abort the run")
	assert.Equal(t, 12, campaign.TotalCount)
	assert.Equal(t, 10, campaign.SentCount)
	assert.Equal(t, 2, campaign.FailedCount)
	assert.NotNil(t, campaign.StartedAt)
	assert.NotNil(t, campaign.CompletedAt)

	var sent, failed int64
	db.Model(&models.Message{}).Where("status = ?", models.StatusSent).Count(&sent)
	db.Model(&models.Message{}).Where("status = ?", models.StatusFailed).Count(&failed)
	assert.EqualValues(t, 10, sent)
	assert.EqualValues(t, 2, failed)

	var failedMsg models.Message
	require.NoError(t, db.Where("status = ?", models.StatusFailed).First(&failedMsg).Error)
	assert.Equal(t, "number opted out at provider", failedMsg.FailReason)
}

func TestRunTargetTag(t *testing.T) {
	adapter := &rejectingAdapter{}
	o, db := setup(t, adapter)

	require.NoError(t, db.Create(&models.Contact{
		TenantID: 1, Phone: "919800000001", Name: "Tagged", OptIn: true,
		Attributes: "{}", Tags: `["vip","beta"]`,
	}).Error)
	require.NoError(t, db.Create(&models.Contact{
		TenantID: 1, Phone: "919800000002", Name: "Untagged", OptIn: true,
		Attributes: "{}", Tags: `["beta"]`,
	}).Error)

	tpl := models.Template{TenantID: 1, Name: "vip_offer", Language: "en", Status: "APPROVED", Body: "Hello"}
	require.NoError(t, db.Create(&tpl).Error)
	require.NoError(t, db.Create(&models.Campaign{
		UUID: "camp-2", TenantID: 1, Name: "vip", TemplateID: tpl.ID,
		TargetType: TargetTag, TargetTag: "vip", Status: models.CampaignDraft,
	}).Error)

	require.NoError(t, o.Run(context.Background(), 1, "camp-2"))

	var campaign models.Campaign
	require.NoError(t, db.Where("uuid = ?", "camp-2").First(&campaign).Error)
	assert.Equal(t, 1, campaign.TotalCount, "only the tagged contact is selected")
	assert.Equal(t, 1, campaign.SentCount)
}

func TestRunGuards(t *testing.T) {
	adapter := &rejectingAdapter{}
	o, db := setup(t, adapter)

	tpl := models.Template{TenantID: 1, Name: "promo", Language: "en", Body: "Hello"}
	require.NoError(t, db.Create(&tpl).Error)

	t.Run("unknown campaign", func(t *testing.T) {
		err := o.Run(context.Background(), 1, "no-such-campaign")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("already completed", func(t *testing.T) {
		require.NoError(t, db.Create(&models.Campaign{
			UUID: "camp-done", TenantID: 1, Name: "done", TemplateID: tpl.ID,
			TargetType: TargetOptIn, Status: models.CampaignCompleted,
		}).Error)
		err := o.Run(context.Background(), 1, "camp-done")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("missing template", func(t *testing.T) {
		require.NoError(t, db.Create(&models.Campaign{
			UUID: "camp-notpl", TenantID: 1, Name: "notpl", TemplateID: 999,
			TargetType: TargetOptIn, Status: models.CampaignDraft,
		}).Error)
		err := o.Run(context.Background(), 1, "camp-notpl")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})
}

func TestVariablesFor(t *testing.T) {
	contact := &models.Contact{
		Name:       "Asha",
		Attributes: `{"city":"Mumbai","plan":"pro"}`,
	}

	assert.Nil(t, variablesFor(contact, nil))
	assert.Equal(t, []string{"Asha", "Mumbai"}, variablesFor(contact, []string{"name", "city"}))
	assert.Equal(t, []string{"", "pro"}, variablesFor(contact, []string{"missing", "plan"}))
}
