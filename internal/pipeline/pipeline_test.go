package pipeline

import (
	"context"
	"net/url"
	"testing"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/credentials"
	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/models"
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

// fakeAdapter records what the pipeline hands it and returns a canned outcome.
type fakeAdapter struct {
	outcome  provider.Outcome
	lastTo   string
	lastSpec provider.MessageSpec
	calls    int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Send(_ context.Context, _ *models.Tenant, _ *models.Credential, to string, spec provider.MessageSpec) provider.Outcome {
	f.calls++
	f.lastTo = to
	f.lastSpec = spec
	return f.outcome
}

func (f *fakeAdapter) VerifySignature(*models.Credential, *provider.SecretChain, provider.SignedRequest) error {
	return nil
}

func (f *fakeAdapter) ParseWebhook([]byte, url.Values) ([]provider.Event, error) {
	return nil, nil
}

type fixture struct {
	db      *gorm.DB
	pipe    *Pipeline
	adapter *fakeAdapter
	tenant  models.Tenant
	contact models.Contact
}

func setup(t *testing.T, dayQuota int) *fixture {
	t.Helper()
	db := testDB(t)

	adapter := &fakeAdapter{outcome: provider.Outcome{Success: true, ProviderMessageID: "prov-1"}}
	registry := provider.NewRegistry("http://unused")
	registry.Register(adapter)

	guard := quota.NewGuard(db, nil, 1000)
	pipe := New(db, registry, credentials.NewStore(db), guard, resolver.New(db), zap.NewNop())

	tenant := models.Tenant{ID: 1, Name: "acme", Provider: "fake", Active: true, DayQuota: dayQuota}
	require.NoError(t, db.Create(&tenant).Error)
	require.NoError(t, db.Create(&models.Credential{TenantID: 1, Provider: "fake", AccessToken: "tok"}).Error)

	contact := models.Contact{TenantID: 1, Phone: "5511988887777", Name: "Asha", Attributes: "{}", Tags: "[]"}
	require.NoError(t, db.Create(&contact).Error)

	return &fixture{db: db, pipe: pipe, adapter: adapter, tenant: tenant, contact: contact}
}

func TestSendText(t *testing.T) {
	f := setup(t, 0)

	msg, err := f.pipe.Send(context.Background(), SendRequest{
		TenantID:  1,
		ContactID: f.contact.ID,
		Type:      "text",
		Content:   "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "prov-1", msg.ProviderMessageID)
	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	assert.NotEmpty(t, msg.UUID)
	require.NotNil(t, msg.SentAt)
	assert.Equal(t, "5511988887777", f.adapter.lastTo)
	assert.Equal(t, "hello", f.adapter.lastSpec.Text)

	// A conversation was opened for the contact and stamped with the send.
	assert.NotZero(t, msg.ConversationID)
	var conv models.Conversation
	require.NoError(t, f.db.First(&conv, msg.ConversationID).Error)
	assert.False(t, conv.SessionActive)
	assert.NotNil(t, conv.LastMessageAt)
}

func TestSendTemplate(t *testing.T) {
	f := setup(t, 0)
	require.NoError(t, f.db.Create(&models.Template{
		TenantID:           1,
		Name:               "order_update",
		Language:           "en_US",
		ProviderTemplateID: "HX77",
		Status:             "APPROVED",
		Body:               "Hi {{1}}, your code is {{2}}",
	}).Error)

	msg, err := f.pipe.Send(context.Background(), SendRequest{
		TenantID:     1,
		ContactID:    f.contact.ID,
		Type:         "template",
		TemplateName: "order_update",
		Variables:    []string{"Asha", "4821"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi Asha, your code is 4821", msg.Content, "rendered body is what the conversation view shows")
	assert.Equal(t, "order_update", f.adapter.lastSpec.TemplateName)
	assert.Equal(t, "en_US", f.adapter.lastSpec.TemplateLanguage)
	assert.Equal(t, "HX77", f.adapter.lastSpec.TemplateSID)
	assert.Equal(t, []string{"Asha", "4821"}, f.adapter.lastSpec.Variables)
}

func TestSendProviderFailure(t *testing.T) {
	f := setup(t, 0)
	f.adapter.outcome = provider.Outcome{Success: false, ErrorReason: "template rejected"}

	msg, err := f.pipe.Send(context.Background(), SendRequest{
		TenantID:  1,
		ContactID: f.contact.ID,
		Type:      "text",
		Content:   "hello",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindProvider, apperr.KindOf(err))

	// The failed attempt stays on record with the provider's reason.
	require.NotNil(t, msg)
	assert.Equal(t, models.StatusFailed, msg.Status)
	assert.Equal(t, "template rejected", msg.FailReason)

	var stored models.Message
	require.NoError(t, f.db.Where("uuid = ?", msg.UUID).First(&stored).Error)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "template rejected", stored.FailReason)
}

func TestSendQuotaExceeded(t *testing.T) {
	f := setup(t, 1)
	ctx := context.Background()
	req := SendRequest{TenantID: 1, ContactID: f.contact.ID, Type: "text", Content: "hello"}

	_, err := f.pipe.Send(ctx, req)
	require.NoError(t, err)

	_, err = f.pipe.Send(ctx, req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))

	// Rejected before the adapter and before any row was written.
	assert.Equal(t, 1, f.adapter.calls)
	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestSendValidation(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SendRequest
		kind apperr.Kind
	}{
		{"text without content", SendRequest{TenantID: 1, ContactID: f.contact.ID, Type: "text"}, apperr.KindValidation},
		{"media without url", SendRequest{TenantID: 1, ContactID: f.contact.ID, Type: "image"}, apperr.KindValidation},
		{"unsupported type", SendRequest{TenantID: 1, ContactID: f.contact.ID, Type: "sticker"}, apperr.KindValidation},
		{"unknown template", SendRequest{TenantID: 1, ContactID: f.contact.ID, Type: "template", TemplateName: "missing"}, apperr.KindNotFound},
		{"unknown contact", SendRequest{TenantID: 1, ContactID: 999, Type: "text", Content: "x"}, apperr.KindNotFound},
		{"unknown tenant", SendRequest{TenantID: 9, ContactID: f.contact.ID, Type: "text", Content: "x"}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipe.Send(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestSendInactiveTenant(t *testing.T) {
	f := setup(t, 0)
	require.NoError(t, f.db.Model(&models.Tenant{}).Where("id = ?", 1).Update("active", false).Error)

	_, err := f.pipe.Send(context.Background(), SendRequest{
		TenantID: 1, ContactID: f.contact.ID, Type: "text", Content: "x",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestSendMissingCredential(t *testing.T) {
	f := setup(t, 0)
	require.NoError(t, f.db.Where("tenant_id = ?", 1).Delete(&models.Credential{}).Error)

	_, err := f.pipe.Send(context.Background(), SendRequest{
		TenantID: 1, ContactID: f.contact.ID, Type: "text", Content: "x",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestSendExpiredCredential(t *testing.T) {
	f := setup(t, 0)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.db.Model(&models.Credential{}).
		Where("tenant_id = ? AND provider = ?", 1, "fake").
		Update("expires_at", &past).Error)

	_, err := f.pipe.Send(context.Background(), SendRequest{
		TenantID: 1, ContactID: f.contact.ID, Type: "text", Content: "x",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "expired")
	assert.Zero(t, f.adapter.calls)
}
