package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whatsapp-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCloudPayload(t *testing.T) {
	t.Run("template with positional variables", func(t *testing.T) {
		msg := buildCloudPayload("+55 11 98888-7777", MessageSpec{
			Type:             "template",
			TemplateName:     "order_update",
			TemplateLanguage: "en_US",
			Variables:        []string{"Asha", "4821"},
		})

		assert.Equal(t, "whatsapp", msg.MessagingProduct)
		assert.Equal(t, "5511988887777", msg.To)
		require.NotNil(t, msg.Template)
		assert.Equal(t, "order_update", msg.Template.Name)
		assert.Equal(t, "en_US", msg.Template.Language.Code)
		require.Len(t, msg.Template.Components, 1)
		comp := msg.Template.Components[0]
		assert.Equal(t, "body", comp.Type)
		require.Len(t, comp.Parameters, 2)
		assert.Equal(t, "Asha", comp.Parameters[0].Text)
		assert.Equal(t, "4821", comp.Parameters[1].Text)
	})

	t.Run("media sent as hosted link", func(t *testing.T) {
		msg := buildCloudPayload("14155552671", MessageSpec{
			Type:     "image",
			MediaURL: "https://cdn.example.com/promo.jpg",
			Caption:  "New arrivals",
		})
		require.NotNil(t, msg.Image)
		assert.Equal(t, "https://cdn.example.com/promo.jpg", msg.Image.Link)
		assert.Equal(t, "New arrivals", msg.Image.Caption)
	})
}

const metaInboundPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "100001",
		"changes": [{
			"field": "messages",
			"value": {
				"contacts": [{"profile": {"name": "Asha"}, "wa_id": "919812345678"}],
				"messages": [
					{"from": "919812345678", "id": "wamid.text1", "timestamp": "1717000000", "type": "text", "text": {"body": "hello there"}},
					{"from": "919812345678", "id": "wamid.img1", "timestamp": "1717000060", "type": "image", "image": {"id": "media-9", "mime_type": "image/jpeg"}}
				]
			}
		}]
	}]
}`

func TestParseCloudWebhookInbound(t *testing.T) {
	events, err := parseCloudWebhook([]byte(metaInboundPayload))
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0].Inbound
	require.NotNil(t, first)
	assert.Equal(t, "919812345678", first.From)
	assert.Equal(t, "Asha", first.ProfileName)
	assert.Equal(t, "text", first.Type)
	assert.Equal(t, "hello there", first.Text)
	assert.Equal(t, "wamid.text1", first.ProviderMessageID)
	assert.Equal(t, time.Unix(1717000000, 0).UTC(), first.Timestamp)

	second := events[1].Inbound
	require.NotNil(t, second)
	assert.Equal(t, "[image]", second.Text, "caption-less media gets a placeholder")
	assert.Equal(t, "media-9", second.MediaRef)
}

const metaStatusPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"changes": [{
			"field": "messages",
			"value": {
				"statuses": [
					{"id": "wamid.out1", "status": "delivered", "timestamp": "1717000500"},
					{"id": "wamid.out2", "status": "failed", "timestamp": "1717000501", "errors": [{"title": "rejected", "message": "Template param mismatch"}]}
				]
			}
		}]
	}]
}`

func TestParseCloudWebhookStatuses(t *testing.T) {
	events, err := parseCloudWebhook([]byte(metaStatusPayload))
	require.NoError(t, err)
	require.Len(t, events, 2)

	delivered := events[0].Status
	require.NotNil(t, delivered)
	assert.Equal(t, models.StatusDelivered, delivered.Status)
	assert.Equal(t, "wamid.out1", delivered.ProviderMessageID)

	failed := events[1].Status
	require.NotNil(t, failed)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "Template param mismatch", failed.ErrorDetail)
}

func TestParseCloudWebhookInteractiveReply(t *testing.T) {
	payload := `{
		"entry": [{"changes": [{"value": {"messages": [
			{"from": "14155552671", "id": "wamid.btn", "timestamp": "1717000900", "type": "interactive",
			 "interactive": {"type": "button_reply", "button_reply": {"id": "opt-1", "title": "Confirm order"}}}
		]}}]}]
	}`
	events, err := parseCloudWebhook([]byte(payload))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Confirm order", events[0].Inbound.Text)
}

func TestCloudTenantHint(t *testing.T) {
	body := `{"entry": [{"changes": [{"value": {"metadata": {"phone_number_id": "555001"}}}]}]}`
	assert.Equal(t, "555001", cloudTenantHint([]byte(body)))
	assert.Equal(t, "", cloudTenantHint([]byte(`{"entry": []}`)))
	assert.Equal(t, "", cloudTenantHint([]byte(`not json`)))
}

func TestMetaAdapterSend(t *testing.T) {
	tenant := &models.Tenant{PhoneNumberID: "12345"}
	cred := &models.Credential{AccessToken: "token-abc"}

	t.Run("success returns provider message id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/12345/messages", r.URL.Path)
			assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))

			var msg cloudMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
			assert.Equal(t, "text", msg.Type)

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"messages":[{"id":"wamid.new1"}]}`))
		}))
		defer srv.Close()

		adapter := NewMetaAdapter(srv.Client(), srv.URL)
		outcome := adapter.Send(context.Background(), tenant, cred, "5511988887777", MessageSpec{Type: "text", Text: "hi"})
		assert.True(t, outcome.Success)
		assert.Equal(t, "wamid.new1", outcome.ProviderMessageID)
	})

	t.Run("provider error surfaces reason text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"(#131030) Recipient phone number not in allowed list","code":131030}}`))
		}))
		defer srv.Close()

		adapter := NewMetaAdapter(srv.Client(), srv.URL)
		outcome := adapter.Send(context.Background(), tenant, cred, "5511988887777", MessageSpec{Type: "text", Text: "hi"})
		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.ErrorReason, "Recipient phone number not in allowed list")
	})

	t.Run("network failure becomes failure outcome", func(t *testing.T) {
		adapter := NewMetaAdapter(&http.Client{Timeout: 50 * time.Millisecond}, "http://127.0.0.1:1")
		outcome := adapter.Send(context.Background(), tenant, cred, "5511988887777", MessageSpec{Type: "text", Text: "hi"})
		assert.False(t, outcome.Success)
		assert.NotEmpty(t, outcome.ErrorReason)
	})
}
