package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"whatsapp-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGupshupAdapterSend(t *testing.T) {
	tenant := &models.Tenant{PhoneNumberID: "919800000001", BusinessName: "Acme Store"}
	cred := &models.Credential{APIKey: "gs-key"}

	t.Run("text message", func(t *testing.T) {
		var got url.Values
		var path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			assert.Equal(t, "gs-key", r.Header.Get("apikey"))
			require.NoError(t, r.ParseForm())
			got = r.PostForm
			w.Write([]byte(`{"status":"submitted","messageId":"gs-msg-1"}`))
		}))
		defer srv.Close()

		adapter := NewGupshupAdapter(srv.Client())
		adapter.SetBaseURL(srv.URL)

		outcome := adapter.Send(context.Background(), tenant, cred, "919812345678", MessageSpec{Type: "text", Text: "hi"})
		require.True(t, outcome.Success)
		assert.Equal(t, "gs-msg-1", outcome.ProviderMessageID)
		assert.Equal(t, "/wa/api/v1/msg", path)
		assert.Equal(t, "whatsapp", got.Get("channel"))
		assert.Equal(t, "919800000001", got.Get("source"))
		assert.Equal(t, "919812345678", got.Get("destination"))
		assert.Equal(t, "Acme Store", got.Get("src.name"))
		assert.JSONEq(t, `{"type":"text","text":"hi"}`, got.Get("message"))
	})

	t.Run("template routed to template endpoint", func(t *testing.T) {
		var got url.Values
		var path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			require.NoError(t, r.ParseForm())
			got = r.PostForm
			w.Write([]byte(`{"status":"submitted","messageId":"gs-msg-2"}`))
		}))
		defer srv.Close()

		adapter := NewGupshupAdapter(srv.Client())
		adapter.SetBaseURL(srv.URL)

		outcome := adapter.Send(context.Background(), tenant, cred, "919812345678", MessageSpec{
			Type:       "template",
			TemplateID: "tpl-77",
			Variables:  []string{"Asha", "4821"},
		})
		require.True(t, outcome.Success)
		assert.Equal(t, "/wa/api/v1/template/msg", path)
		assert.JSONEq(t, `{"id":"tpl-77","params":["Asha","4821"]}`, got.Get("template"))
	})

	t.Run("error status in a 200 body still fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"error","message":"Invalid destination"}`))
		}))
		defer srv.Close()

		adapter := NewGupshupAdapter(srv.Client())
		adapter.SetBaseURL(srv.URL)

		outcome := adapter.Send(context.Background(), tenant, cred, "bad", MessageSpec{Type: "text", Text: "hi"})
		assert.False(t, outcome.Success)
		assert.Equal(t, "Invalid destination", outcome.ErrorReason)
	})
}

func TestGupshupParseWebhook(t *testing.T) {
	adapter := NewGupshupAdapter(http.DefaultClient)

	t.Run("inbound message", func(t *testing.T) {
		body := `{
			"type": "message",
			"timestamp": 1717000000000,
			"payload": {
				"id": "gs-in-1",
				"type": "text",
				"sender": {"phone": "919812345678", "name": "Asha"},
				"payload": {"text": "hello"}
			}
		}`
		events, err := adapter.ParseWebhook([]byte(body), nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		inbound := events[0].Inbound
		require.NotNil(t, inbound)
		assert.Equal(t, "919812345678", inbound.From)
		assert.Equal(t, "Asha", inbound.ProfileName)
		assert.Equal(t, "hello", inbound.Text)
		assert.Equal(t, "gs-in-1", inbound.ProviderMessageID)
		assert.Equal(t, time.UnixMilli(1717000000000).UTC(), inbound.Timestamp)
	})

	t.Run("delivery event prefers gsId", func(t *testing.T) {
		body := `{
			"type": "message-event",
			"timestamp": 1717000500000,
			"payload": {"id": "evt-1", "gsId": "gs-out-1", "type": "delivered"}
		}`
		events, err := adapter.ParseWebhook([]byte(body), nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		status := events[0].Status
		require.NotNil(t, status)
		assert.Equal(t, "gs-out-1", status.ProviderMessageID)
		assert.Equal(t, models.StatusDelivered, status.Status)
	})

	t.Run("failure event carries reason", func(t *testing.T) {
		body := `{
			"type": "message-event",
			"payload": {"gsId": "gs-out-2", "type": "failed", "payload": {"reason": "Blocked by user"}}
		}`
		events, err := adapter.ParseWebhook([]byte(body), nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.StatusFailed, events[0].Status.Status)
		assert.Equal(t, "Blocked by user", events[0].Status.ErrorDetail)
	})

	t.Run("unrelated event types dropped", func(t *testing.T) {
		events, err := adapter.ParseWebhook([]byte(`{"type":"billing-event","payload":{}}`), nil)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
