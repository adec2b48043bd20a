package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"whatsapp-platform/internal/models"
	"whatsapp-platform/pkg/phone"
)

const gupshupBaseURL = "https://api.gupshup.io"

// GupshupAdapter sends through the Gupshup WhatsApp API. Messages go out as
// form posts whose "message" field is itself a JSON document; templates are
// addressed by template id with a positional params array.
type GupshupAdapter struct {
	hc      *http.Client
	baseURL string
}

func NewGupshupAdapter(hc *http.Client) *GupshupAdapter {
	return &GupshupAdapter{hc: hc, baseURL: gupshupBaseURL}
}

func (a *GupshupAdapter) Name() string { return Gupshup }

func (a *GupshupAdapter) Send(ctx context.Context, tenant *models.Tenant, cred *models.Credential, to string, spec MessageSpec) Outcome {
	if cred.APIKey == "" {
		return failure("missing Gupshup API key")
	}

	form := url.Values{}
	form.Set("channel", "whatsapp")
	form.Set("source", phone.Normalize(tenant.PhoneNumberID))
	form.Set("destination", phone.Normalize(to))
	if tenant.BusinessName != "" {
		form.Set("src.name", tenant.BusinessName)
	}

	endpoint := a.baseURL + "/wa/api/v1/msg"

	switch spec.Type {
	case "text":
		msg, _ := json.Marshal(map[string]string{"type": "text", "text": spec.Text})
		form.Set("message", string(msg))
	case "template":
		if spec.TemplateID == "" {
			return failure("template has no Gupshup template id")
		}
		endpoint = a.baseURL + "/wa/api/v1/template/msg"
		params := spec.Variables
		if params == nil {
			params = []string{}
		}
		tpl, _ := json.Marshal(map[string]any{"id": spec.TemplateID, "params": params})
		form.Set("template", string(tpl))
	case "audio":
		msg, _ := json.Marshal(map[string]string{"type": "audio", "url": spec.MediaURL})
		form.Set("message", string(msg))
	default:
		// image, video, document share the originalUrl+caption shape
		msg, _ := json.Marshal(map[string]string{
			"type":        spec.Type,
			"originalUrl": spec.MediaURL,
			"previewUrl":  spec.MediaURL,
			"caption":     spec.Caption,
		})
		form.Set("message", string(msg))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", cred.APIKey)

	resp, err := a.hc.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var parsed struct {
		Status    string `json:"status"`
		MessageID string `json:"messageId"`
		Message   string `json:"message"` // error detail
	}
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 400 || parsed.Status == "error" {
		reason := fmt.Sprintf("API error: %s", resp.Status)
		if parsed.Message != "" {
			reason = parsed.Message
		}
		return failure(reason)
	}
	return Outcome{Success: true, ProviderMessageID: parsed.MessageID}
}

func (a *GupshupAdapter) VerifySignature(cred *models.Credential, chain *SecretChain, req SignedRequest) error {
	secret := ""
	if cred != nil {
		secret = cred.AppSecret
	}
	if secret == "" && chain != nil {
		secret = chain.GenericSecret
	}
	return verifySHA256Hex(secret, req.Body, req.Header.Get("X-Webhook-Signature"))
}

type gupshupWebhookPayload struct {
	Type      string `json:"type"` // message, message-event
	Timestamp int64  `json:"timestamp"`
	Payload   struct {
		ID          string `json:"id"`
		GsID        string `json:"gsId"`
		Type        string `json:"type"`
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Sender      struct {
			Phone string `json:"phone"`
			Name  string `json:"name"`
		} `json:"sender"`
		Payload struct {
			Text    string `json:"text"`
			Caption string `json:"caption"`
			URL     string `json:"url"`
			Reason  string `json:"reason"`
			Title   string `json:"title"`
		} `json:"payload"`
	} `json:"payload"`
}

func mapGupshupStatus(s string) string {
	switch s {
	case "sent", "submitted":
		return models.StatusSent
	case "delivered":
		return models.StatusDelivered
	case "read":
		return models.StatusRead
	case "failed":
		return models.StatusFailed
	}
	return ""
}

func (a *GupshupAdapter) ParseWebhook(body []byte, _ url.Values) ([]Event, error) {
	var payload gupshupWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	ts := time.Now().UTC()
	if payload.Timestamp > 0 {
		ts = time.UnixMilli(payload.Timestamp).UTC()
	}

	switch payload.Type {
	case "message-event":
		status := mapGupshupStatus(payload.Payload.Type)
		if status == "" {
			return nil, nil
		}
		id := payload.Payload.GsID
		if id == "" {
			id = payload.Payload.ID
		}
		return []Event{{Status: &StatusEvent{
			ProviderMessageID: id,
			Status:            status,
			Timestamp:         ts,
			ErrorDetail:       payload.Payload.Payload.Reason,
		}}}, nil

	case "message":
		text := payload.Payload.Payload.Text
		mediaRef := payload.Payload.Payload.URL
		switch payload.Payload.Type {
		case "text":
		case "button_reply", "list_reply":
			if payload.Payload.Payload.Title != "" {
				text = payload.Payload.Payload.Title
			}
		case "audio":
			text = "[audio]"
		default:
			if payload.Payload.Payload.Caption != "" {
				text = payload.Payload.Payload.Caption
			} else if text == "" {
				text = "[" + payload.Payload.Type + "]"
			}
		}
		return []Event{{Inbound: &InboundEvent{
			From:              phone.Normalize(payload.Payload.Sender.Phone),
			ProfileName:       payload.Payload.Sender.Name,
			Type:              payload.Payload.Type,
			Text:              text,
			ProviderMessageID: payload.Payload.ID,
			Timestamp:         ts,
			MediaRef:          mediaRef,
		}}}, nil
	}
	return nil, nil
}

// TenantHint returns the business number from inbound messages. Delivery
// events carry only the customer number, so they rely on the tenant id in
// the registered webhook URL.
func (a *GupshupAdapter) TenantHint(body []byte, _ url.Values) string {
	var payload gupshupWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Type == "message" {
		return phone.Normalize(payload.Payload.Destination)
	}
	return ""
}

// SetBaseURL overrides the endpoint, used by tests.
func (a *GupshupAdapter) SetBaseURL(u string) { a.baseURL = u }
