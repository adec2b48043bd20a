package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/models"
	"whatsapp-platform/pkg/phone"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioAdapter sends through Twilio's Messaging API. Templates are addressed
// by opaque ContentSid with a named-index variables object, not by name and
// language, and webhooks arrive form-encoded rather than as JSON.
type TwilioAdapter struct {
	hc      *http.Client
	baseURL string
}

func NewTwilioAdapter(hc *http.Client) *TwilioAdapter {
	return &TwilioAdapter{hc: hc, baseURL: twilioBaseURL}
}

func (a *TwilioAdapter) Name() string { return Twilio }

func (a *TwilioAdapter) Send(ctx context.Context, tenant *models.Tenant, cred *models.Credential, to string, spec MessageSpec) Outcome {
	if cred.AccountSID == "" || cred.AccessToken == "" {
		return failure("missing Twilio account SID or auth token")
	}

	form := url.Values{}
	form.Set("From", "whatsapp:+"+phone.Normalize(tenant.PhoneNumberID))
	form.Set("To", "whatsapp:+"+phone.Normalize(to))

	switch spec.Type {
	case "text":
		form.Set("Body", spec.Text)
	case "template":
		if spec.TemplateSID == "" {
			return failure("template has no Twilio ContentSid")
		}
		form.Set("ContentSid", spec.TemplateSID)
		if len(spec.Variables) > 0 {
			vars := make(map[string]string, len(spec.Variables))
			for i, v := range spec.Variables {
				vars[strconv.Itoa(i+1)] = v
			}
			encoded, _ := json.Marshal(vars)
			form.Set("ContentVariables", string(encoded))
		}
	default:
		// image, video, audio, document
		form.Set("MediaUrl", spec.MediaURL)
		if spec.Caption != "" {
			form.Set("Body", spec.Caption)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", a.baseURL, cred.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err))
	}
	req.SetBasicAuth(cred.AccountSID, cred.AccessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.hc.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var parsed struct {
		Sid     string `json:"sid"`
		Message string `json:"message"` // error payload
	}
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 400 {
		reason := fmt.Sprintf("API error: %s", resp.Status)
		if parsed.Message != "" {
			reason = parsed.Message
		}
		return failure(reason)
	}
	if parsed.Sid == "" {
		return failure("provider returned no message sid")
	}
	return Outcome{Success: true, ProviderMessageID: parsed.Sid}
}

func (a *TwilioAdapter) VerifySignature(cred *models.Credential, chain *SecretChain, req SignedRequest) error {
	token := ""
	if cred != nil {
		token = cred.AccessToken
	}
	if token == "" && chain != nil {
		token = chain.TwilioAuthToken
	}
	if token == "" {
		return apperr.Signature("no webhook secret configured")
	}
	return verifyTwilio(token, req.URL, req.Form, req.Header.Get("X-Twilio-Signature"))
}

func mapTwilioStatus(s string) string {
	switch s {
	case "sent":
		return models.StatusSent
	case "delivered":
		return models.StatusDelivered
	case "read":
		return models.StatusRead
	case "failed", "undelivered":
		return models.StatusFailed
	}
	return ""
}

func (a *TwilioAdapter) ParseWebhook(_ []byte, form url.Values) ([]Event, error) {
	if form == nil {
		return nil, fmt.Errorf("twilio webhook carries no form body")
	}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))

	// Status callbacks carry MessageStatus (or the legacy SmsStatus) and no
	// message content. Inbound messages also arrive with SmsStatus=received,
	// so the presence of a body or media decides the shape, not the status
	// field alone.
	if status := firstOf(form, "MessageStatus", "SmsStatus"); status != "" && form.Get("Body") == "" && numMedia == 0 {
		mapped := mapTwilioStatus(status)
		if mapped == "" {
			return nil, nil
		}
		return []Event{{Status: &StatusEvent{
			ProviderMessageID: firstOf(form, "MessageSid", "SmsSid"),
			Status:            mapped,
			Timestamp:         time.Now().UTC(),
			ErrorDetail:       form.Get("ErrorMessage"),
		}}}, nil
	}

	from := form.Get("From")
	if from == "" {
		return nil, nil
	}

	text := form.Get("Body")
	msgType := "text"
	mediaRef := ""
	if numMedia > 0 {
		mediaRef = form.Get("MediaUrl0")
		msgType = mediaType(form.Get("MediaContentType0"))
		if text == "" {
			text = "[" + msgType + "]"
		}
	}

	return []Event{{Inbound: &InboundEvent{
		From:              phone.Normalize(from),
		ProfileName:       form.Get("ProfileName"),
		Type:              msgType,
		Text:              text,
		ProviderMessageID: firstOf(form, "MessageSid", "SmsSid"),
		Timestamp:         time.Now().UTC(),
		MediaRef:          mediaRef,
	}}}, nil
}

// TenantHint returns the business number: status callbacks put it in From,
// inbound messages in To.
func (a *TwilioAdapter) TenantHint(_ []byte, form url.Values) string {
	if form == nil {
		return ""
	}
	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	if firstOf(form, "MessageStatus", "SmsStatus") != "" && form.Get("Body") == "" && numMedia == 0 {
		return phone.Normalize(form.Get("From"))
	}
	return phone.Normalize(form.Get("To"))
}

func firstOf(form url.Values, keys ...string) string {
	for _, k := range keys {
		if v := form.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func mediaType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

// TestCredential validates the account SID and auth token against the
// account endpoint.
func (a *TwilioAdapter) TestCredential(ctx context.Context, _ *models.Tenant, cred *models.Credential) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", a.baseURL, cred.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(cred.AccountSID, cred.AccessToken)

	resp, err := a.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("credential test failed: %s", resp.Status)
	}
	return nil
}

// SetBaseURL overrides the endpoint, used by tests.
func (a *TwilioAdapter) SetBaseURL(u string) { a.baseURL = u }
