package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"whatsapp-platform/internal/models"
	"whatsapp-platform/pkg/phone"
)

const aiSensyBaseURL = "https://backend.aisensy.com/campaign/t1/api/v2"

// AiSensyAdapter sends through AiSensy's campaign API. AiSensy only accepts
// approved templates (addressed by campaign name) with a flat params array;
// free-form text outside a template is rejected at this boundary. Webhooks
// forward the Cloud API payload shape unchanged.
type AiSensyAdapter struct {
	hc      *http.Client
	baseURL string
}

func NewAiSensyAdapter(hc *http.Client) *AiSensyAdapter {
	return &AiSensyAdapter{hc: hc, baseURL: aiSensyBaseURL}
}

func (a *AiSensyAdapter) Name() string { return AiSensy }

type aiSensyRequest struct {
	APIKey         string        `json:"apiKey"`
	CampaignName   string        `json:"campaignName"`
	Destination    string        `json:"destination"`
	UserName       string        `json:"userName"`
	TemplateParams []string      `json:"templateParams"`
	Media          *aiSensyMedia `json:"media,omitempty"`
}

type aiSensyMedia struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

func (a *AiSensyAdapter) Send(ctx context.Context, tenant *models.Tenant, cred *models.Credential, to string, spec MessageSpec) Outcome {
	if cred.APIKey == "" {
		return failure("missing AiSensy API key")
	}
	if spec.Type != "template" {
		return failure("aisensy supports template messages only")
	}
	if spec.TemplateName == "" {
		return failure("template name required")
	}

	params := spec.Variables
	if params == nil {
		params = []string{}
	}
	payload := aiSensyRequest{
		APIKey:         cred.APIKey,
		CampaignName:   spec.TemplateName,
		Destination:    phone.Normalize(to),
		UserName:       tenant.BusinessName,
		TemplateParams: params,
	}
	if spec.MediaURL != "" {
		payload.Media = &aiSensyMedia{URL: spec.MediaURL, Filename: spec.Filename}
	}

	data, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(data))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var parsed struct {
		Success      any    `json:"success"`
		SubmittedID  string `json:"submitted_message_id"`
		ErrorMessage string `json:"errorMessage"`
	}
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 400 || parsed.ErrorMessage != "" {
		reason := fmt.Sprintf("API error: %s", resp.Status)
		if parsed.ErrorMessage != "" {
			reason = parsed.ErrorMessage
		}
		return failure(reason)
	}
	return Outcome{Success: true, ProviderMessageID: parsed.SubmittedID}
}

func (a *AiSensyAdapter) VerifySignature(cred *models.Credential, chain *SecretChain, req SignedRequest) error {
	secret := ""
	if cred != nil {
		secret = cred.AppSecret
	}
	if secret == "" && chain != nil {
		secret = chain.GenericSecret
	}
	return verifySHA256Hex(secret, req.Body, req.Header.Get("X-Webhook-Signature"))
}

func (a *AiSensyAdapter) ParseWebhook(body []byte, _ url.Values) ([]Event, error) {
	return parseCloudWebhook(body)
}

func (a *AiSensyAdapter) TenantHint(body []byte, _ url.Values) string {
	return cloudTenantHint(body)
}

// SetBaseURL overrides the endpoint, used by tests.
func (a *AiSensyAdapter) SetBaseURL(u string) { a.baseURL = u }
