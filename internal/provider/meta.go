package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"whatsapp-platform/internal/models"
)

// MetaAdapter talks to the WhatsApp Business Cloud API directly with the
// tenant's own access token.
type MetaAdapter struct {
	hc      *http.Client
	baseURL string
}

func NewMetaAdapter(hc *http.Client, baseURL string) *MetaAdapter {
	return &MetaAdapter{hc: hc, baseURL: baseURL}
}

func (a *MetaAdapter) Name() string { return Meta }

func (a *MetaAdapter) Send(ctx context.Context, tenant *models.Tenant, cred *models.Credential, to string, spec MessageSpec) Outcome {
	if cred.AccessToken == "" {
		return failure("missing access token")
	}
	if tenant.PhoneNumberID == "" {
		return failure("tenant has no phone number id")
	}

	endpoint := fmt.Sprintf("%s/%s/messages", a.baseURL, tenant.PhoneNumberID)
	headers := map[string]string{"Authorization": "Bearer " + cred.AccessToken}
	return postCloudSend(ctx, a.hc, endpoint, headers, buildCloudPayload(to, spec))
}

func (a *MetaAdapter) VerifySignature(cred *models.Credential, chain *SecretChain, req SignedRequest) error {
	secret := ""
	if cred != nil {
		secret = cred.AppSecret
	}
	if secret == "" && chain != nil {
		secret = chain.MetaAppSecret
	}
	return verifySHA256Hex(secret, req.Body, req.Header.Get("X-Hub-Signature-256"))
}

func (a *MetaAdapter) ParseWebhook(body []byte, _ url.Values) ([]Event, error) {
	return parseCloudWebhook(body)
}

func (a *MetaAdapter) TenantHint(body []byte, _ url.Values) string {
	return cloudTenantHint(body)
}

// RemoteTemplate is one entry from the provider's template registry.
type RemoteTemplate struct {
	ID         string
	Name       string
	Language   string
	Category   string
	Status     string
	Body       string
	Components json.RawMessage
}

// FetchTemplates reads the tenant's template registry so approval statuses
// can be mirrored locally.
func (a *MetaAdapter) FetchTemplates(ctx context.Context, tenant *models.Tenant, cred *models.Credential) ([]RemoteTemplate, error) {
	if tenant.WabaID == "" {
		return nil, fmt.Errorf("tenant has no WABA id")
	}

	endpoint := fmt.Sprintf("%s/%s/message_templates", a.baseURL, tenant.WabaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("template fetch failed: %s", resp.Status)
	}

	var parsed struct {
		Data []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			Language   string `json:"language"`
			Category   string `json:"category"`
			Status     string `json:"status"`
			Components []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"components"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode template registry: %w", err)
	}

	templates := make([]RemoteTemplate, 0, len(parsed.Data))
	for _, t := range parsed.Data {
		rt := RemoteTemplate{
			ID:       t.ID,
			Name:     t.Name,
			Language: t.Language,
			Category: t.Category,
			Status:   t.Status,
		}
		for _, comp := range t.Components {
			if comp.Type == "BODY" {
				rt.Body = comp.Text
			}
		}
		if raw, err := json.Marshal(t.Components); err == nil {
			rt.Components = raw
		}
		templates = append(templates, rt)
	}
	return templates, nil
}

// TestCredential makes a lightweight authenticated call to validate a stored
// token during the integration connect flow.
func (a *MetaAdapter) TestCredential(ctx context.Context, tenant *models.Tenant, cred *models.Credential) error {
	if tenant.PhoneNumberID == "" {
		return fmt.Errorf("tenant has no phone number id")
	}
	endpoint := fmt.Sprintf("%s/%s", a.baseURL, tenant.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

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
