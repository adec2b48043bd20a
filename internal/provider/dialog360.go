package provider

import (
	"context"
	"net/http"
	"net/url"

	"whatsapp-platform/internal/models"
)

const dialog360BaseURL = "https://waba-v2.360dialog.io"

// Dialog360Adapter sends through 360dialog, which proxies the Cloud API wire
// format but authenticates with a static API key header.
type Dialog360Adapter struct {
	hc      *http.Client
	baseURL string
}

func NewDialog360Adapter(hc *http.Client) *Dialog360Adapter {
	return &Dialog360Adapter{hc: hc, baseURL: dialog360BaseURL}
}

func (a *Dialog360Adapter) Name() string { return Dialog360 }

func (a *Dialog360Adapter) Send(ctx context.Context, _ *models.Tenant, cred *models.Credential, to string, spec MessageSpec) Outcome {
	if cred.APIKey == "" {
		return failure("missing 360dialog API key")
	}
	headers := map[string]string{"D360-API-KEY": cred.APIKey}
	return postCloudSend(ctx, a.hc, a.baseURL+"/messages", headers, buildCloudPayload(to, spec))
}

func (a *Dialog360Adapter) VerifySignature(cred *models.Credential, chain *SecretChain, req SignedRequest) error {
	secret := ""
	if cred != nil {
		secret = cred.AppSecret
	}
	if secret == "" && chain != nil {
		secret = chain.GenericSecret
	}
	return verifySHA256Hex(secret, req.Body, req.Header.Get("X-Hub-Signature-256"))
}

func (a *Dialog360Adapter) ParseWebhook(body []byte, _ url.Values) ([]Event, error) {
	return parseCloudWebhook(body)
}

func (a *Dialog360Adapter) TenantHint(body []byte, _ url.Values) string {
	return cloudTenantHint(body)
}

// SetBaseURL overrides the endpoint, used by tests.
func (a *Dialog360Adapter) SetBaseURL(u string) { a.baseURL = u }
