// Package provider abstracts the heterogeneous WhatsApp gateways (Meta Cloud
// API direct plus the BSP resellers) behind one send/verify/parse contract.
// Adding a provider means adding one adapter and registering it; nothing in
// the pipeline or webhook layer branches on provider names.
package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"whatsapp-platform/internal/models"
)

// Provider tags, as stored on Tenant.Provider and Credential.Provider.
const (
	Meta      = "meta"
	Twilio    = "twilio"
	Dialog360 = "360dialog"
	Gupshup   = "gupshup"
	AiSensy   = "aisensy"
)

// MessageSpec is the provider-independent description of an outbound message.
// Exactly one of the three shapes applies: plain text, approved template with
// variables, or media by hosted URL with optional caption.
type MessageSpec struct {
	Type string // text, template, image, document, video, audio

	Text string

	TemplateName     string
	TemplateLanguage string
	TemplateSID      string   // Twilio ContentSid
	TemplateID       string   // Gupshup template id
	Variables        []string // positional substitution values

	MediaURL string
	Caption  string
	Filename string
}

// Outcome is the structured result of a send attempt. Adapters never panic
// or return errors past this boundary; network failures and non-2xx responses
// become failure outcomes carrying the provider's reason text.
type Outcome struct {
	Success           bool
	ProviderMessageID string
	ErrorReason       string
}

func failure(reason string) Outcome {
	return Outcome{Success: false, ErrorReason: reason}
}

// StatusEvent is a normalized delivery-status update.
type StatusEvent struct {
	ProviderMessageID string
	Status            string // models.StatusSent/Delivered/Read/Failed
	Timestamp         time.Time
	ErrorDetail       string
}

// InboundEvent is a normalized customer message.
type InboundEvent struct {
	From              string // digits-only phone
	ProfileName       string
	Type              string
	Text              string // body, caption, or bracketed placeholder
	ProviderMessageID string
	Timestamp         time.Time
	MediaRef          string // provider media id or URL
}

// Event is one normalized webhook event; exactly one field is set.
type Event struct {
	Status  *StatusEvent
	Inbound *InboundEvent
}

// SignedRequest carries the parts of an incoming webhook request that
// signature verification needs: the untouched raw body, the full URL, and
// the parsed form for providers that sign form parameters.
type SignedRequest struct {
	Header http.Header
	Body   []byte
	URL    string
	Form   url.Values
}

// SecretChain is the process-level fallback for webhook secrets, consulted
// only when the tenant has no stored secret of its own. It is constructed
// once from config and passed in explicitly.
type SecretChain struct {
	MetaAppSecret   string
	MetaVerifyToken string
	TwilioAuthToken string
	GenericSecret   string
}

// Adapter is the uniform contract every gateway implements.
type Adapter interface {
	Name() string

	// Send dispatches one outbound message. It always returns an Outcome,
	// never an error.
	Send(ctx context.Context, tenant *models.Tenant, cred *models.Credential, to string, spec MessageSpec) Outcome

	// VerifySignature authenticates a webhook request. A missing signature
	// header or an unresolvable secret is a hard rejection; verification is
	// never skipped.
	VerifySignature(cred *models.Credential, chain *SecretChain, req SignedRequest) error

	// ParseWebhook normalizes the provider payload into canonical events.
	ParseWebhook(body []byte, form url.Values) ([]Event, error)
}

// TenantHinter is implemented by adapters whose webhook payloads carry the
// business phone number the event belongs to. The hint routes webhooks that
// arrive without an explicit tenant id; an empty hint means the payload has
// no routable number.
type TenantHinter interface {
	TenantHint(body []byte, form url.Values) string
}

// ConnectivityTester is implemented by adapters whose provider exposes a
// cheap authenticated endpoint for validating credentials during the connect
// flow. Adapters without one are validated by shape only.
type ConnectivityTester interface {
	TestCredential(ctx context.Context, tenant *models.Tenant, cred *models.Credential) error
}

// Registry maps provider tags to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(graphBaseURL string) *Registry {
	hc := &http.Client{Timeout: 30 * time.Second}
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register(NewMetaAdapter(hc, graphBaseURL))
	r.Register(NewDialog360Adapter(hc))
	r.Register(NewTwilioAdapter(hc))
	r.Register(NewGupshupAdapter(hc))
	r.Register(NewAiSensyAdapter(hc))
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a provider tag, or nil if unknown.
func (r *Registry) Get(name string) Adapter {
	return r.adapters[name]
}

// ResolveVerifyToken picks the handshake token: tenant credential first,
// then the process-level fallback.
func ResolveVerifyToken(cred *models.Credential, chain *SecretChain) string {
	if cred != nil && cred.VerifyToken != "" {
		return cred.VerifyToken
	}
	if chain != nil {
		return chain.MetaVerifyToken
	}
	return ""
}
