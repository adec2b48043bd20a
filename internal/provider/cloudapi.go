package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"whatsapp-platform/internal/models"
	"whatsapp-platform/pkg/phone"
)

// Cloud API wire format, shared by the Meta direct adapter and the BSPs that
// proxy it verbatim (360dialog, AiSensy webhooks).

type cloudMessage struct {
	MessagingProduct string         `json:"messaging_product"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Text             *cloudText     `json:"text,omitempty"`
	Image            *cloudMedia    `json:"image,omitempty"`
	Video            *cloudMedia    `json:"video,omitempty"`
	Audio            *cloudMedia    `json:"audio,omitempty"`
	Document         *cloudMedia    `json:"document,omitempty"`
	Template         *cloudTemplate `json:"template,omitempty"`
}

type cloudText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type cloudMedia struct {
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type cloudTemplate struct {
	Name       string           `json:"name"`
	Language   cloudLanguage    `json:"language"`
	Components []cloudComponent `json:"components,omitempty"`
}

type cloudLanguage struct {
	Code string `json:"code"`
}

type cloudComponent struct {
	Type       string       `json:"type"`
	Parameters []cloudParam `json:"parameters"`
}

type cloudParam struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// buildCloudPayload translates a MessageSpec into the Cloud API message body.
// Template variables become one positional body component; media is always a
// hosted link, never a raw upload.
func buildCloudPayload(to string, spec MessageSpec) cloudMessage {
	msg := cloudMessage{
		MessagingProduct: "whatsapp",
		To:               phone.Normalize(to),
		Type:             spec.Type,
	}

	switch spec.Type {
	case "text":
		msg.Text = &cloudText{Body: spec.Text}
	case "template":
		tpl := &cloudTemplate{
			Name:     spec.TemplateName,
			Language: cloudLanguage{Code: spec.TemplateLanguage},
		}
		if len(spec.Variables) > 0 {
			comp := cloudComponent{Type: "body"}
			for _, v := range spec.Variables {
				comp.Parameters = append(comp.Parameters, cloudParam{Type: "text", Text: v})
			}
			tpl.Components = []cloudComponent{comp}
		}
		msg.Template = tpl
	case "image":
		msg.Image = &cloudMedia{Link: spec.MediaURL, Caption: spec.Caption}
	case "video":
		msg.Video = &cloudMedia{Link: spec.MediaURL, Caption: spec.Caption}
	case "audio":
		msg.Audio = &cloudMedia{Link: spec.MediaURL}
	case "document":
		msg.Document = &cloudMedia{Link: spec.MediaURL, Caption: spec.Caption, Filename: spec.Filename}
	}
	return msg
}

type cloudSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// postCloudSend posts a Cloud API message and normalizes the response into an
// Outcome. Used by the Meta and 360dialog adapters with different auth headers.
func postCloudSend(ctx context.Context, hc *http.Client, url string, headers map[string]string, payload cloudMessage) Outcome {
	data, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Sprintf("encode payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var parsed cloudSendResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 400 {
		reason := fmt.Sprintf("API error: %s", resp.Status)
		if parsed.Error != nil && parsed.Error.Message != "" {
			reason = parsed.Error.Message
		}
		return failure(reason)
	}
	if len(parsed.Messages) == 0 {
		return failure("provider returned no message id")
	}
	return Outcome{Success: true, ProviderMessageID: parsed.Messages[0].ID}
}

// Cloud API webhook payload. Entries batch multiple changes; each change can
// carry several messages and statuses.
type cloudWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts,omitempty"`
				Messages []cloudInboundMessage `json:"messages,omitempty"`
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp string `json:"timestamp"`
					Errors    []struct {
						Title   string `json:"title"`
						Message string `json:"message"`
					} `json:"errors,omitempty"`
				} `json:"statuses,omitempty"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudInboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image       *cloudInboundMedia `json:"image,omitempty"`
	Video       *cloudInboundMedia `json:"video,omitempty"`
	Audio       *cloudInboundMedia `json:"audio,omitempty"`
	Document    *cloudInboundMedia `json:"document,omitempty"`
	Button      *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type cloudInboundMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// extractCloudContent pulls user-visible text out of an inbound message:
// body for text, caption or a bracketed placeholder for media, the selected
// option's label for button and interactive replies.
func extractCloudContent(m cloudInboundMessage) (text, mediaRef string) {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return m.Text.Body, ""
		}
	case "image":
		if m.Image != nil {
			if m.Image.Caption != "" {
				return m.Image.Caption, m.Image.ID
			}
			return "[image]", m.Image.ID
		}
	case "video":
		if m.Video != nil {
			if m.Video.Caption != "" {
				return m.Video.Caption, m.Video.ID
			}
			return "[video]", m.Video.ID
		}
	case "audio":
		if m.Audio != nil {
			return "[audio]", m.Audio.ID
		}
	case "document":
		if m.Document != nil {
			if m.Document.Caption != "" {
				return m.Document.Caption, m.Document.ID
			}
			return "[document]", m.Document.ID
		}
	case "button":
		if m.Button != nil {
			if m.Button.Text != "" {
				return m.Button.Text, ""
			}
			return m.Button.Payload, ""
		}
	case "interactive":
		if m.Interactive != nil {
			if m.Interactive.ButtonReply != nil {
				return m.Interactive.ButtonReply.Title, ""
			}
			if m.Interactive.ListReply != nil {
				return m.Interactive.ListReply.Title, ""
			}
		}
	}
	return "[" + m.Type + "]", ""
}

func mapCloudStatus(s string) string {
	switch s {
	case "sent":
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

func unixTimestamp(s string) time.Time {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}

// cloudTenantHint extracts the business phone-number id the webhook was
// delivered for.
func cloudTenantHint(body []byte) string {
	var payload cloudWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if id := change.Value.Metadata.PhoneNumberID; id != "" {
				return id
			}
		}
	}
	return ""
}

// parseCloudWebhook normalizes a Cloud API webhook body. Every message and
// status in every batched entry becomes its own event.
func parseCloudWebhook(body []byte) ([]Event, error) {
	var payload cloudWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			profiles := make(map[string]string)
			for _, c := range change.Value.Contacts {
				profiles[c.WaID] = c.Profile.Name
			}

			for _, m := range change.Value.Messages {
				text, mediaRef := extractCloudContent(m)
				events = append(events, Event{Inbound: &InboundEvent{
					From:              phone.Normalize(m.From),
					ProfileName:       profiles[m.From],
					Type:              m.Type,
					Text:              text,
					ProviderMessageID: m.ID,
					Timestamp:         unixTimestamp(m.Timestamp),
					MediaRef:          mediaRef,
				}})
			}

			for _, s := range change.Value.Statuses {
				status := mapCloudStatus(s.Status)
				if status == "" {
					continue
				}
				detail := ""
				if len(s.Errors) > 0 {
					detail = s.Errors[0].Title
					if s.Errors[0].Message != "" {
						detail = s.Errors[0].Message
					}
				}
				events = append(events, Event{Status: &StatusEvent{
					ProviderMessageID: s.ID,
					Status:            status,
					Timestamp:         unixTimestamp(s.Timestamp),
					ErrorDetail:       detail,
				}})
			}
		}
	}
	return events, nil
}
