package provider

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signSHA256Hex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func signTwilio(token, rawURL string, form url.Values) string {
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write(twilioCanonical(rawURL, form))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySHA256Hex(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	secret := "app-secret"

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, verifySHA256Hex(secret, body, signSHA256Hex(secret, body)))
	})

	t.Run("wrong secret", func(t *testing.T) {
		err := verifySHA256Hex(secret, body, signSHA256Hex("other-secret", body))
		assert.Error(t, err)
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := signSHA256Hex(secret, body)
		err := verifySHA256Hex(secret, []byte(`{"object":"tampered"}`), sig)
		assert.Error(t, err)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		err := verifySHA256Hex(secret, body, "")
		require.Error(t, err)
	})

	t.Run("no secret rejected even with header", func(t *testing.T) {
		err := verifySHA256Hex("", body, signSHA256Hex(secret, body))
		require.Error(t, err)
	})
}

func TestVerifyTwilio(t *testing.T) {
	token := "auth-token"
	rawURL := "https://example.com/webhook/twilio?tenant=1"
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "delivered")
	form.Set("AccountSid", "AC123")

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, verifyTwilio(token, rawURL, form, signTwilio(token, rawURL, form)))
	})

	t.Run("params sorted into canonical string", func(t *testing.T) {
		// Signature must be order independent; re-adding keys in another
		// order yields the same canonical input.
		reordered := url.Values{}
		reordered.Set("AccountSid", "AC123")
		reordered.Set("MessageStatus", "delivered")
		reordered.Set("MessageSid", "SM123")
		assert.Equal(t, twilioCanonical(rawURL, form), twilioCanonical(rawURL, reordered))
	})

	t.Run("different URL fails", func(t *testing.T) {
		sig := signTwilio(token, rawURL, form)
		err := verifyTwilio(token, "https://example.com/webhook/twilio?tenant=2", form, sig)
		assert.Error(t, err)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		assert.Error(t, verifyTwilio(token, rawURL, form, ""))
	})
}
