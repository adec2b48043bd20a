package provider

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"

	"whatsapp-platform/internal/apperr"
)

// hmacAlgo selects the digest for verifyHMAC.
type hmacAlgo int

const (
	hmacSHA256 hmacAlgo = iota
	hmacSHA1
)

// hmacEncoding selects how the digest is rendered for comparison.
type hmacEncoding int

const (
	encodeHex hmacEncoding = iota
	encodeBase64
)

// verifyHMAC recomputes an HMAC over input and compares it in constant time
// against the presented signature. Each provider wrapper supplies its own
// canonicalization of the input and any prefix stripping before calling in.
func verifyHMAC(algo hmacAlgo, enc hmacEncoding, secret string, input []byte, presented string) error {
	if presented == "" {
		return apperr.Signature("missing signature header")
	}
	if secret == "" {
		return apperr.Signature("no webhook secret configured")
	}

	var h func() hash.Hash
	switch algo {
	case hmacSHA1:
		h = sha1.New
	default:
		h = sha256.New
	}

	mac := hmac.New(h, []byte(secret))
	mac.Write(input)
	sum := mac.Sum(nil)

	var expected string
	switch enc {
	case encodeBase64:
		expected = base64.StdEncoding.EncodeToString(sum)
	default:
		expected = hex.EncodeToString(sum)
	}

	if !hmac.Equal([]byte(expected), []byte(presented)) {
		return apperr.Signature("signature mismatch")
	}
	return nil
}

// verifySHA256Hex checks the Meta-style "sha256=<hex>" header over the raw
// request body. Shared by the Meta, 360dialog, Gupshup and AiSensy wrappers.
func verifySHA256Hex(secret string, body []byte, header string) error {
	if header == "" {
		return apperr.Signature("missing signature header")
	}
	presented := strings.TrimPrefix(header, "sha256=")
	return verifyHMAC(hmacSHA256, encodeHex, secret, body, presented)
}

// twilioCanonical builds the string Twilio signs: the full request URL
// followed by each form parameter name and value, sorted by name.
func twilioCanonical(rawURL string, form url.Values) []byte {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(rawURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	return []byte(b.String())
}

// verifyTwilio checks the X-Twilio-Signature header: HMAC-SHA1 over the
// canonical URL+params string, base64-encoded.
func verifyTwilio(authToken, rawURL string, form url.Values, header string) error {
	if header == "" {
		return apperr.Signature("missing signature header")
	}
	return verifyHMAC(hmacSHA1, encodeBase64, authToken, twilioCanonical(rawURL, form), header)
}
