package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain digits", "5511988887777", "5511988887777"},
		{"e164", "+5511988887777", "5511988887777"},
		{"formatted", "+55 (11) 98888-7777", "5511988887777"},
		{"whatsapp prefix stripped upstream", "whatsapp:+14155552671", "14155552671"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestE164(t *testing.T) {
	assert.Equal(t, "+5511988887777", E164("55 11 98888-7777"))
	assert.Equal(t, "", E164(""))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("+14155552671"))
	assert.False(t, Valid("12345"))
	assert.False(t, Valid(""))
}
