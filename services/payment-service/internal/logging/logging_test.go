package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jane.doe@example.com", "j******e@example.com"},
		{"ab@example.com", "**@example.com"},
		{"not-an-email", "[REDACTED]"},
		{"@example.com", "[REDACTED]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskEmail(tt.in), tt.in)
	}
}

func TestMaskRef(t *testing.T) {
	assert.Equal(t, "****9xYz", MaskRef("pi_3Mabc9xYz"))
	assert.Equal(t, "****", MaskRef("pi_"))
}

func TestMaskFields(t *testing.T) {
	in := map[string]string{
		"payer_email":       "jane.doe@example.com",
		"card_last4":        "4242",
		"pm_token":          "pm_123",
		"idempotency_token": "txn_1_attempt_1",
		"customer_ref":      "cus_ABCDEFGH",
		"lease":             "L-2024-7",
	}
	out := MaskFields(in)

	assert.Equal(t, "j******e@example.com", out["payer_email"])
	assert.Equal(t, "[REDACTED]", out["card_last4"])
	assert.Equal(t, "[REDACTED]", out["pm_token"])
	assert.Equal(t, "txn_1_attempt_1", out["idempotency_token"])
	assert.Equal(t, "****EFGH", out["customer_ref"])
	assert.Equal(t, "L-2024-7", out["lease"])
	// input untouched
	assert.Equal(t, "4242", in["card_last4"])
}

func TestNew(t *testing.T) {
	logger, err := New("debug", true)
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = New("loud", false)
	assert.Error(t, err)
}
