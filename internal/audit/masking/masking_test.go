package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskReference(t *testing.T) {
	assert.Equal(t, "", MaskReference("  "))
	assert.Equal(t, "****", MaskReference("1234"))
	assert.Equal(t, "****7890", MaskReference("TRX-1234567890"))
}

func TestMaskFields(t *testing.T) {
	out := MaskFields(map[string]any{
		"payment_reference": "BANK-REF-998877",
		"total":             "178.50",
		"count":             2,
	}, "payment_reference", "count")

	assert.Equal(t, "****8877", out["payment_reference"])
	assert.Equal(t, "178.50", out["total"])
	assert.Equal(t, 2, out["count"])
}
