package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateBillingConfig(t *testing.T) {
	cfg := DefaultBillingConfig()
	assert.NoError(t, validateBillingConfig(cfg))
	assert.True(t, cfg.VATRate().Equal(decimal.RequireFromString("0.19")))

	bad := cfg
	bad.DefaultVATRate = "1.5"
	assert.Error(t, validateBillingConfig(bad))

	bad = cfg
	bad.DefaultVATRate = "nineteen"
	assert.Error(t, validateBillingConfig(bad))

	bad = cfg
	bad.NumberingMaxAttempts = 0
	assert.Error(t, validateBillingConfig(bad))
}

func TestStaticHolder(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.DefaultPaymentTermsDays = 14
	holder := NewStaticBillingConfig(cfg)
	assert.Equal(t, 14, holder.Get().DefaultPaymentTermsDays)
}
