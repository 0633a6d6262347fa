package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// BillingConfig carries the tunables read from billing.yml.
type BillingConfig struct {
	DefaultVATRate          string        `mapstructure:"defaultVatRate"`
	DefaultPaymentTermsDays int           `mapstructure:"defaultPaymentTermsDays"`
	NumberingMaxAttempts    int           `mapstructure:"numberingMaxAttempts"`
	EmailMaxAttempts        int           `mapstructure:"emailMaxAttempts"`
	EmailInitialInterval    time.Duration `mapstructure:"emailInitialInterval"`
	Issuer                  Issuer        `mapstructure:"issuer"`
}

// Issuer is the business printed on invoices and receipts.
type Issuer struct {
	Name        string `mapstructure:"name"`
	Address     string `mapstructure:"address"`
	Email       string `mapstructure:"email"`
	Phone       string `mapstructure:"phone"`
	VATNumber   string `mapstructure:"vatNumber"`
	BankName    string `mapstructure:"bankName"`
	BankAccount string `mapstructure:"bankAccount"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultVATRate:          "0.19",
		DefaultPaymentTermsDays: 30,
		NumberingMaxAttempts:    3,
		EmailMaxAttempts:        3,
		EmailInitialInterval:    500 * time.Millisecond,
		Issuer: Issuer{
			Name: "Field Services",
		},
	}
}

// VATRate parses DefaultVATRate. The value is validated on load.
func (c BillingConfig) VATRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DefaultVATRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfig returns a holder that never reloads.
func NewStaticBillingConfig(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fieldbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FIELDBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultVatRate", defaults.DefaultVATRate)
	v.SetDefault("billing.defaultPaymentTermsDays", defaults.DefaultPaymentTermsDays)
	v.SetDefault("billing.numberingMaxAttempts", defaults.NumberingMaxAttempts)
	v.SetDefault("billing.emailMaxAttempts", defaults.EmailMaxAttempts)
	v.SetDefault("billing.emailInitialInterval", defaults.EmailInitialInterval)
	v.SetDefault("billing.issuer.name", defaults.Issuer.Name)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.DefaultVATRate))
	if err != nil {
		return fmt.Errorf("billing.defaultVatRate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("billing.defaultVatRate must be between 0 and 1")
	}
	if cfg.DefaultPaymentTermsDays < 0 {
		return errors.New("billing.defaultPaymentTermsDays cannot be negative")
	}
	if cfg.NumberingMaxAttempts < 1 {
		return errors.New("billing.numberingMaxAttempts must be at least 1")
	}
	if cfg.EmailMaxAttempts < 1 {
		return errors.New("billing.emailMaxAttempts must be at least 1")
	}
	return nil
}
