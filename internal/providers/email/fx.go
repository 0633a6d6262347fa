package email

import (
	"github.com/smallbiznis/fieldbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns the SMTP sender wrapped in the bounded retry policy
// from billing.yml. Without SMTP_HOST every send fails with ErrNotConfigured.
func NewFromConfig(cfg config.Config, billing *config.BillingConfigHolder, log *zap.Logger) Provider {
	var base Provider = &UnconfiguredProvider{}
	if cfg.SMTP.Enabled() {
		base = NewSMTP(Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})
	} else {
		log.Warn("SMTP_HOST not set; sending documents will fail")
	}

	b := billing.Get()
	return NewRetryingProvider(base, log, b.EmailMaxAttempts, b.EmailInitialInterval)
}
