package providers

import (
	"github.com/smallbiznis/fieldbill/internal/providers/email"
	"github.com/smallbiznis/fieldbill/internal/providers/pdf"
	"go.uber.org/fx"
)

// Module bundles the outbound document providers: PDF rendering and email
// delivery.
var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
