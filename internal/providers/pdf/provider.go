// Package pdf renders invoices and receipts as PDF documents.
package pdf

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/smallbiznis/fieldbill/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type Provider interface {
	GenerateInvoice(ctx context.Context, data InvoiceData) (io.Reader, error)
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}

// Party is the issuer or the billed customer as printed on a document.
type Party struct {
	Name    string
	Address string
	Email   string
	Phone   string
}

// IssuerParty is the business block printed at the top of every document.
func IssuerParty(issuer config.Issuer) Party {
	return Party{
		Name:    issuer.Name,
		Address: issuer.Address,
		Email:   issuer.Email,
		Phone:   issuer.Phone,
	}
}

// BankDetails formats the payment instructions line, empty when no account
// is configured.
func BankDetails(issuer config.Issuer) string {
	account := strings.TrimSpace(issuer.BankAccount)
	if account == "" {
		return ""
	}
	if bank := strings.TrimSpace(issuer.BankName); bank != "" {
		return bank + ", " + account
	}
	return account
}

// NoOpProvider returns a fixed placeholder document.
type NoOpProvider struct{}

var placeholder = []byte("%PDF-1.4\n%placeholder\n")

func (p *NoOpProvider) GenerateInvoice(ctx context.Context, data InvoiceData) (io.Reader, error) {
	return bytes.NewReader(placeholder), ctx.Err()
}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	return bytes.NewReader(placeholder), ctx.Err()
}
