package pdf

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInvoice(t *testing.T) {
	r, err := New().GenerateInvoice(context.Background(), InvoiceData{
		Issuer:        Party{Name: "Field Services Ltd", Address: "1 Depot Road"},
		BillTo:        Party{Name: "Acme", Email: "office@acme.test"},
		InvoiceNumber: "INV-2026-0001",
		Status:        "DRAFT",
		IssueDate:     "2026-03-10",
		DueDate:       "2026-04-09",
		PaymentTerms:  "30 days",
		Items: []InvoiceItem{
			{Description: "Heating - Replace boiler (1 Main St)", Qty: 1, UnitPrice: "100.00", Amount: "100.00"},
			{Description: "Plumbing - Fix leak", Qty: 1, UnitPrice: "50.00", Amount: "50.00"},
		},
		Subtotal:  "150.00",
		VATLabel:  "VAT 19%",
		VATAmount: "28.50",
		Total:     "178.50",
	})
	require.NoError(t, err)

	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(raw[:4]))
}

func TestGenerateReceipt(t *testing.T) {
	r, err := New().GenerateReceipt(context.Background(), ReceiptData{
		Issuer:        Party{Name: "Field Services Ltd"},
		BillTo:        Party{Name: "Acme"},
		ReceiptNumber: "REC-2026-0001",
		IssueDate:     "2026-03-20",
		Invoices: []ReceiptLine{
			{InvoiceNumber: "INV-2026-0001", DatePaid: "2026-03-18", Method: "bank_transfer", Amount: "178.50"},
		},
		Total: "178.50",
	})
	require.NoError(t, err)

	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(raw[:4]))
}

func TestGenerateHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().GenerateReceipt(ctx, ReceiptData{})
	assert.ErrorIs(t, err, context.Canceled)
}
