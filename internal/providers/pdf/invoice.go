package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// InvoiceData is a finalized invoice view with every amount already
// formatted.
type InvoiceData struct {
	Issuer        Party
	IssuerVATID   string
	BillTo        Party
	InvoiceNumber string
	Status        string
	IssueDate     string
	DueDate       string
	PaymentTerms  string
	BankDetails   string
	Notes         string

	Items []InvoiceItem

	Subtotal  string
	VATLabel  string
	VATAmount string
	Total     string
}

type InvoiceItem struct {
	Description string
	Qty         int
	UnitPrice   string
	Amount      string
}

type PDFProvider struct {
	logoPath string
}

// New returns the maroto renderer. Documents carry no logo unless one is
// set with WithLogo.
func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) WithLogo(path string) *PDFProvider {
	p.logoPath = strings.TrimSpace(path)
	return p
}

func (p *PDFProvider) newDocument() core.Maroto {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)
	if p.logoPath != "" {
		m.AddRow(30,
			image.NewFromFileCol(3, p.logoPath, props.Rect{Percent: 80}),
			col.New(9),
		)
	}
	return m
}

func (p *PDFProvider) GenerateInvoice(ctx context.Context, invoice InvoiceData) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := p.newDocument()

	m.AddRow(12,
		text.NewCol(8, "Invoice", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(4, invoice.Status, props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+invoice.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+invoice.IssueDate, props.Text{Top: 4}),
			text.New("Date due: "+invoice.DueDate, props.Text{Top: 8}),
			text.New("Terms: "+invoice.PaymentTerms, props.Text{Top: 12}),
		),
		col.New(6),
	)

	addParties(m, invoice.Issuer, invoice.IssuerVATID, invoice.BillTo)

	m.AddRow(15,
		text.NewCol(12, invoice.Total+" due "+invoice.DueDate, props.Text{Size: 14, Style: fontstyle.Bold, Top: 5}),
	)
	if invoice.BankDetails != "" {
		m.AddRow(12, text.NewCol(12, invoice.BankDetails, props.Text{Size: 9}))
	}

	addItemTable(m, invoice.Items)

	addTotal(m, "Subtotal", invoice.Subtotal, false)
	addTotal(m, invoice.VATLabel, invoice.VATAmount, false)
	addTotal(m, "Amount due", invoice.Total, true)

	if invoice.Notes != "" {
		m.AddRow(20, text.NewCol(12, invoice.Notes, props.Text{Size: 9, Top: 5}))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate invoice pdf: %w", err)
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

func addParties(m core.Maroto, issuer Party, vatID string, billTo Party) {
	from := col.New(6).Add(
		text.New(issuer.Name, props.Text{Style: fontstyle.Bold}),
		text.New(issuer.Address, props.Text{Top: 5}),
		text.New(issuer.Email, props.Text{Top: 10}),
	)
	if vatID != "" {
		from.Add(text.New("VAT ID: "+vatID, props.Text{Top: 15}))
	}
	m.AddRow(30,
		from,
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(billTo.Name, props.Text{Top: 5}),
			text.New(billTo.Address, props.Text{Top: 10}),
			text.New(billTo.Email, props.Text{Top: 15}),
		),
	)
}

func addItemTable(m core.Maroto, items []InvoiceItem) {
	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range items {
		m.AddRow(10,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(2, line.NewCol(12))
}

func addTotal(m core.Maroto, label, amount string, bold bool) {
	style := fontstyle.Normal
	if bold {
		style = fontstyle.Bold
	}
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, label, props.Text{Size: 9, Style: style}),
		text.NewCol(2, amount, props.Text{Size: 9, Style: style, Align: align.Right}),
	)
}
