package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData confirms payment of one or more invoices.
type ReceiptData struct {
	Issuer        Party
	BillTo        Party
	ReceiptNumber string
	IssueDate     string
	Invoices      []ReceiptLine
	Total         string
}

type ReceiptLine struct {
	InvoiceNumber string
	DatePaid      string
	Method        string
	Amount        string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := p.newDocument()

	m.AddRow(12,
		text.NewCol(12, "Receipt", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
	)
	m.AddRow(12,
		text.NewCol(6, "Receipt number: "+receipt.ReceiptNumber, props.Text{Top: 0}),
		text.NewCol(6, "Date: "+receipt.IssueDate, props.Text{Top: 0, Align: align.Right}),
	)

	addParties(m, receipt.Issuer, "", receipt.BillTo)

	m.AddRow(15,
		text.NewCol(12, receipt.Total+" received with thanks", props.Text{Size: 14, Style: fontstyle.Bold, Top: 5}),
	)

	m.AddRow(10,
		text.NewCol(4, "Invoice", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Date paid", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Method", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))
	for _, inv := range receipt.Invoices {
		m.AddRow(10,
			text.NewCol(4, inv.InvoiceNumber, props.Text{Size: 9}),
			text.NewCol(3, inv.DatePaid, props.Text{Size: 9}),
			text.NewCol(3, inv.Method, props.Text{Size: 9}),
			text.NewCol(2, inv.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(2, line.NewCol(12))

	addTotal(m, "Total", receipt.Total, true)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate receipt pdf: %w", err)
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
