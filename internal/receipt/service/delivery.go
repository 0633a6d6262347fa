package service

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldbill/internal/config"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/fieldbill/internal/invoice/domain"
	"github.com/smallbiznis/fieldbill/internal/money"
	obslogger "github.com/smallbiznis/fieldbill/internal/observability/logger"
	"github.com/smallbiznis/fieldbill/internal/observability/tracing"
	"github.com/smallbiznis/fieldbill/internal/providers/email"
	"github.com/smallbiznis/fieldbill/internal/providers/pdf"
	"github.com/smallbiznis/fieldbill/internal/receipt/domain"
	"github.com/smallbiznis/fieldbill/internal/render"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// document is everything printed on a receipt.
type document struct {
	receipt  domain.Receipt
	customer customerdomain.Customer
	invoices map[snowflake.ID]invoicedomain.Invoice
}

// Send emails the receipt PDF. The sent flag is only set after the relay
// confirms the message.
func (s *Service) Send(ctx context.Context, id snowflake.ID) (sent domain.Receipt, err error) {
	ctx, span := tracing.Start(ctx, "receipt.send", attribute.String("receipt_id", id.String()))
	defer func() { tracing.End(span, err) }()

	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if strings.TrimSpace(doc.customer.Email) == "" {
		return domain.Receipt{}, domain.ErrCustomerNoEmail.WithEntities(doc.customer.ID.String())
	}

	issuer := s.billing.Get().Issuer
	content, err := s.renderPDF(ctx, doc, issuer)
	if err != nil {
		return domain.Receipt{}, err
	}
	body, err := s.renderer.ReceiptEmail(receiptEmail(doc, issuer))
	if err != nil {
		return domain.Receipt{}, domain.ErrRenderFailed.WithEntities(id.String()).Wrap(err)
	}

	result, err := s.email.Send(ctx, email.Message{
		To:       doc.customer.Email,
		ToName:   doc.customer.Name,
		Subject:  body.Subject,
		HTMLBody: body.HTML,
		Attachments: []email.Attachment{{
			Filename:    email.AttachmentName(doc.receipt.ReceiptNumber + ".pdf"),
			ContentType: "application/pdf",
			Content:     content,
		}},
	})
	s.metrics.RecordDocumentSent(ctx, "receipt", err)
	if err != nil {
		obslogger.WithContext(ctx, s.log).Warn("receipt delivery failed",
			zap.String("receipt_id", id.String()),
			zap.String("receipt_number", doc.receipt.ReceiptNumber),
			zap.Error(err),
		)
		return domain.Receipt{}, domain.ErrDeliveryFailed.WithEntities(id.String()).Wrap(err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		receipt, err := s.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		if err := s.repo.MarkSent(ctx, tx, id, now); err != nil {
			return err
		}
		receipt.IsSent = true
		receipt.SentDate = &now
		receipt.UpdatedAt = now
		sent = *receipt
		return nil
	})
	if err != nil {
		return domain.Receipt{}, s.translate(ctx, err, "send")
	}

	s.emitAudit(ctx, "receipt.sent", &sent, map[string]any{"message_id": result.MessageID})
	return sent, nil
}

func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	doc, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := s.renderPDF(ctx, doc, s.billing.Get().Issuer)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(content), nil
}

func (s *Service) loadDocument(ctx context.Context, id snowflake.ID) (document, error) {
	receipt, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return document{}, s.translate(ctx, err, "load_document")
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, receipt.CustomerID)
	if err != nil {
		return document{}, s.translate(ctx, err, "load_document")
	}
	if customer == nil {
		return document{}, domain.ErrCustomerNotFound.WithEntities(receipt.CustomerID.String())
	}

	ids := make([]snowflake.ID, 0, len(receipt.Allocations))
	for _, allocation := range receipt.Allocations {
		ids = append(ids, allocation.InvoiceID)
	}
	invoices, err := s.invoiceRepo.FindByIDs(ctx, s.db, ids, false)
	if err != nil {
		return document{}, s.translate(ctx, err, "load_document")
	}
	byID := make(map[snowflake.ID]invoicedomain.Invoice, len(invoices))
	for _, invoice := range invoices {
		byID[invoice.ID] = invoice
	}
	return document{receipt: *receipt, customer: *customer, invoices: byID}, nil
}

func (s *Service) renderPDF(ctx context.Context, doc document, issuer config.Issuer) ([]byte, error) {
	reader, err := s.pdf.GenerateReceipt(ctx, receiptDocument(doc, issuer))
	if err == nil {
		var content []byte
		content, err = io.ReadAll(reader)
		if err == nil {
			return content, nil
		}
	}
	obslogger.WithContext(ctx, s.log).Error("receipt render failed", zap.String("receipt_id", doc.receipt.ID.String()), zap.Error(err))
	return nil, domain.ErrRenderFailed.WithEntities(doc.receipt.ID.String()).Wrap(err)
}

func receiptDocument(doc document, issuer config.Issuer) pdf.ReceiptData {
	lines := make([]pdf.ReceiptLine, 0, len(doc.receipt.Allocations))
	for _, allocation := range doc.receipt.Allocations {
		line := pdf.ReceiptLine{
			InvoiceNumber: allocation.InvoiceID.String(),
			Amount:        money.Format(allocation.AllocatedAmount),
		}
		if invoice, ok := doc.invoices[allocation.InvoiceID]; ok {
			line.InvoiceNumber = invoice.InvoiceNumber
			line.Method = invoice.PaymentMethod
			if invoice.PaymentDate != nil {
				line.DatePaid = invoice.PaymentDate.Format(dateLayout)
			}
		}
		lines = append(lines, line)
	}
	return pdf.ReceiptData{
		Issuer:        pdf.IssuerParty(issuer),
		BillTo:        pdf.Party{Name: doc.customer.Name, Address: doc.customer.Address, Email: doc.customer.Email, Phone: doc.customer.Phone},
		ReceiptNumber: doc.receipt.ReceiptNumber,
		IssueDate:     doc.receipt.CreatedAt.Format(dateLayout),
		Invoices:      lines,
		Total:         money.Format(doc.receipt.TotalAmount),
	}
}

func receiptEmail(doc document, issuer config.Issuer) render.ReceiptEmail {
	data := receiptDocument(doc, issuer)
	lines := make([]render.Line, 0, len(data.Invoices))
	for _, line := range data.Invoices {
		lines = append(lines, render.Line{Description: line.InvoiceNumber, Amount: line.Amount})
	}
	return render.ReceiptEmail{
		IssuerName:    issuer.Name,
		IssuerEmail:   issuer.Email,
		CustomerName:  doc.customer.Name,
		ReceiptNumber: doc.receipt.ReceiptNumber,
		IssueDate:     data.IssueDate,
		Lines:         lines,
		Total:         data.Total,
	}
}
