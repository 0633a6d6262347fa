package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldbill/internal/config"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	"github.com/smallbiznis/fieldbill/internal/invoice/domain"
	"github.com/smallbiznis/fieldbill/internal/money"
	obslogger "github.com/smallbiznis/fieldbill/internal/observability/logger"
	"github.com/smallbiznis/fieldbill/internal/observability/tracing"
	"github.com/smallbiznis/fieldbill/internal/providers/email"
	"github.com/smallbiznis/fieldbill/internal/providers/pdf"
	"github.com/smallbiznis/fieldbill/internal/render"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Send emails the invoice PDF to the customer. A draft becomes SENT once the
// relay confirms the message; on failure nothing is changed.
func (s *Service) Send(ctx context.Context, id snowflake.ID) (sent domain.Invoice, err error) {
	ctx, span := tracing.Start(ctx, "invoice.send", attribute.String("invoice_id", id.String()))
	defer func() { tracing.End(span, err) }()

	invoice, customer, err := s.loadDocument(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice.Status == domain.StatusCancelled {
		return domain.Invoice{}, domain.ErrInvoiceCancelled.WithEntities(id.String())
	}
	if strings.TrimSpace(customer.Email) == "" {
		return domain.Invoice{}, domain.ErrCustomerNoEmail.WithEntities(customer.ID.String())
	}

	issuer := s.billing.Get().Issuer
	content, err := s.renderPDF(ctx, invoice, customer, issuer)
	if err != nil {
		return domain.Invoice{}, err
	}
	body, err := s.renderer.InvoiceEmail(invoiceEmail(invoice, customer, issuer))
	if err != nil {
		return domain.Invoice{}, domain.ErrRenderFailed.WithEntities(id.String()).Wrap(err)
	}

	result, err := s.email.Send(ctx, email.Message{
		To:       customer.Email,
		ToName:   customer.Name,
		Subject:  body.Subject,
		HTMLBody: body.HTML,
		Attachments: []email.Attachment{{
			Filename:    email.AttachmentName(invoice.InvoiceNumber + ".pdf"),
			ContentType: "application/pdf",
			Content:     content,
		}},
	})
	s.metrics.RecordDocumentSent(ctx, "invoice", err)
	if err != nil {
		obslogger.WithContext(ctx, s.log).Warn("invoice delivery failed",
			zap.String("invoice_id", id.String()),
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.Error(err),
		)
		return domain.Invoice{}, domain.ErrDeliveryFailed.WithEntities(id.String()).Wrap(err)
	}

	s.emitAudit(ctx, "invoice.emailed", &invoice, map[string]any{"message_id": result.MessageID})

	// Only a draft moves; resending a sent or paid invoice is a reminder.
	return s.transition(ctx, id, "invoice.sent", func(locked *domain.Invoice, now time.Time) error {
		if locked.Status == domain.StatusDraft {
			locked.Status = domain.StatusSent
			locked.SentDate = &now
		}
		return nil
	})
}

func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	invoice, customer, err := s.loadDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := s.renderPDF(ctx, invoice, customer, s.billing.Get().Issuer)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(content), nil
}

func (s *Service) loadDocument(ctx context.Context, id snowflake.ID) (domain.Invoice, customerdomain.Customer, error) {
	invoice, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return domain.Invoice{}, customerdomain.Customer{}, s.translate(ctx, err, "load_document")
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, invoice.CustomerID)
	if err != nil {
		return domain.Invoice{}, customerdomain.Customer{}, s.translate(ctx, err, "load_document")
	}
	if customer == nil {
		return domain.Invoice{}, customerdomain.Customer{}, domain.ErrCustomerNotFound.WithEntities(invoice.CustomerID.String())
	}
	return *invoice, *customer, nil
}

func (s *Service) renderPDF(ctx context.Context, invoice domain.Invoice, customer customerdomain.Customer, issuer config.Issuer) ([]byte, error) {
	reader, err := s.pdf.GenerateInvoice(ctx, s.invoiceDocument(invoice, customer, issuer))
	if err == nil {
		var content []byte
		content, err = io.ReadAll(reader)
		if err == nil {
			return content, nil
		}
	}
	obslogger.WithContext(ctx, s.log).Error("invoice render failed", zap.String("invoice_id", invoice.ID.String()), zap.Error(err))
	return nil, domain.ErrRenderFailed.WithEntities(invoice.ID.String()).Wrap(err)
}

func (s *Service) invoiceDocument(invoice domain.Invoice, customer customerdomain.Customer, issuer config.Issuer) pdf.InvoiceData {
	items := make([]pdf.InvoiceItem, 0, len(invoice.LineItems))
	for _, item := range invoice.LineItems {
		items = append(items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         item.Quantity,
			UnitPrice:   money.Format(item.UnitPrice),
			Amount:      money.Format(item.LineTotal),
		})
	}
	return pdf.InvoiceData{
		Issuer:        pdf.IssuerParty(issuer),
		IssuerVATID:   issuer.VATNumber,
		BillTo:        pdf.Party{Name: customer.Name, Address: customer.Address, Email: customer.Email, Phone: customer.Phone},
		InvoiceNumber: invoice.InvoiceNumber,
		Status:        string(invoice.EffectiveStatus(s.clock.Now())),
		IssueDate:     invoice.IssueDate.Format(dateLayout),
		DueDate:       invoice.DueDate.Format(dateLayout),
		PaymentTerms:  fmt.Sprintf("%d days", invoice.PaymentTermsDays),
		BankDetails:   pdf.BankDetails(issuer),
		Notes:         invoice.Notes,
		Items:         items,
		Subtotal:      money.Format(invoice.Subtotal),
		VATLabel:      vatLabel(invoice.VATRate),
		VATAmount:     money.Format(invoice.VATAmount),
		Total:         money.Format(invoice.Total),
	}
}

func invoiceEmail(invoice domain.Invoice, customer customerdomain.Customer, issuer config.Issuer) render.InvoiceEmail {
	lines := make([]render.Line, 0, len(invoice.LineItems))
	for _, item := range invoice.LineItems {
		lines = append(lines, render.Line{Description: item.Description, Amount: money.Format(item.LineTotal)})
	}
	return render.InvoiceEmail{
		IssuerName:    issuer.Name,
		IssuerEmail:   issuer.Email,
		CustomerName:  customer.Name,
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     invoice.IssueDate.Format(dateLayout),
		DueDate:       invoice.DueDate.Format(dateLayout),
		Lines:         lines,
		Subtotal:      money.Format(invoice.Subtotal),
		VATLabel:      vatLabel(invoice.VATRate),
		VATAmount:     money.Format(invoice.VATAmount),
		Total:         money.Format(invoice.Total),
		Notes:         invoice.Notes,
		BankDetails:   pdf.BankDetails(issuer),
	}
}

// vatLabel prints the rate as a percentage, e.g. "VAT 19%".
func vatLabel(rate decimal.Decimal) string {
	return "VAT " + rate.Shift(2).String() + "%"
}
