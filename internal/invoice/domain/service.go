package domain

import (
	"context"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"github.com/smallbiznis/fieldbill/pkg/optional"
	"gorm.io/gorm"
)

type CreateInvoiceRequest struct {
	CustomerID snowflake.ID
	JobIDs     []snowflake.ID
	// Absent values fall back to the billing defaults.
	VATRate          optional.Value[decimal.Decimal]
	PaymentTermsDays optional.Value[int]
	Notes            string
}

// UpdateInvoiceRequest patches a draft invoice. A supplied JobIDs replaces
// the job set. VATRate and PaymentTermsDays are applied only when greater
// than zero and Notes only when not blank.
type UpdateInvoiceRequest struct {
	ID               snowflake.ID
	JobIDs           optional.Value[[]snowflake.ID]
	VATRate          optional.Value[decimal.Decimal]
	PaymentTermsDays optional.Value[int]
	Notes            optional.Value[string]
}

type MarkAsPaidRequest struct {
	ID               snowflake.ID
	PaymentDate      time.Time
	PaymentMethod    string
	PaymentReference string
}

type ListInvoiceRequest struct {
	CustomerID *snowflake.ID
	// Status filters on the presented status, so OVERDUE is accepted.
	Status    Status
	PageToken string
	PageSize  int
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	Update(ctx context.Context, req UpdateInvoiceRequest) (Invoice, error)
	Delete(ctx context.Context, id snowflake.ID) error

	MarkAsSent(ctx context.Context, id snowflake.ID) (Invoice, error)
	MarkAsDelivered(ctx context.Context, id snowflake.ID) (Invoice, error)
	MarkAsPaid(ctx context.Context, req MarkAsPaidRequest) (Invoice, error)
	Cancel(ctx context.Context, id snowflake.ID) (Invoice, error)

	Send(ctx context.Context, id snowflake.ID) (Invoice, error)
	RenderPDF(ctx context.Context, id snowflake.ID) (io.Reader, error)
}

var (
	ErrInvoiceNotFound   = apperr.NotFound("invoice_not_found", "invoice not found")
	ErrCustomerNotFound  = apperr.NotFound("customer_not_found", "customer not found")
	ErrInvalidStatus     = apperr.Validation("invalid_status", "unknown invoice status").WithField("status")
	ErrNoJobs            = apperr.Validation("no_jobs", "an invoice needs at least one job").WithField("job_ids")
	ErrInvalidVATRate    = apperr.Validation("invalid_vat_rate", "vat rate must be between 0 and 1").WithField("vat_rate")
	ErrInvalidTerms      = apperr.Validation("invalid_payment_terms", "payment terms must not be negative").WithField("payment_terms_days")
	ErrPaymentBeforeSent = apperr.Validation("payment_before_sent", "payment date before sent date").WithField("payment_date")
	ErrInvoiceNotDraft   = apperr.InvalidState("invoice_not_draft", "invoice can only be changed while in draft")
	ErrInvoiceNotPayable = apperr.InvalidState("invoice_not_payable", "invoice is not awaiting payment")
	ErrInvoiceNotSent    = apperr.InvalidState("invoice_not_sent", "invoice has not been sent")
	ErrInvoiceCancelled  = apperr.InvalidState("invoice_cancelled", "a cancelled invoice cannot be sent")
	ErrInvoiceIsPaid     = apperr.InvalidState("invoice_paid", "a paid invoice cannot be cancelled")
	ErrInvalidTransition = apperr.InvalidState("invalid_invoice_transition", "invoice status transition is not allowed")
	ErrNumberConflict    = apperr.Conflict("invoice_number_conflict", "could not allocate a unique invoice number")
	ErrCustomerNoEmail   = apperr.Validation("customer_no_email", "customer has no email address")
	ErrDeliveryFailed    = apperr.External("invoice_delivery_failed", "invoice email could not be delivered")
	ErrRenderFailed      = apperr.External("invoice_render_failed", "invoice document could not be rendered")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertLineItems(ctx context.Context, db *gorm.DB, items []LineItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Invoice, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, forUpdate bool) ([]Invoice, error)
	List(ctx context.Context, db *gorm.DB, req ListInvoiceRequest, now time.Time) ([]*Invoice, error)
	Save(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	SoftDeleteLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) error
	SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
