package domain

import (
	"context"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateReceiptRequest struct {
	CustomerID snowflake.ID
	InvoiceIDs []snowflake.ID
}

type ListReceiptsRequest struct {
	CustomerID *snowflake.ID
	PageToken  string
	PageSize   int
}

type ListReceiptsResponse struct {
	pagination.PageInfo
	Receipts []Receipt `json:"receipts"`
}

type Service interface {
	Create(ctx context.Context, req CreateReceiptRequest) (Receipt, error)
	GetByID(ctx context.Context, id snowflake.ID) (Receipt, error)
	List(ctx context.Context, req ListReceiptsRequest) (ListReceiptsResponse, error)
	Delete(ctx context.Context, id snowflake.ID) error
	Send(ctx context.Context, id snowflake.ID) (Receipt, error)
	RenderPDF(ctx context.Context, id snowflake.ID) (io.Reader, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, receipt *Receipt) error
	InsertAllocations(ctx context.Context, db *gorm.DB, allocations []Allocation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Receipt, error)
	List(ctx context.Context, db *gorm.DB, req ListReceiptsRequest) ([]*Receipt, error)
	// AllocatedByInvoice sums the live allocations of each invoice.
	AllocatedByInvoice(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID]decimal.Decimal, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

var (
	ErrReceiptNotFound  = apperr.NotFound("receipt_not_found", "receipt not found")
	ErrInvoiceNotFound  = apperr.NotFound("invoice_not_found", "invoice not found")
	ErrCustomerNotFound = apperr.NotFound("customer_not_found", "customer not found")
	ErrNoInvoices       = apperr.Validation("no_invoices", "a receipt needs at least one invoice").WithField("invoice_ids")
	ErrInvoiceNotPaid   = apperr.Validation("invoice_not_eligible", "invoice must be paid and belong to the customer")
	ErrOverAllocated    = apperr.Validation("invoice_over_allocated", "invoice total is already covered by other receipts")
	ErrNumberConflict   = apperr.Conflict("receipt_number_conflict", "could not allocate a unique receipt number")
	ErrCustomerNoEmail  = apperr.Validation("customer_no_email", "customer has no email address")
	ErrDeliveryFailed   = apperr.External("receipt_delivery_failed", "receipt email could not be delivered")
	ErrRenderFailed     = apperr.External("receipt_render_failed", "receipt document could not be rendered")
)
