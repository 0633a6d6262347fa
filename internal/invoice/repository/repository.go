package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldbill/internal/clock"
	"github.com/smallbiznis/fieldbill/internal/invoice/domain"
	"github.com/smallbiznis/fieldbill/pkg/db/option"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert writes the invoice row only; line items go through InsertLineItems
// so the caller can tell a number collision from a job collision.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(invoice).Error
}

func (r *repo) InsertLineItems(ctx context.Context, db *gorm.DB, items []domain.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Invoice, error) {
	var invoice domain.Invoice
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.
		Preload("LineItems", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		Where("id = ?", id).
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindByIDs loads invoices without line items, in id order.
func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, forUpdate bool) ([]domain.Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var invoices []domain.Invoice
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := stmt.Where("id IN ?", ids).Order("id asc").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// List filters on the presented status: OVERDUE selects SENT invoices whose
// due day has passed, and SENT excludes them.
func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListInvoiceRequest, now time.Time) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if req.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *req.CustomerID)
	}

	today := clock.Today(now)
	switch req.Status {
	case "":
	case domain.StatusOverdue:
		stmt = stmt.Where("status = ? AND due_date < ?", domain.StatusSent, today)
	case domain.StatusSent:
		stmt = stmt.Where("status = ? AND due_date >= ?", domain.StatusSent, today)
	default:
		stmt = stmt.Where("status = ?", req.Status)
	}

	stmt = option.ApplyPagination(pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  req.PageSize,
	}).Apply(stmt)

	err := stmt.
		Preload("LineItems", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		Order("created_at desc, id desc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(map[string]any{
			"subtotal":           invoice.Subtotal,
			"vat_rate":           invoice.VATRate,
			"vat_amount":         invoice.VATAmount,
			"total":              invoice.Total,
			"status":             invoice.Status,
			"payment_terms_days": invoice.PaymentTermsDays,
			"due_date":           invoice.DueDate,
			"sent_date":          invoice.SentDate,
			"delivered_date":     invoice.DeliveredDate,
			"payment_date":       invoice.PaymentDate,
			"payment_method":     invoice.PaymentMethod,
			"payment_reference":  invoice.PaymentReference,
			"cancelled_date":     invoice.CancelledDate,
			"notes":              invoice.Notes,
			"updated_at":         invoice.UpdatedAt,
		}).Error
}

func (r *repo) SoftDeleteLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) error {
	return db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Delete(&domain.LineItem{}).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	if err := r.SoftDeleteLineItems(ctx, db, id); err != nil {
		return err
	}
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Invoice{}).Error
}
