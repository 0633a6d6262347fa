// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldbill/internal/clock"
	"gorm.io/gorm"
)

// Status represents invoice lifecycle states. OVERDUE is never stored: it is
// how a SENT invoice past its due date is presented.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusDelivered, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Invoice is the billing document for one or more completed jobs.
type Invoice struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	CustomerID       snowflake.ID    `gorm:"not null;index" json:"customer_id"`
	InvoiceNumber    string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_invoices_number" json:"invoice_number"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	VATRate          decimal.Decimal `gorm:"column:vat_rate;type:numeric(5,4);not null" json:"vat_rate"`
	VATAmount        decimal.Decimal `gorm:"column:vat_amount;type:numeric(12,2);not null" json:"vat_amount"`
	Total            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	Status           Status          `gorm:"type:varchar(16);not null;default:'DRAFT';index" json:"status"`
	PaymentTermsDays int             `gorm:"not null" json:"payment_terms_days"`
	IssueDate        time.Time       `gorm:"not null" json:"issue_date"`
	DueDate          time.Time       `gorm:"not null;index" json:"due_date"`
	SentDate         *time.Time      `json:"sent_date,omitempty"`
	DeliveredDate    *time.Time      `json:"delivered_date,omitempty"`
	PaymentDate      *time.Time      `json:"payment_date,omitempty"`
	PaymentMethod    string          `gorm:"type:varchar(32)" json:"payment_method,omitempty"`
	PaymentReference string          `gorm:"type:varchar(128)" json:"payment_reference,omitempty"`
	CancelledDate    *time.Time      `json:"cancelled_date,omitempty"`
	Notes            string          `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`

	LineItems []LineItem `gorm:"foreignKey:InvoiceID" json:"line_items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// IsOverdue reports whether a SENT invoice is past its due date, comparing
// calendar days in UTC.
func (i Invoice) IsOverdue(now time.Time) bool {
	return i.Status == StatusSent && clock.Today(now).After(clock.Today(i.DueDate))
}

// EffectiveStatus is the status shown to callers.
func (i Invoice) EffectiveStatus(now time.Time) Status {
	if i.IsOverdue(now) {
		return StatusOverdue
	}
	return i.Status
}

// JobIDs lists the jobs referenced by the loaded line items.
func (i Invoice) JobIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(i.LineItems))
	for _, item := range i.LineItems {
		ids = append(ids, item.JobID)
	}
	return ids
}

// LineItem is the invoice-side record of one job's billed amount.
type LineItem struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	JobID       snowflake.ID    `gorm:"not null;index" json:"job_id"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"line_total"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }
