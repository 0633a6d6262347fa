// Package domain contains the receipt and allocation models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Receipt confirms payment of one or more paid invoices.
type Receipt struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	CustomerID    snowflake.ID    `gorm:"not null;index" json:"customer_id"`
	ReceiptNumber string          `gorm:"type:varchar(32);not null;uniqueIndex:ux_receipts_number" json:"receipt_number"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_amount"`
	IsSent        bool            `gorm:"not null;default:false" json:"is_sent"`
	SentDate      *time.Time      `json:"sent_date,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`

	Allocations []Allocation `gorm:"foreignKey:ReceiptID" json:"allocations,omitempty"`
}

func (Receipt) TableName() string { return "receipts" }

// Allocation attributes part of a receipt to one invoice.
type Allocation struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	ReceiptID       snowflake.ID    `gorm:"not null;index" json:"receipt_id"`
	InvoiceID       snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	AllocatedAmount decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"allocated_amount"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Allocation) TableName() string { return "receipt_invoices" }
