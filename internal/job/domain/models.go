// Package domain contains the job model and its service contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Status represents job lifecycle states.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Job is a unit of billable field work for one customer.
type Job struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	CustomerID   snowflake.ID    `gorm:"not null;index" json:"customer_id"`
	Title        string          `gorm:"type:text;not null" json:"title"`
	JobType      string          `gorm:"type:varchar(64)" json:"job_type,omitempty"`
	Address      string          `gorm:"type:text" json:"address,omitempty"`
	Description  string          `gorm:"type:text" json:"description,omitempty"`
	Status       Status          `gorm:"type:varchar(16);not null;default:'NEW';index" json:"status"`
	Price        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	StartDate    time.Time       `gorm:"not null" json:"start_date"`
	EndDate      *time.Time      `json:"end_date,omitempty"`
	InvoiceID    *snowflake.ID   `gorm:"index" json:"invoice_id,omitempty"`
	InvoicedDate *time.Time      `json:"invoiced_date,omitempty"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Job) TableName() string { return "jobs" }

// IsInvoiced reports whether a live invoice references the job.
func (j Job) IsInvoiced() bool {
	return j.InvoiceID != nil && *j.InvoiceID != 0
}

// LineDescription is the text printed on the invoice line for this job.
func (j Job) LineDescription() string {
	desc := j.Title
	if j.JobType != "" {
		desc = j.JobType + " - " + desc
	}
	if j.Address != "" {
		desc = desc + " (" + j.Address + ")"
	}
	return desc
}
