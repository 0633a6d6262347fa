package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"github.com/smallbiznis/fieldbill/pkg/optional"
	"gorm.io/gorm"
)

type CreateJobRequest struct {
	CustomerID  snowflake.ID
	Title       string
	JobType     string
	Address     string
	Description string
	Price       decimal.Decimal
	StartDate   time.Time
	EndDate     *time.Time
	// Status defaults to NEW.
	Status Status
}

// UpdateJobRequest patches a job. Absent fields are left unchanged; EndDate
// set to nil clears the end date.
type UpdateJobRequest struct {
	ID          snowflake.ID
	Title       optional.Value[string]
	JobType     optional.Value[string]
	Address     optional.Value[string]
	Description optional.Value[string]
	Price       optional.Value[decimal.Decimal]
	StartDate   optional.Value[time.Time]
	EndDate     optional.Value[*time.Time]
	Status      optional.Value[Status]
}

type UpdateStatusRequest struct {
	ID      snowflake.ID
	Status  Status
	EndDate *time.Time
}

type ListJobsRequest struct {
	CustomerID *snowflake.ID
	Status     Status
	Invoiced   *bool
	PageToken  string
	PageSize   int
}

type ListJobsResponse struct {
	pagination.PageInfo
	Jobs []Job `json:"jobs"`
}

type Service interface {
	Create(ctx context.Context, req CreateJobRequest) (Job, error)
	GetByID(ctx context.Context, id snowflake.ID) (Job, error)
	List(ctx context.Context, req ListJobsRequest) (ListJobsResponse, error)
	Update(ctx context.Context, req UpdateJobRequest) (Job, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (Job, error)
	Delete(ctx context.Context, id snowflake.ID) error

	// LoadForInvoicing locks and returns the requested jobs inside tx.
	LoadForInvoicing(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) ([]Job, error)
	// MarkInvoiced links every job to invoiceID inside tx, or none of them.
	MarkInvoiced(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) error
	// RemoveFromInvoice clears the invoice link of every job inside tx.
	RemoveFromInvoice(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *Job) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Job, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, forUpdate bool) ([]Job, error)
	List(ctx context.Context, db *gorm.DB, req ListJobsRequest) ([]*Job, error)
	Save(ctx context.Context, db *gorm.DB, job *Job) error
	LinkToInvoice(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) (int64, error)
	Unlink(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error
	SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

var (
	ErrNotFound          = apperr.NotFound("job_not_found", "job not found")
	ErrCustomerNotFound  = apperr.NotFound("customer_not_found", "customer not found")
	ErrInvalidTitle      = apperr.Validation("invalid_title", "job title is required").WithField("title")
	ErrInvalidPrice      = apperr.Validation("invalid_price", "job price must not be negative").WithField("price")
	ErrInvalidStatus     = apperr.Validation("invalid_status", "unknown job status").WithField("status")
	ErrInvalidDates      = apperr.Validation("invalid_dates", "end date is before start date").WithField("end_date")
	ErrLockedByInvoice   = apperr.Validation("job_locked_by_invoice", "an invoiced job only allows status and date changes")
	ErrLinkedToInvoice   = apperr.Validation("job_linked_to_invoice", "job is linked to an invoice")
	ErrNotEligible       = apperr.Validation("job_not_eligible", "job must be completed and not yet invoiced")
	ErrInvalidTransition = apperr.InvalidState("invalid_job_transition", "job status transition is not allowed")
)
