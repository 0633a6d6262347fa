package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldbill/internal/job/domain"
	"github.com/smallbiznis/fieldbill/pkg/db/option"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Job, error) {
	var job domain.Job
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindByIDs locks rows in id order so concurrent batches cannot deadlock.
func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, forUpdate bool) ([]domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var jobs []domain.Job
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Where("id IN ?", ids).Order("id asc").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListJobsRequest) ([]*domain.Job, error) {
	var jobs []*domain.Job
	stmt := db.WithContext(ctx).Model(&domain.Job{})
	if req.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *req.CustomerID)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	if req.Invoiced != nil {
		stmt = option.WithNull("invoice_id", !*req.Invoiced).Apply(stmt)
	}
	stmt = option.ApplyPagination(pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  req.PageSize,
	}).Apply(stmt)

	if err := stmt.Order("created_at desc, id desc").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"title":       job.Title,
			"job_type":    job.JobType,
			"address":     job.Address,
			"description": job.Description,
			"status":      job.Status,
			"price":       job.Price,
			"start_date":  job.StartDate,
			"end_date":    job.EndDate,
			"updated_at":  job.UpdatedAt,
		}).Error
}

// LinkToInvoice is a compare-and-swap: only completed, unlinked rows change.
// The caller compares the affected count with the batch size.
func (r *repo) LinkToInvoice(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id IN ?", ids).
		Where("invoice_id IS NULL AND status = ?", domain.StatusCompleted).
		Updates(map[string]any{
			"invoice_id":    invoiceID,
			"invoiced_date": at,
			"updated_at":    at,
		})
	return result.RowsAffected, result.Error
}

func (r *repo) Unlink(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"invoice_id":    nil,
			"invoiced_date": nil,
			"updated_at":    at,
		}).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Job{}).Error
}
