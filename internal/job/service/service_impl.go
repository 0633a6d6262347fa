package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldbill/internal/audit/domain"
	"github.com/smallbiznis/fieldbill/internal/clock"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	"github.com/smallbiznis/fieldbill/internal/guard"
	"github.com/smallbiznis/fieldbill/internal/job/domain"
	"github.com/smallbiznis/fieldbill/internal/money"
	obslogger "github.com/smallbiznis/fieldbill/internal/observability/logger"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPageSize = 50

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	CustomerRepo customerdomain.Repository
	AuditSvc     auditdomain.Service `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	customerRepo customerdomain.Repository
	auditSvc     auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("job.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateJobRequest) (domain.Job, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Job{}, domain.ErrInvalidTitle
	}
	if req.Price.IsNegative() {
		return domain.Job{}, domain.ErrInvalidPrice
	}
	status := req.Status
	if status == "" {
		status = domain.StatusNew
	}
	if !status.Valid() {
		return domain.Job{}, domain.ErrInvalidStatus.WithReason("unknown job status %q", status)
	}

	now := s.clock.Now()
	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = now
	}
	job := domain.Job{
		ID:          s.genID.Generate(),
		CustomerID:  req.CustomerID,
		Title:       title,
		JobType:     strings.TrimSpace(req.JobType),
		Address:     strings.TrimSpace(req.Address),
		Description: strings.TrimSpace(req.Description),
		Status:      status,
		Price:       money.Round(req.Price),
		StartDate:   startDate.UTC(),
		EndDate:     utcPtr(req.EndDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.applyCompletion(&job, now)
	if err := validateDates(job); err != nil {
		return domain.Job{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customerRepo.FindByID(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return domain.ErrCustomerNotFound.WithEntities(req.CustomerID.String())
		}
		return s.repo.Insert(ctx, tx, &job)
	})
	if err != nil {
		return domain.Job{}, s.translate(ctx, err, "create")
	}

	s.emitAudit(ctx, "job.created", &job, nil)
	return job, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Job, error) {
	job, err := s.repo.FindByID(ctx, s.db, id, false)
	if err != nil {
		return domain.Job{}, s.translate(ctx, err, "get")
	}
	if job == nil {
		return domain.Job{}, domain.ErrNotFound.WithEntities(id.String())
	}
	return *job, nil
}

func (s *Service) List(ctx context.Context, req domain.ListJobsRequest) (domain.ListJobsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListJobsResponse{}, domain.ErrInvalidStatus.WithReason("unknown job status %q", req.Status)
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	items, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return domain.ListJobsResponse{}, s.translate(ctx, err, "list")
	}

	items, pageInfo := pagination.Trim(items, req.PageSize, func(j *domain.Job) pagination.Cursor {
		return pagination.Cursor{ID: j.ID.String(), CreatedAt: j.CreatedAt.Format(time.RFC3339Nano)}
	})

	jobs := make([]domain.Job, 0, len(items))
	for _, item := range items {
		if item != nil {
			jobs = append(jobs, *item)
		}
	}
	return domain.ListJobsResponse{PageInfo: pageInfo, Jobs: jobs}, nil
}

// Update patches a job. A job linked to an invoice only accepts status and
// date changes.
func (s *Service) Update(ctx context.Context, req domain.UpdateJobRequest) (domain.Job, error) {
	var (
		updated domain.Job
		from    domain.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.FindByID(ctx, tx, req.ID, true)
		if err != nil {
			return err
		}
		if job == nil {
			return domain.ErrNotFound.WithEntities(req.ID.String())
		}
		from = job.Status

		changed, err := applyPatch(job, req)
		if err != nil {
			return err
		}
		if err := guard.InvoiceEditableIfInvoicedJob(*job, changed); err != nil {
			return err
		}

		if status, ok := req.Status.Get(); ok {
			if err := guard.JobTransition(from, status); err != nil {
				return err
			}
			job.Status = status
		}

		now := s.clock.Now()
		s.applyCompletion(job, now)
		if err := validateDates(*job); err != nil {
			return err
		}

		job.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, job); err != nil {
			return err
		}
		updated = *job
		return nil
	})
	if err != nil {
		return domain.Job{}, s.translate(ctx, err, "update")
	}

	s.emitAudit(ctx, "job.updated", &updated, statusChange(from, updated.Status))
	return updated, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (domain.Job, error) {
	var (
		updated domain.Job
		from    domain.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.FindByID(ctx, tx, req.ID, true)
		if err != nil {
			return err
		}
		if job == nil {
			return domain.ErrNotFound.WithEntities(req.ID.String())
		}
		from = job.Status

		if err := guard.JobTransition(from, req.Status); err != nil {
			return err
		}
		job.Status = req.Status
		if req.EndDate != nil {
			job.EndDate = utcPtr(req.EndDate)
		}

		now := s.clock.Now()
		s.applyCompletion(job, now)
		if err := validateDates(*job); err != nil {
			return err
		}

		job.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, job); err != nil {
			return err
		}
		updated = *job
		return nil
	})
	if err != nil {
		return domain.Job{}, s.translate(ctx, err, "update_status")
	}

	s.emitAudit(ctx, "job.status_changed", &updated, statusChange(from, updated.Status))
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	var deleted domain.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.FindByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if job == nil {
			return domain.ErrNotFound.WithEntities(id.String())
		}
		if job.IsInvoiced() {
			return domain.ErrLinkedToInvoice.WithEntities(id.String()).
				WithReason("job is linked to invoice %s", job.InvoiceID.String())
		}
		deleted = *job
		return s.repo.SoftDelete(ctx, tx, id)
	})
	if err != nil {
		return s.translate(ctx, err, "delete")
	}

	s.emitAudit(ctx, "job.deleted", &deleted, nil)
	return nil
}

func (s *Service) LoadForInvoicing(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) ([]domain.Job, error) {
	return s.repo.FindByIDs(ctx, tx, uniqueIDs(ids), true)
}

// MarkInvoiced links the batch to invoiceID. The rows are locked and checked
// first; the update itself only touches completed, unlinked rows, so a batch
// that raced with another invoice links fewer rows than requested and fails.
func (s *Service) MarkInvoiced(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	jobs, err := s.repo.FindByIDs(ctx, tx, ids, true)
	if err != nil {
		return err
	}
	if err := guard.JobsLinkable(ids, jobs); err != nil {
		return err
	}

	affected, err := s.repo.LinkToInvoice(ctx, tx, ids, invoiceID, at.UTC())
	if err != nil {
		return err
	}
	if affected != int64(len(ids)) {
		obslogger.WithContext(ctx, s.log).Warn("job link lost a race",
			zap.String("invoice_id", invoiceID.String()),
			zap.Int("requested", len(ids)),
			zap.Int64("linked", affected),
		)
		return domain.ErrNotEligible.WithEntities(idStrings(ids)...).
			WithReason("jobs were invoiced concurrently")
	}
	return nil
}

func (s *Service) RemoveFromInvoice(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	return s.repo.Unlink(ctx, tx, uniqueIDs(ids), s.clock.Now())
}

// applyCompletion keeps the end date in step with the status: a completed job
// always has one, any other status has none.
func (s *Service) applyCompletion(job *domain.Job, now time.Time) {
	if job.Status != domain.StatusCompleted {
		job.EndDate = nil
		return
	}
	if job.EndDate == nil {
		end := now.UTC()
		job.EndDate = &end
	}
}

// applyPatch copies the present fields onto job and returns the billable
// fields whose value actually changed.
func applyPatch(job *domain.Job, req domain.UpdateJobRequest) ([]string, error) {
	var changed []string
	setText := func(field string, value *string, patch string) {
		patch = strings.TrimSpace(patch)
		if patch != *value {
			changed = append(changed, field)
			*value = patch
		}
	}

	if v, ok := req.Title.Get(); ok {
		if strings.TrimSpace(v) == "" {
			return nil, domain.ErrInvalidTitle
		}
		setText("title", &job.Title, v)
	}
	if v, ok := req.JobType.Get(); ok {
		setText("job_type", &job.JobType, v)
	}
	if v, ok := req.Address.Get(); ok {
		setText("address", &job.Address, v)
	}
	if v, ok := req.Description.Get(); ok {
		setText("description", &job.Description, v)
	}
	if v, ok := req.Price.Get(); ok {
		if v.IsNegative() {
			return nil, domain.ErrInvalidPrice
		}
		v = money.Round(v)
		if !v.Equal(job.Price) {
			changed = append(changed, "price")
			job.Price = v
		}
	}
	if v, ok := req.StartDate.Get(); ok && !v.IsZero() {
		job.StartDate = v.UTC()
	}
	if v, ok := req.EndDate.Get(); ok {
		job.EndDate = utcPtr(v)
	}
	return changed, nil
}

func validateDates(job domain.Job) error {
	if job.EndDate != nil && clock.Today(*job.EndDate).Before(clock.Today(job.StartDate)) {
		return domain.ErrInvalidDates.WithEntities(job.ID.String())
	}
	return nil
}

func (s *Service) translate(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	obslogger.WithContext(ctx, s.log).Error("job operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Unexpected(err)
}

func (s *Service) emitAudit(ctx context.Context, action string, job *domain.Job, extra map[string]any) {
	if s.auditSvc == nil || job == nil {
		return
	}
	metadata := map[string]any{
		"customer_id": job.CustomerID.String(),
		"status":      string(job.Status),
		"price":       job.Price.StringFixed(2),
	}
	if job.InvoiceID != nil {
		metadata["invoice_id"] = job.InvoiceID.String()
	}
	for key, value := range extra {
		metadata[key] = value
	}
	if err := s.auditSvc.AuditLog(ctx, action, "job", job.ID.String(), metadata); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func statusChange(from, to domain.Status) map[string]any {
	if from == to {
		return nil
	}
	return map[string]any{"from_status": string(from)}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func uniqueIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
