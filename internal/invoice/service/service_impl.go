package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/fieldbill/internal/audit/domain"
	"github.com/smallbiznis/fieldbill/internal/clock"
	"github.com/smallbiznis/fieldbill/internal/config"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	"github.com/smallbiznis/fieldbill/internal/guard"
	"github.com/smallbiznis/fieldbill/internal/invoice/domain"
	jobdomain "github.com/smallbiznis/fieldbill/internal/job/domain"
	"github.com/smallbiznis/fieldbill/internal/lock"
	"github.com/smallbiznis/fieldbill/internal/money"
	obslogger "github.com/smallbiznis/fieldbill/internal/observability/logger"
	"github.com/smallbiznis/fieldbill/internal/observability/metrics"
	"github.com/smallbiznis/fieldbill/internal/observability/tracing"
	"github.com/smallbiznis/fieldbill/internal/providers/email"
	"github.com/smallbiznis/fieldbill/internal/providers/pdf"
	"github.com/smallbiznis/fieldbill/internal/render"
	"github.com/smallbiznis/fieldbill/internal/sequence"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPageSize = 50

// errNumberTaken marks an attempt that lost the invoice number to another
// transaction; the whole attempt is retried.
var errNumberTaken = errors.New("invoice number already taken")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	JobSvc       jobdomain.Service
	CustomerRepo customerdomain.Repository
	Allocator    *sequence.Allocator
	Billing      *config.BillingConfigHolder
	PDF          pdf.Provider
	Email        email.Provider
	Renderer     render.Renderer
	Locker       *lock.Locker        `optional:"true"`
	Metrics      *metrics.Metrics    `optional:"true"`
	AuditSvc     auditdomain.Service `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	jobSvc       jobdomain.Service
	customerRepo customerdomain.Repository
	allocator    *sequence.Allocator
	billing      *config.BillingConfigHolder
	pdf          pdf.Provider
	email        email.Provider
	renderer     render.Renderer
	locker       *lock.Locker
	metrics      *metrics.Metrics
	auditSvc     auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("invoice.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		jobSvc:       p.JobSvc,
		customerRepo: p.CustomerRepo,
		allocator:    p.Allocator,
		billing:      p.Billing,
		pdf:          p.PDF,
		email:        p.Email,
		renderer:     p.Renderer,
		locker:       p.Locker,
		metrics:      p.Metrics,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateInvoiceRequest) (invoice domain.Invoice, err error) {
	ctx, span := tracing.Start(ctx, "invoice.create",
		attribute.String("customer_id", req.CustomerID.String()),
		attribute.Int("job_count", len(req.JobIDs)),
	)
	defer func() { tracing.End(span, err) }()

	jobIDs := uniqueIDs(req.JobIDs)
	if len(jobIDs) == 0 {
		return domain.Invoice{}, domain.ErrNoJobs
	}

	cfg := s.billing.Get()
	rate := req.VATRate.OrElse(cfg.VATRate())
	if !money.ValidRate(rate) {
		return domain.Invoice{}, domain.ErrInvalidVATRate
	}
	terms := req.PaymentTermsDays.OrElse(cfg.DefaultPaymentTermsDays)
	if terms < 0 {
		return domain.Invoice{}, domain.ErrInvalidTerms
	}
	notes := strings.TrimSpace(req.Notes)

	err = s.withCustomerLock(ctx, req.CustomerID, func() error {
		var createErr error
		invoice, createErr = s.createWithRetry(ctx, cfg.NumberingMaxAttempts, func() (domain.Invoice, error) {
			return s.createOnce(ctx, req.CustomerID, jobIDs, rate, terms, notes)
		})
		return createErr
	})
	if err != nil {
		return domain.Invoice{}, s.translate(ctx, err, "create")
	}

	s.metrics.RecordInvoiceCreated(ctx, invoice.Total.InexactFloat64())
	s.emitAudit(ctx, "invoice.created", &invoice, map[string]any{"job_ids": idStrings(invoice.JobIDs())})
	return s.present(invoice), nil
}

// createWithRetry repeats attempt while it loses the number race, up to
// maxAttempts times.
func (s *Service) createWithRetry(ctx context.Context, maxAttempts int, attempt func() (domain.Invoice, error)) (domain.Invoice, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for n := 1; ; n++ {
		invoice, err := attempt()
		if !errors.Is(err, errNumberTaken) {
			return invoice, err
		}
		s.metrics.RecordNumberConflict(ctx, sequence.KindInvoice.Name)
		obslogger.WithContext(ctx, s.log).Warn("invoice number conflict",
			zap.Int("attempt", n),
			zap.Int("max_attempts", maxAttempts),
		)
		if n >= maxAttempts {
			return domain.Invoice{}, domain.ErrNumberConflict.
				WithReason("invoice number still taken after %d attempts", maxAttempts)
		}
	}
}

func (s *Service) createOnce(ctx context.Context, customerID snowflake.ID, jobIDs []snowflake.ID, rate decimal.Decimal, terms int, notes string) (domain.Invoice, error) {
	var created domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customerRepo.FindByID(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return domain.ErrCustomerNotFound.WithEntities(customerID.String())
		}

		now := s.clock.Now().UTC()
		invoice := domain.Invoice{
			ID:               s.genID.Generate(),
			CustomerID:       customerID,
			VATRate:          rate,
			Status:           domain.StatusDraft,
			PaymentTermsDays: terms,
			IssueDate:        now,
			DueDate:          now.AddDate(0, 0, terms),
			Notes:            notes,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		items, err := s.linkJobs(ctx, tx, &invoice, jobIDs, now, func() error {
			number, err := s.allocator.Next(ctx, tx, sequence.KindInvoice, now)
			if err != nil {
				return err
			}
			invoice.InvoiceNumber = number
			if err := s.repo.Insert(ctx, tx, &invoice); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return errNumberTaken
				}
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}

		invoice.LineItems = items
		created = invoice
		return nil
	})
	return created, err
}

// linkJobs validates and locks the jobs, builds their line items, runs
// persist once the invoice header is complete, then stores the items and
// links the jobs. Totals on invoice are recomputed from the new items.
func (s *Service) linkJobs(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, jobIDs []snowflake.ID, now time.Time, persist func() error) ([]domain.LineItem, error) {
	jobs, err := s.jobSvc.LoadForInvoicing(ctx, tx, jobIDs)
	if err != nil {
		return nil, err
	}
	if err := guard.JobsEligibleForInvoicing(jobIDs, jobs, invoice.CustomerID); err != nil {
		return nil, err
	}

	items := s.buildLineItems(invoice.ID, jobs, now)
	applyTotals(invoice, items)

	if err := persist(); err != nil {
		return nil, err
	}
	if err := s.repo.InsertLineItems(ctx, tx, items); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, jobdomain.ErrNotEligible.WithEntities(idStrings(jobIDs)...).
				WithReason("jobs were invoiced concurrently")
		}
		return nil, err
	}
	if err := s.jobSvc.MarkInvoiced(ctx, tx, jobIDs, invoice.ID, now); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) buildLineItems(invoiceID snowflake.ID, jobs []jobdomain.Job, now time.Time) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(jobs))
	for _, job := range jobs {
		price := money.Round(job.Price)
		items = append(items, domain.LineItem{
			ID:          s.genID.Generate(),
			InvoiceID:   invoiceID,
			JobID:       job.ID,
			Description: job.LineDescription(),
			Quantity:    1,
			UnitPrice:   price,
			LineTotal:   price,
			CreatedAt:   now,
		})
	}
	return items
}

func applyTotals(invoice *domain.Invoice, items []domain.LineItem) {
	lines := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.LineTotal)
	}
	totals := money.Totals(lines, invoice.VATRate)
	invoice.Subtotal = totals.Subtotal
	invoice.VATAmount = totals.VATAmount
	invoice.Total = totals.Total
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	invoice, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return domain.Invoice{}, s.translate(ctx, err, "get")
	}
	return s.present(*invoice), nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListInvoiceResponse{}, domain.ErrInvalidStatus.
			WithReason("unknown invoice status %q", req.Status)
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	items, err := s.repo.List(ctx, s.db, req, s.clock.Now())
	if err != nil {
		return domain.ListInvoiceResponse{}, s.translate(ctx, err, "list")
	}

	items, pageInfo := pagination.Trim(items, req.PageSize, func(inv *domain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: inv.ID.String(), CreatedAt: inv.CreatedAt.Format(time.RFC3339Nano)}
	})

	invoices := make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		if item != nil {
			invoices = append(invoices, s.present(*item))
		}
	}
	return domain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

// Update patches a draft. Zero VAT, zero terms and blank notes leave the
// stored values untouched.
func (s *Service) Update(ctx context.Context, req domain.UpdateInvoiceRequest) (domain.Invoice, error) {
	var (
		updated  domain.Invoice
		previous []snowflake.ID
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.load(ctx, tx, req.ID, true)
		if err != nil {
			return err
		}
		if err := guard.InvoiceMutable(*invoice); err != nil {
			return err
		}
		now := s.clock.Now().UTC()

		if rate, ok := req.VATRate.Get(); ok && rate.IsPositive() {
			if !money.ValidRate(rate) {
				return domain.ErrInvalidVATRate
			}
			invoice.VATRate = rate
		}
		if terms, ok := req.PaymentTermsDays.Get(); ok && terms > 0 {
			invoice.PaymentTermsDays = terms
			invoice.DueDate = invoice.IssueDate.AddDate(0, 0, terms)
		}
		if notes, ok := req.Notes.Get(); ok && strings.TrimSpace(notes) != "" {
			invoice.Notes = strings.TrimSpace(notes)
		}

		if ids, ok := req.JobIDs.Get(); ok {
			ids = uniqueIDs(ids)
			if len(ids) == 0 {
				return domain.ErrNoJobs
			}
			previous = invoice.JobIDs()
			if err := s.jobSvc.RemoveFromInvoice(ctx, tx, previous); err != nil {
				return err
			}
			if err := s.repo.SoftDeleteLineItems(ctx, tx, invoice.ID); err != nil {
				return err
			}
			items, err := s.linkJobs(ctx, tx, invoice, ids, now, func() error { return nil })
			if err != nil {
				return err
			}
			invoice.LineItems = items
		}

		applyTotals(invoice, invoice.LineItems)
		invoice.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, invoice); err != nil {
			return err
		}
		updated = *invoice
		return nil
	})
	if err != nil {
		return domain.Invoice{}, s.translate(ctx, err, "update")
	}

	var extra map[string]any
	if previous != nil {
		extra = map[string]any{
			"previous_job_ids": idStrings(previous),
			"job_ids":          idStrings(updated.JobIDs()),
		}
	}
	s.emitAudit(ctx, "invoice.updated", &updated, extra)
	return s.present(updated), nil
}

// Delete removes a draft together with its line items and releases its jobs.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	var deleted domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := guard.InvoiceDeletable(*invoice); err != nil {
			return err
		}
		if err := s.jobSvc.RemoveFromInvoice(ctx, tx, invoice.JobIDs()); err != nil {
			return err
		}
		deleted = *invoice
		return s.repo.SoftDelete(ctx, tx, id)
	})
	if err != nil {
		return s.translate(ctx, err, "delete")
	}

	s.emitAudit(ctx, "invoice.deleted", &deleted, map[string]any{"job_ids": idStrings(deleted.JobIDs())})
	return nil
}

func (s *Service) MarkAsSent(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	return s.transition(ctx, id, "invoice.sent", func(invoice *domain.Invoice, now time.Time) error {
		if err := guard.InvoiceSendable(*invoice); err != nil {
			return err
		}
		invoice.Status = domain.StatusSent
		invoice.SentDate = &now
		return nil
	})
}

func (s *Service) MarkAsDelivered(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	return s.transition(ctx, id, "invoice.delivered", func(invoice *domain.Invoice, now time.Time) error {
		if err := guard.InvoiceDeliverable(*invoice); err != nil {
			return err
		}
		invoice.Status = domain.StatusDelivered
		invoice.DeliveredDate = &now
		return nil
	})
}

// MarkAsPaid records full payment. A zero payment date means today.
func (s *Service) MarkAsPaid(ctx context.Context, req domain.MarkAsPaidRequest) (domain.Invoice, error) {
	return s.transition(ctx, req.ID, "invoice.paid", func(invoice *domain.Invoice, now time.Time) error {
		paid := req.PaymentDate.UTC()
		if req.PaymentDate.IsZero() {
			paid = now
		}
		if err := guard.InvoicePayable(*invoice, paid, now); err != nil {
			return err
		}
		invoice.Status = domain.StatusPaid
		invoice.PaymentDate = &paid
		invoice.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
		invoice.PaymentReference = strings.TrimSpace(req.PaymentReference)
		return nil
	})
}

// Cancel voids an unpaid invoice. Its jobs stay linked.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	return s.transition(ctx, id, "invoice.cancelled", func(invoice *domain.Invoice, now time.Time) error {
		if err := guard.InvoiceCancellable(*invoice); err != nil {
			return err
		}
		if invoice.Status == domain.StatusCancelled {
			return domain.ErrInvalidTransition.WithEntities(invoice.ID.String()).
				WithReason("invoice is already cancelled")
		}
		invoice.Status = domain.StatusCancelled
		invoice.CancelledDate = &now
		return nil
	})
}

// transition applies mutate to the locked invoice and persists it when the
// stored status changed. Every status edge is checked against the table.
func (s *Service) transition(ctx context.Context, id snowflake.ID, action string, mutate func(*domain.Invoice, time.Time) error) (domain.Invoice, error) {
	var (
		updated domain.Invoice
		from    domain.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		from = invoice.Status

		now := s.clock.Now().UTC()
		if err := mutate(invoice, now); err != nil {
			return err
		}
		if invoice.Status == from {
			updated = *invoice
			return nil
		}
		if err := guard.InvoiceTransition(from, invoice.Status); err != nil {
			return err
		}

		invoice.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, invoice); err != nil {
			return err
		}
		updated = *invoice
		return nil
	})
	if err != nil {
		return domain.Invoice{}, s.translate(ctx, err, action)
	}

	if updated.Status != from {
		s.metrics.RecordInvoiceStatus(ctx, string(from), string(updated.Status))
		s.emitAudit(ctx, action, &updated, map[string]any{"from_status": string(from)})
	}
	return s.present(updated), nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, tx, id, forUpdate)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound.WithEntities(id.String())
	}
	return invoice, nil
}

// present returns the caller view, with OVERDUE derived from the clock.
func (s *Service) present(invoice domain.Invoice) domain.Invoice {
	invoice.Status = invoice.EffectiveStatus(s.clock.Now())
	return invoice
}

func (s *Service) withCustomerLock(ctx context.Context, customerID snowflake.ID, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	return s.locker.With(ctx, "invoice:customer:"+customerID.String(), fn)
}

func (s *Service) translate(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	obslogger.WithContext(ctx, s.log).Error("invoice operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Unexpected(err)
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *domain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"customer_id":    invoice.CustomerID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"status":         string(invoice.Status),
		"total":          invoice.Total.StringFixed(2),
	}
	for key, value := range extra {
		metadata[key] = value
	}
	if err := s.auditSvc.AuditLog(ctx, action, "invoice", invoice.ID.String(), metadata); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
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
