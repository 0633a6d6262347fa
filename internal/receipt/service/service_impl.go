package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/fieldbill/internal/audit/domain"
	"github.com/smallbiznis/fieldbill/internal/clock"
	"github.com/smallbiznis/fieldbill/internal/config"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	"github.com/smallbiznis/fieldbill/internal/guard"
	invoicedomain "github.com/smallbiznis/fieldbill/internal/invoice/domain"
	"github.com/smallbiznis/fieldbill/internal/lock"
	"github.com/smallbiznis/fieldbill/internal/money"
	obslogger "github.com/smallbiznis/fieldbill/internal/observability/logger"
	"github.com/smallbiznis/fieldbill/internal/observability/metrics"
	"github.com/smallbiznis/fieldbill/internal/observability/tracing"
	"github.com/smallbiznis/fieldbill/internal/providers/email"
	"github.com/smallbiznis/fieldbill/internal/providers/pdf"
	"github.com/smallbiznis/fieldbill/internal/receipt/domain"
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

var errNumberTaken = errors.New("receipt number already taken")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	InvoiceRepo  invoicedomain.Repository
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
	invoiceRepo  invoicedomain.Repository
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
		log:          p.Log.Named("receipt.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		invoiceRepo:  p.InvoiceRepo,
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

// Create issues one receipt covering the full total of every listed paid
// invoice.
func (s *Service) Create(ctx context.Context, req domain.CreateReceiptRequest) (receipt domain.Receipt, err error) {
	ctx, span := tracing.Start(ctx, "receipt.create",
		attribute.String("customer_id", req.CustomerID.String()),
		attribute.Int("invoice_count", len(req.InvoiceIDs)),
	)
	defer func() { tracing.End(span, err) }()

	invoiceIDs := uniqueIDs(req.InvoiceIDs)
	if len(invoiceIDs) == 0 {
		return domain.Receipt{}, domain.ErrNoInvoices
	}

	maxAttempts := s.billing.Get().NumberingMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	err = s.withCustomerLock(ctx, req.CustomerID, func() error {
		for attempt := 1; ; attempt++ {
			var createErr error
			receipt, createErr = s.createOnce(ctx, req.CustomerID, invoiceIDs)
			if !errors.Is(createErr, errNumberTaken) {
				return createErr
			}
			s.metrics.RecordNumberConflict(ctx, sequence.KindReceipt.Name)
			obslogger.WithContext(ctx, s.log).Warn("receipt number conflict", zap.Int("attempt", attempt))
			if attempt >= maxAttempts {
				return domain.ErrNumberConflict.
					WithReason("receipt number still taken after %d attempts", maxAttempts)
			}
		}
	})
	if err != nil {
		return domain.Receipt{}, s.translate(ctx, err, "create")
	}

	s.metrics.RecordReceiptCreated(ctx)
	s.emitAudit(ctx, "receipt.created", &receipt, map[string]any{"invoice_ids": idStrings(invoiceIDs)})
	return receipt, nil
}

func (s *Service) createOnce(ctx context.Context, customerID snowflake.ID, invoiceIDs []snowflake.ID) (domain.Receipt, error) {
	var created domain.Receipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customerRepo.FindByID(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return domain.ErrCustomerNotFound.WithEntities(customerID.String())
		}

		invoices, err := s.invoiceRepo.FindByIDs(ctx, tx, invoiceIDs, true)
		if err != nil {
			return err
		}
		if missing := missingIDs(invoiceIDs, invoices); len(missing) > 0 {
			return domain.ErrInvoiceNotFound.WithEntities(idStrings(missing)...)
		}
		allocated, err := s.repo.AllocatedByInvoice(ctx, tx, invoiceIDs)
		if err != nil {
			return err
		}
		for _, invoice := range invoices {
			if err := guard.ReceiptEligibleInvoice(invoice, customerID, allocated[invoice.ID]); err != nil {
				return err
			}
		}

		now := s.clock.Now().UTC()
		number, err := s.allocator.Next(ctx, tx, sequence.KindReceipt, now)
		if err != nil {
			return err
		}

		receipt := domain.Receipt{
			ID:            s.genID.Generate(),
			CustomerID:    customerID,
			ReceiptNumber: number,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		amounts := make([]decimal.Decimal, 0, len(invoices))
		allocations := make([]domain.Allocation, 0, len(invoices))
		for _, invoice := range invoices {
			amounts = append(amounts, invoice.Total)
			allocations = append(allocations, domain.Allocation{
				ID:              s.genID.Generate(),
				ReceiptID:       receipt.ID,
				InvoiceID:       invoice.ID,
				AllocatedAmount: money.Round(invoice.Total),
				CreatedAt:       now,
			})
		}
		receipt.TotalAmount = money.Sum(amounts...)

		if err := s.repo.Insert(ctx, tx, &receipt); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errNumberTaken
			}
			return err
		}
		if err := s.repo.InsertAllocations(ctx, tx, allocations); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrOverAllocated.WithEntities(idStrings(invoiceIDs)...).
					WithReason("invoices were receipted concurrently")
			}
			return err
		}

		receipt.Allocations = allocations
		created = receipt
		return nil
	})
	return created, err
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Receipt, error) {
	receipt, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return domain.Receipt{}, s.translate(ctx, err, "get")
	}
	return *receipt, nil
}

func (s *Service) List(ctx context.Context, req domain.ListReceiptsRequest) (domain.ListReceiptsResponse, error) {
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	items, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return domain.ListReceiptsResponse{}, s.translate(ctx, err, "list")
	}

	items, pageInfo := pagination.Trim(items, req.PageSize, func(r *domain.Receipt) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String(), CreatedAt: r.CreatedAt.Format(time.RFC3339Nano)}
	})

	receipts := make([]domain.Receipt, 0, len(items))
	for _, item := range items {
		if item != nil {
			receipts = append(receipts, *item)
		}
	}
	return domain.ListReceiptsResponse{PageInfo: pageInfo, Receipts: receipts}, nil
}

// Delete removes the receipt and its allocations. The invoices keep their
// PAID status and become available for a new receipt.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	var deleted domain.Receipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		receipt, err := s.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		deleted = *receipt
		return s.repo.SoftDelete(ctx, tx, id)
	})
	if err != nil {
		return s.translate(ctx, err, "delete")
	}

	s.emitAudit(ctx, "receipt.deleted", &deleted, nil)
	return nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Receipt, error) {
	receipt, err := s.repo.FindByID(ctx, tx, id, forUpdate)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, domain.ErrReceiptNotFound.WithEntities(id.String())
	}
	return receipt, nil
}

func (s *Service) withCustomerLock(ctx context.Context, customerID snowflake.ID, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	return s.locker.With(ctx, "receipt:customer:"+customerID.String(), fn)
}

func (s *Service) translate(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	obslogger.WithContext(ctx, s.log).Error("receipt operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Unexpected(err)
}

func (s *Service) emitAudit(ctx context.Context, action string, receipt *domain.Receipt, extra map[string]any) {
	if s.auditSvc == nil || receipt == nil {
		return
	}
	metadata := map[string]any{
		"customer_id":    receipt.CustomerID.String(),
		"receipt_number": receipt.ReceiptNumber,
		"total_amount":   receipt.TotalAmount.StringFixed(2),
	}
	for key, value := range extra {
		metadata[key] = value
	}
	if err := s.auditSvc.AuditLog(ctx, action, "receipt", receipt.ID.String(), metadata); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func missingIDs(requested []snowflake.ID, found []invoicedomain.Invoice) []snowflake.ID {
	present := make(map[snowflake.ID]struct{}, len(found))
	for _, invoice := range found {
		present[invoice.ID] = struct{}{}
	}
	var missing []snowflake.ID
	for _, id := range requested {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
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
