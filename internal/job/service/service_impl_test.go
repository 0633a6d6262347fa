package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/fieldbill/internal/audit/domain"
	auditrepo "github.com/smallbiznis/fieldbill/internal/audit/repository"
	auditservice "github.com/smallbiznis/fieldbill/internal/audit/service"
	"github.com/smallbiznis/fieldbill/internal/clock"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	customerrepo "github.com/smallbiznis/fieldbill/internal/customer/repository"
	"github.com/smallbiznis/fieldbill/internal/job/domain"
	"github.com/smallbiznis/fieldbill/internal/job/repository"
	"github.com/smallbiznis/fieldbill/internal/migration"
	"github.com/smallbiznis/fieldbill/internal/principal"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db/dbtest"
	"github.com/smallbiznis/fieldbill/pkg/optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var day1 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	node     *snowflake.Node
	svc      domain.Service
	audit    auditdomain.Service
	customer customerdomain.Customer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, migration.AutoMigrate)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(day1)

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
	})

	customer := customerdomain.Customer{
		ID:        node.Generate(),
		Name:      "Acme Plumbing",
		Email:     "office@acme.test",
		CreatedAt: day1,
		UpdatedAt: day1,
	}
	require.NoError(t, db.Create(&customer).Error)

	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        fc,
		Repo:         repository.Provide(),
		CustomerRepo: customerrepo.Provide(),
		AuditSvc:     audit,
	})
	return &fixture{db: db, clock: fc, node: node, svc: svc, audit: audit, customer: customer}
}

func (f *fixture) createJob(t *testing.T, status domain.Status, price string) domain.Job {
	t.Helper()
	job, err := f.svc.Create(context.Background(), domain.CreateJobRequest{
		CustomerID: f.customer.ID,
		Title:      "Replace boiler",
		JobType:    "Heating",
		Address:    "1 Main St",
		Price:      decimal.RequireFromString(price),
		StartDate:  day1,
		Status:     status,
	})
	require.NoError(t, err)
	return job
}

func TestCreateDefaultsToNew(t *testing.T) {
	f := setup(t)
	ctx := principal.WithID(context.Background(), "dispatcher-7")

	job, err := f.svc.Create(ctx, domain.CreateJobRequest{
		CustomerID: f.customer.ID,
		Title:      "  Fix leak ",
		Price:      decimal.RequireFromString("80.005"),
		StartDate:  day1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, job.Status)
	assert.Equal(t, "Fix leak", job.Title)
	assert.Equal(t, "80.01", job.Price.StringFixed(2))
	assert.Nil(t, job.EndDate)
	assert.Nil(t, job.InvoiceID)

	logs, err := f.audit.List(context.Background(), auditdomain.ListAuditLogRequest{TargetID: job.ID.String()})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "job.created", logs[0].Action)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, "dispatcher-7", *logs[0].ActorID)
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreateJobRequest{CustomerID: f.node.Generate(), Title: "x", StartDate: day1})
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	_, err = f.svc.Create(ctx, domain.CreateJobRequest{CustomerID: f.customer.ID, Title: " ", StartDate: day1})
	assert.ErrorIs(t, err, domain.ErrInvalidTitle)

	_, err = f.svc.Create(ctx, domain.CreateJobRequest{
		CustomerID: f.customer.ID, Title: "x", StartDate: day1, Price: decimal.NewFromInt(-1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = f.svc.Create(ctx, domain.CreateJobRequest{
		CustomerID: f.customer.ID, Title: "x", StartDate: day1, Status: "DONE",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateCompletedAssignsEndDate(t *testing.T) {
	f := setup(t)
	job := f.createJob(t, domain.StatusCompleted, "100.00")
	require.NotNil(t, job.EndDate)
	assert.True(t, job.EndDate.Equal(day1))
}

func TestUpdateStatusFollowsTransitionTable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	job := f.createJob(t, domain.StatusNew, "100.00")

	_, err := f.svc.UpdateStatus(ctx, domain.UpdateStatusRequest{ID: job.ID, Status: domain.StatusCompleted})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	job, err = f.svc.UpdateStatus(ctx, domain.UpdateStatusRequest{ID: job.ID, Status: domain.StatusActive})
	require.NoError(t, err)
	assert.Nil(t, job.EndDate)

	end := day1.Add(48 * time.Hour)
	job, err = f.svc.UpdateStatus(ctx, domain.UpdateStatusRequest{ID: job.ID, Status: domain.StatusCompleted, EndDate: &end})
	require.NoError(t, err)
	require.NotNil(t, job.EndDate)
	assert.True(t, job.EndDate.Equal(end))

	// Reopening clears the end date.
	job, err = f.svc.UpdateStatus(ctx, domain.UpdateStatusRequest{ID: job.ID, Status: domain.StatusActive})
	require.NoError(t, err)
	assert.Nil(t, job.EndDate)

	job, err = f.svc.UpdateStatus(ctx, domain.UpdateStatusRequest{ID: job.ID, Status: domain.StatusCancelled})
	require.NoError(t, err)
	job, err = f.svc.UpdateStatus(ctx, domain.UpdateStatusRequest{ID: job.ID, Status: domain.StatusNew})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, job.Status)

	stored, err := f.svc.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, stored.Status)
}

func TestUpdateStatusRejectsEndBeforeStart(t *testing.T) {
	f := setup(t)
	job := f.createJob(t, domain.StatusActive, "10.00")

	end := day1.AddDate(0, 0, -2)
	_, err := f.svc.UpdateStatus(context.Background(), domain.UpdateStatusRequest{ID: job.ID, Status: domain.StatusCompleted, EndDate: &end})
	assert.ErrorIs(t, err, domain.ErrInvalidDates)
}

func TestUpdatePatchesOnlyPresentFields(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	job := f.createJob(t, domain.StatusNew, "100.00")

	updated, err := f.svc.Update(ctx, domain.UpdateJobRequest{
		ID:    job.ID,
		Price: optional.Some(decimal.RequireFromString("120")),
	})
	require.NoError(t, err)
	assert.Equal(t, "120.00", updated.Price.StringFixed(2))
	assert.Equal(t, job.Title, updated.Title)
	assert.Equal(t, job.Address, updated.Address)

	updated, err = f.svc.Update(ctx, domain.UpdateJobRequest{
		ID:     job.ID,
		Status: optional.Some(domain.StatusActive),
		Title:  optional.Some("Service boiler"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, updated.Status)
	assert.Equal(t, "Service boiler", updated.Title)

	_, err = f.svc.Update(ctx, domain.UpdateJobRequest{ID: job.ID, Title: optional.Some("   ")})
	require.ErrorIs(t, err, domain.ErrInvalidTitle)

	updated, err = f.svc.Update(ctx, domain.UpdateJobRequest{
		ID:      job.ID,
		Address: optional.Some("  "),
		JobType: optional.Some(" Plumbing "),
	})
	require.NoError(t, err)
	assert.Empty(t, updated.Address)
	assert.Equal(t, "Plumbing", updated.JobType)
	assert.Equal(t, "Service boiler", updated.Title)
}

func TestInvoicedJobOnlyAcceptsStatusAndDates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	job := f.createJob(t, domain.StatusCompleted, "100.00")
	invoiceID := f.node.Generate()

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.MarkInvoiced(ctx, tx, []snowflake.ID{job.ID}, invoiceID, day1)
	}))

	_, err := f.svc.Update(ctx, domain.UpdateJobRequest{ID: job.ID, Price: optional.Some(decimal.NewFromInt(1))})
	require.ErrorIs(t, err, domain.ErrLockedByInvoice)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)

	// Unchanged values are not edits.
	_, err = f.svc.Update(ctx, domain.UpdateJobRequest{ID: job.ID, Title: optional.Some(job.Title)})
	require.NoError(t, err)

	end := day1.Add(time.Hour)
	updated, err := f.svc.Update(ctx, domain.UpdateJobRequest{ID: job.ID, EndDate: optional.Some(&end)})
	require.NoError(t, err)
	assert.True(t, updated.EndDate.Equal(end))
	assert.Equal(t, invoiceID, *updated.InvoiceID)

	err = f.svc.Delete(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrLinkedToInvoice)
}

func TestMarkInvoicedRequiresEveryJobEligible(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	done := f.createJob(t, domain.StatusCompleted, "100.00")
	open := f.createJob(t, domain.StatusActive, "50.00")
	missing := f.node.Generate()

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.MarkInvoiced(ctx, tx, []snowflake.ID{done.ID, open.ID, missing}, f.node.Generate(), day1)
	})
	require.ErrorIs(t, err, domain.ErrNotEligible)
	appErr, _ := apperr.As(err)
	assert.ElementsMatch(t, []string{open.ID.String(), missing.String()}, appErr.EntityIDs)

	stored, err := f.svc.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.InvoiceID)
}

func TestMarkInvoicedTwiceFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	job := f.createJob(t, domain.StatusCompleted, "100.00")

	first := f.node.Generate()
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.MarkInvoiced(ctx, tx, []snowflake.ID{job.ID}, first, day1)
	}))

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.MarkInvoiced(ctx, tx, []snowflake.ID{job.ID}, f.node.Generate(), day1)
	})
	require.ErrorIs(t, err, domain.ErrNotEligible)

	stored, err := f.svc.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *stored.InvoiceID)
	require.NotNil(t, stored.InvoicedDate)
}

func TestRemoveFromInvoiceClearsLink(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	job := f.createJob(t, domain.StatusCompleted, "100.00")

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		if err := f.svc.MarkInvoiced(ctx, tx, []snowflake.ID{job.ID}, f.node.Generate(), day1); err != nil {
			return err
		}
		return f.svc.RemoveFromInvoice(ctx, tx, []snowflake.ID{job.ID})
	}))

	stored, err := f.svc.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.InvoiceID)
	assert.Nil(t, stored.InvoicedDate)

	require.NoError(t, f.svc.Delete(ctx, job.ID))
	_, err = f.svc.GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListFiltersAndPages(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.createJob(t, domain.StatusCompleted, "10.00").ID)
		f.clock.Advance(time.Minute)
	}
	f.createJob(t, domain.StatusNew, "10.00")

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.MarkInvoiced(ctx, tx, ids[:1], f.node.Generate(), day1)
	}))

	uninvoiced := false
	resp, err := f.svc.List(ctx, domain.ListJobsRequest{Status: domain.StatusCompleted, Invoiced: &uninvoiced})
	require.NoError(t, err)
	assert.Len(t, resp.Jobs, 2)
	assert.False(t, resp.HasMore)

	page, err := f.svc.List(ctx, domain.ListJobsRequest{CustomerID: &f.customer.ID, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 3)
	require.True(t, page.HasMore)

	next, err := f.svc.List(ctx, domain.ListJobsRequest{CustomerID: &f.customer.ID, PageSize: 3, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Jobs, 1)
	assert.Equal(t, ids[0], next.Jobs[0].ID)
}

func TestDeleteLinkedJobFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	job := f.createJob(t, domain.StatusCompleted, "100.00")

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.MarkInvoiced(ctx, tx, []snowflake.ID{job.ID}, f.node.Generate(), day1)
	}))

	err := f.svc.Delete(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrLinkedToInvoice)

	_, err = f.svc.GetByID(ctx, job.ID)
	assert.NoError(t, err)
}
