package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldbill/internal/clock"
	"github.com/smallbiznis/fieldbill/internal/customer/domain"
	"github.com/smallbiznis/fieldbill/internal/customer/repository"
	jobdomain "github.com/smallbiznis/fieldbill/internal/job/domain"
	"github.com/smallbiznis/fieldbill/internal/migration"
	"github.com/smallbiznis/fieldbill/internal/principal"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	db := dbtest.Open(t, migration.AutoMigrate)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(now),
		Repo:  repository.Provide(),
	})
	return svc, db, node
}

func TestCreateNormalizesEmail(t *testing.T) {
	svc, _, _ := setup(t)

	customer, err := svc.Create(context.Background(), domain.CreateCustomerRequest{
		Name:  "  Acme Plumbing ",
		Email: " Office@Acme.TEST ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", customer.Name)
	assert.Equal(t, "office@acme.test", customer.Email)
	assert.Equal(t, now, customer.CreatedAt)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := setup(t)

	tests := []struct {
		name string
		req  domain.CreateCustomerRequest
		want error
	}{
		{"blank name", domain.CreateCustomerRequest{Name: " ", Email: "a@b.test"}, domain.ErrInvalidName},
		{"missing at", domain.CreateCustomerRequest{Name: "Acme", Email: "acme.test"}, domain.ErrInvalidEmail},
		{"missing domain", domain.CreateCustomerRequest{Name: "Acme", Email: "acme@"}, domain.ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEmailUniqueAmongLiveCustomers(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.CreateCustomerRequest{Name: "Acme", Email: "office@acme.test"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, domain.CreateCustomerRequest{Name: "Acme 2", Email: "OFFICE@acme.test"})
	require.ErrorIs(t, err, domain.ErrEmailTaken)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
	assert.Equal(t, []string{first.ID.String()}, appErr.EntityIDs)

	require.NoError(t, svc.Delete(ctx, first.ID))
	_, err = svc.Create(ctx, domain.CreateCustomerRequest{Name: "Acme 2", Email: "office@acme.test"})
	assert.NoError(t, err)
}

func TestUpdatePatchesPresentFields(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	customer, err := svc.Create(ctx, domain.CreateCustomerRequest{Name: "Acme", Email: "office@acme.test", Phone: "555"})
	require.NoError(t, err)
	other, err := svc.Create(ctx, domain.CreateCustomerRequest{Name: "Beta", Email: "beta@beta.test"})
	require.NoError(t, err)

	address := "1 Main St"
	updated, err := svc.Update(ctx, domain.UpdateCustomerRequest{ID: customer.ID, Address: &address})
	require.NoError(t, err)
	assert.Equal(t, "1 Main St", updated.Address)
	assert.Equal(t, "555", updated.Phone)
	assert.Equal(t, "Acme", updated.Name)

	taken := other.Email
	_, err = svc.Update(ctx, domain.UpdateCustomerRequest{ID: customer.ID, Email: &taken})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	_, err = svc.Update(ctx, domain.UpdateCustomerRequest{ID: snowflake.ID(42), Address: &address})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRefusedWhileJobsExist(t *testing.T) {
	svc, db, node := setup(t)
	ctx := context.Background()

	customer, err := svc.Create(ctx, domain.CreateCustomerRequest{Name: "Acme", Email: "office@acme.test"})
	require.NoError(t, err)
	require.NoError(t, db.Create(&jobdomain.Job{
		ID:         node.Generate(),
		CustomerID: customer.ID,
		Title:      "Replace boiler",
		JobType:    "Heating",
		Address:    "1 Main St",
		Price:      decimal.RequireFromString("100.00"),
		Status:     jobdomain.StatusNew,
		StartDate:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}).Error)

	err = svc.Delete(ctx, customer.ID)
	require.ErrorIs(t, err, domain.ErrHasOpenRecords)

	_, err = svc.GetByID(ctx, customer.ID)
	assert.NoError(t, err)
}

func TestListFiltersByName(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	for _, c := range []domain.CreateCustomerRequest{
		{Name: "Acme", Email: "office@acme.test"},
		{Name: "Beta", Email: "office@beta.test"},
		{Name: "Acme North", Email: "north@acme.test"},
	} {
		_, err := svc.Create(ctx, c)
		require.NoError(t, err)
	}

	resp, err := svc.List(ctx, domain.ListCustomerRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Customers, 3)

	resp, err = svc.List(ctx, domain.ListCustomerRequest{Name: "Acme"})
	require.NoError(t, err)
	assert.Len(t, resp.Customers, 2)

	resp, err = svc.List(ctx, domain.ListCustomerRequest{Email: "OFFICE@beta.test"})
	require.NoError(t, err)
	require.Len(t, resp.Customers, 1)
	assert.Equal(t, "Beta", resp.Customers[0].Name)
}

func TestStoreFailureIsLoggedWithRequestContext(t *testing.T) {
	db := dbtest.Open(t, migration.AutoMigrate)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	core, logs := observer.New(zapcore.InfoLevel)
	svc := New(Params{
		DB:    db,
		Log:   zap.New(core),
		GenID: node,
		Clock: clock.NewFakeClock(now),
		Repo:  repository.Provide(),
	})

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	ctx := principal.WithRequestID(principal.WithID(context.Background(), "ops@fieldbill"), "req-9")
	_, err = svc.GetByID(ctx, snowflake.ID(1))
	require.ErrorIs(t, err, apperr.ErrUnexpected)

	entries := logs.FilterMessage("customer operation failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "ops@fieldbill", fields["principal_id"])
	assert.Equal(t, "get", fields["op"])
}
