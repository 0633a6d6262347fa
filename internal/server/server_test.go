package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/fieldbill/internal/invoice/domain"
	jobdomain "github.com/smallbiznis/fieldbill/internal/job/domain"
	"github.com/smallbiznis/fieldbill/internal/observability"
	obsmetrics "github.com/smallbiznis/fieldbill/internal/observability/metrics"
	receiptdomain "github.com/smallbiznis/fieldbill/internal/receipt/domain"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type customerSvcMock struct{ mock.Mock }

func (m *customerSvcMock) Create(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(customerdomain.Customer), args.Error(1)
}

func (m *customerSvcMock) GetByID(ctx context.Context, id snowflake.ID) (customerdomain.Customer, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(customerdomain.Customer), args.Error(1)
}

func (m *customerSvcMock) List(ctx context.Context, req customerdomain.ListCustomerRequest) (customerdomain.ListCustomerResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(customerdomain.ListCustomerResponse), args.Error(1)
}

func (m *customerSvcMock) Update(ctx context.Context, req customerdomain.UpdateCustomerRequest) (customerdomain.Customer, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(customerdomain.Customer), args.Error(1)
}

func (m *customerSvcMock) Delete(ctx context.Context, id snowflake.ID) error {
	return m.Called(ctx, id).Error(0)
}

type jobSvcMock struct{ mock.Mock }

func (m *jobSvcMock) Create(ctx context.Context, req jobdomain.CreateJobRequest) (jobdomain.Job, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(jobdomain.Job), args.Error(1)
}

func (m *jobSvcMock) GetByID(ctx context.Context, id snowflake.ID) (jobdomain.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(jobdomain.Job), args.Error(1)
}

func (m *jobSvcMock) List(ctx context.Context, req jobdomain.ListJobsRequest) (jobdomain.ListJobsResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(jobdomain.ListJobsResponse), args.Error(1)
}

func (m *jobSvcMock) Update(ctx context.Context, req jobdomain.UpdateJobRequest) (jobdomain.Job, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(jobdomain.Job), args.Error(1)
}

func (m *jobSvcMock) UpdateStatus(ctx context.Context, req jobdomain.UpdateStatusRequest) (jobdomain.Job, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(jobdomain.Job), args.Error(1)
}

func (m *jobSvcMock) Delete(ctx context.Context, id snowflake.ID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *jobSvcMock) LoadForInvoicing(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) ([]jobdomain.Job, error) {
	args := m.Called(ctx, tx, ids)
	return args.Get(0).([]jobdomain.Job), args.Error(1)
}

func (m *jobSvcMock) MarkInvoiced(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) error {
	return m.Called(ctx, tx, ids, invoiceID, at).Error(0)
}

func (m *jobSvcMock) RemoveFromInvoice(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	return m.Called(ctx, tx, ids).Error(0)
}

type invoiceSvcMock struct{ mock.Mock }

func (m *invoiceSvcMock) invoice(args mock.Arguments) (invoicedomain.Invoice, error) {
	return args.Get(0).(invoicedomain.Invoice), args.Error(1)
}

func (m *invoiceSvcMock) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	return m.invoice(m.Called(ctx, req))
}

func (m *invoiceSvcMock) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return m.invoice(m.Called(ctx, id))
}

func (m *invoiceSvcMock) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(invoicedomain.ListInvoiceResponse), args.Error(1)
}

func (m *invoiceSvcMock) Update(ctx context.Context, req invoicedomain.UpdateInvoiceRequest) (invoicedomain.Invoice, error) {
	return m.invoice(m.Called(ctx, req))
}

func (m *invoiceSvcMock) Delete(ctx context.Context, id snowflake.ID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *invoiceSvcMock) MarkAsSent(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return m.invoice(m.Called(ctx, id))
}

func (m *invoiceSvcMock) MarkAsDelivered(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return m.invoice(m.Called(ctx, id))
}

func (m *invoiceSvcMock) MarkAsPaid(ctx context.Context, req invoicedomain.MarkAsPaidRequest) (invoicedomain.Invoice, error) {
	return m.invoice(m.Called(ctx, req))
}

func (m *invoiceSvcMock) Cancel(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return m.invoice(m.Called(ctx, id))
}

func (m *invoiceSvcMock) Send(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	return m.invoice(m.Called(ctx, id))
}

func (m *invoiceSvcMock) RenderPDF(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(io.Reader); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type receiptSvcMock struct{ mock.Mock }

func (m *receiptSvcMock) Create(ctx context.Context, req receiptdomain.CreateReceiptRequest) (receiptdomain.Receipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(receiptdomain.Receipt), args.Error(1)
}

func (m *receiptSvcMock) GetByID(ctx context.Context, id snowflake.ID) (receiptdomain.Receipt, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(receiptdomain.Receipt), args.Error(1)
}

func (m *receiptSvcMock) List(ctx context.Context, req receiptdomain.ListReceiptsRequest) (receiptdomain.ListReceiptsResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(receiptdomain.ListReceiptsResponse), args.Error(1)
}

func (m *receiptSvcMock) Delete(ctx context.Context, id snowflake.ID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *receiptSvcMock) Send(ctx context.Context, id snowflake.ID) (receiptdomain.Receipt, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(receiptdomain.Receipt), args.Error(1)
}

func (m *receiptSvcMock) RenderPDF(ctx context.Context, id snowflake.ID) (io.Reader, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(io.Reader), args.Error(1)
}

type harness struct {
	engine    *gin.Engine
	customers *customerSvcMock
	jobs      *jobSvcMock
	invoices  *invoiceSvcMock
	receipts  *receiptSvcMock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	httpMetrics, err := obsmetrics.NewHTTPMetricsWithRegistry(reg, reg)
	require.NoError(t, err)

	h := &harness{
		engine:    NewEngine(observability.Config{Environment: "test"}, httpMetrics),
		customers: &customerSvcMock{},
		jobs:      &jobSvcMock{},
		invoices:  &invoiceSvcMock{},
		receipts:  &receiptSvcMock{},
	}
	NewServer(ServerParams{
		Gin:         h.engine,
		CustomerSvc: h.customers,
		JobSvc:      h.jobs,
		InvoiceSvc:  h.invoices,
		ReceiptSvc:  h.receipts,
	})
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCreateInvoice(t *testing.T) {
	h := newHarness(t)
	customerID := snowflake.ID(11)
	jobID := snowflake.ID(21)

	h.invoices.On("Create", mock.Anything, mock.MatchedBy(func(req invoicedomain.CreateInvoiceRequest) bool {
		rate, set := req.VATRate.Get()
		return req.CustomerID == customerID &&
			len(req.JobIDs) == 1 && req.JobIDs[0] == jobID &&
			set && rate.Equal(decimal.RequireFromString("0.19")) &&
			!req.PaymentTermsDays.IsSet()
	})).Return(invoicedomain.Invoice{
		ID:            snowflake.ID(31),
		CustomerID:    customerID,
		InvoiceNumber: "INV-2026-0001",
		Status:        invoicedomain.StatusDraft,
		Total:         decimal.RequireFromString("119.00"),
	}, nil).Once()

	rec := h.do(http.MethodPost, "/api/invoices", `{"customer_id":"11","job_ids":["21"],"vat_rate":"0.19"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data invoicedomain.Invoice `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INV-2026-0001", resp.Data.InvoiceNumber)
	assert.Equal(t, "119", resp.Data.Total.String())
	h.invoices.AssertExpectations(t)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", invoicedomain.ErrInvoiceNotFound.WithEntities("31"), http.StatusNotFound, "invoice_not_found"},
		{"validation", invoicedomain.ErrNoJobs, http.StatusUnprocessableEntity, "no_jobs"},
		{"invalid state", invoicedomain.ErrInvoiceNotDraft, http.StatusConflict, "invoice_not_draft"},
		{"conflict", invoicedomain.ErrNumberConflict, http.StatusConflict, "invoice_number_conflict"},
		{"external", invoicedomain.ErrDeliveryFailed.Wrap(errors.New("relay down")), http.StatusBadGateway, "invoice_delivery_failed"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.invoices.On("Cancel", mock.Anything, snowflake.ID(31)).
				Return(invoicedomain.Invoice{}, tc.err).Once()

			rec := h.do(http.MethodPost, "/api/invoices/31/cancel", "")
			require.Equal(t, tc.status, rec.Code)
			payload := decodeError(t, rec)
			if tc.code != "" {
				assert.Equal(t, tc.code, payload.Code)
			}
			assert.NotContains(t, rec.Body.String(), "connection reset")
		})
	}
}

func TestValidationErrorNamesField(t *testing.T) {
	h := newHarness(t)
	h.customers.On("Create", mock.Anything, customerdomain.CreateCustomerRequest{Name: "Acme", Email: "nope"}).
		Return(customerdomain.Customer{}, customerdomain.ErrInvalidEmail).Once()

	rec := h.do(http.MethodPost, "/api/customers", `{"name":" Acme ","email":"nope"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "email", payload.Errors[0].Field)
}

func TestMalformedRequests(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/invoices/not-an-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/api/receipts", `{"customer_id":`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Code)

	rec = h.do(http.MethodPost, "/api/invoices/31/paid", `{"payment_date":"yesterday"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_payment_date", decodeError(t, rec).Code)

	rec = h.do(http.MethodGet, "/api/nothing-here", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkInvoicePaidParsesDate(t *testing.T) {
	h := newHarness(t)
	paid := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	h.invoices.On("MarkAsPaid", mock.Anything, invoicedomain.MarkAsPaidRequest{
		ID:            snowflake.ID(31),
		PaymentDate:   paid,
		PaymentMethod: "bank_transfer",
	}).Return(invoicedomain.Invoice{ID: 31, Status: invoicedomain.StatusPaid, PaymentDate: &paid}, nil).Once()

	rec := h.do(http.MethodPost, "/api/invoices/31/paid", `{"payment_date":"2026-03-12","payment_method":"bank_transfer"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	h.invoices.AssertExpectations(t)
}

func TestUpdateJobDistinguishesNullEndDate(t *testing.T) {
	h := newHarness(t)
	h.jobs.On("Update", mock.Anything, mock.MatchedBy(func(req jobdomain.UpdateJobRequest) bool {
		end, set := req.EndDate.Get()
		return req.ID == 41 && set && end == nil && !req.Title.IsSet()
	})).Return(jobdomain.Job{ID: 41}, nil).Once()

	rec := h.do(http.MethodPatch, "/api/jobs/41", `{"end_date":null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	h.jobs.AssertExpectations(t)
}

func TestDownloadReceiptPDF(t *testing.T) {
	h := newHarness(t)
	h.receipts.On("GetByID", mock.Anything, snowflake.ID(51)).
		Return(receiptdomain.Receipt{ID: 51, ReceiptNumber: "REC-2026-0001"}, nil).Once()
	h.receipts.On("RenderPDF", mock.Anything, snowflake.ID(51)).
		Return(io.Reader(bytes.NewReader([]byte("%PDF-1.7"))), nil).Once()

	rec := h.do(http.MethodGet, "/api/receipts/51/pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "REC-2026-0001.pdf")
	assert.Equal(t, "%PDF-1.7", rec.Body.String())
}

func TestDeleteReceipt(t *testing.T) {
	h := newHarness(t)
	h.receipts.On("Delete", mock.Anything, snowflake.ID(51)).Return(nil).Once()

	rec := h.do(http.MethodDelete, "/api/receipts/51", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	h.receipts.AssertExpectations(t)
}

func TestListReceiptsPassesPage(t *testing.T) {
	h := newHarness(t)
	customerID := snowflake.ID(11)
	h.receipts.On("List", mock.Anything, receiptdomain.ListReceiptsRequest{
		CustomerID: &customerID,
		PageToken:  "abc",
		PageSize:   2,
	}).Return(receiptdomain.ListReceiptsResponse{
		PageInfo: pagination.PageInfo{HasMore: true, NextPageToken: "def"},
		Receipts: []receiptdomain.Receipt{{ID: 51, ReceiptNumber: "REC-2026-0001"}},
	}, nil).Once()

	rec := h.do(http.MethodGet, "/api/receipts?customer_id=11&page_size=2&page_token=abc", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"next_page_token":"def"`)
	assert.Contains(t, rec.Body.String(), `"receipt_number":"REC-2026-0001"`)
	h.receipts.AssertExpectations(t)
}
